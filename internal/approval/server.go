package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Server exposes pending decisions over a unix socket so a separate
// approver process can fetch and answer them. It implements Surface.
// Decisions from concurrent sessions queue in arrival order; one session
// waiting on a human never blocks another session's gate.
type Server struct {
	log  *zap.Logger
	path string

	mu      sync.Mutex
	pending []*pendingReq
	onReset func(sessionID string)
	ln      net.Listener
	done    chan struct{}
}

type pendingReq struct {
	decision PendingDecision
	respCh   chan string
}

func NewServer(log *zap.Logger, socketPath string) *Server {
	return &Server{log: log, path: socketPath, done: make(chan struct{})}
}

// Start listens on the socket and serves approver connections until Close.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := cleanStaleSocket(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go s.serve(ln)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Error("approval accept failed", zap.Error(err))
			}
			return
		}
		go func() {
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

// Close stops the server and removes the socket file.
func (s *Server) Close() error {
	close(s.done)
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	os.Remove(s.path)
	return nil
}

// OnReset registers the handler for turn-counter reset frames. Register
// before approvers connect.
func (s *Server) OnReset(fn func(sessionID string)) {
	s.mu.Lock()
	s.onReset = fn
	s.mu.Unlock()
}

// Request enqueues the decision and blocks until an approver answers or
// ctx is done.
func (s *Server) Request(ctx context.Context, p PendingDecision) (string, error) {
	req := &pendingReq{decision: p, respCh: make(chan string, 1)}

	s.mu.Lock()
	s.pending = append(s.pending, req)
	s.mu.Unlock()
	defer s.remove(req)

	s.log.Info("awaiting approval",
		zap.String("session", p.SessionID),
		zap.String("command", p.Command),
		zap.String("tier", p.Tier))

	select {
	case resp := <-req.respCh:
		return resp, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-s.done:
		return "", fmt.Errorf("%w: surface closed", ErrCancelled)
	}
}

func (s *Server) handle(conn net.Conn) {
	tag, payload, err := ReadFrame(conn)
	if err != nil {
		return
	}

	switch tag {
	case TagFetch:
		s.mu.Lock()
		var req *pendingReq
		if len(s.pending) > 0 {
			req = s.pending[0]
		}
		s.mu.Unlock()
		if req == nil {
			WriteFrame(conn, TagPending, nil)
			return
		}
		WriteJSON(conn, TagPending, req.decision)

	case TagResponse:
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			WriteJSON(conn, TagAck, Ack{Error: fmt.Sprintf("bad response: %v", err)})
			return
		}
		s.mu.Lock()
		var req *pendingReq
		for _, r := range s.pending {
			if r.decision.ID == resp.ID {
				req = r
				break
			}
		}
		s.mu.Unlock()
		if req == nil {
			WriteJSON(conn, TagAck, Ack{Error: "no matching pending decision"})
			return
		}
		select {
		case req.respCh <- resp.Text:
			// Dequeue now so the next fetch sees the next decision
			// without waiting for the requester to wake.
			s.remove(req)
			WriteJSON(conn, TagAck, Ack{OK: true})
		default:
			WriteJSON(conn, TagAck, Ack{Error: "decision already answered"})
		}

	case TagReset:
		var reset Reset
		if err := json.Unmarshal(payload, &reset); err != nil {
			WriteJSON(conn, TagAck, Ack{Error: fmt.Sprintf("bad reset: %v", err)})
			return
		}
		s.mu.Lock()
		fn := s.onReset
		s.mu.Unlock()
		if fn == nil {
			WriteJSON(conn, TagAck, Ack{Error: "reset not supported"})
			return
		}
		fn(reset.SessionID)
		WriteJSON(conn, TagAck, Ack{OK: true})

	default:
		WriteJSON(conn, TagAck, Ack{Error: fmt.Sprintf("unexpected frame 0x%02x", tag)})
	}
}

func (s *Server) remove(req *pendingReq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.pending {
		if r == req {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// cleanStaleSocket removes a leftover socket file when nothing is
// listening on it.
func cleanStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	conn, err := net.Dial("unix", path)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is already in use", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
