// Package trace ships scrubbed timeline events to an external
// observability endpoint. The sink is best effort: when the endpoint is
// unreachable it degrades to a local no-op and never blocks or fails the
// primary write path.
package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/memory"
)

const defaultTimeout = 2 * time.Second

type event struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Entry     memory.Entry `json:"entry"`
}

// Sink posts events to an HTTP endpoint.
type Sink struct {
	log      *zap.Logger
	endpoint string
	client   *http.Client
}

// NewSink creates a sink for the endpoint. An empty endpoint disables
// sending entirely.
func NewSink(log *zap.Logger, endpoint string, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sink{
		log:      log,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Hook adapts the sink to the store's post-append hook. The store hands
// hooks scrubbed copies, so nothing sensitive reaches the wire.
func (s *Sink) Hook() memory.Hook {
	return func(sessionID string, e memory.Entry) {
		s.Send(sessionID, e)
	}
}

// Send posts one event. Failures are logged locally and swallowed.
func (s *Sink) Send(sessionID string, e memory.Entry) {
	if s.endpoint == "" {
		return
	}
	body, err := json.Marshal(event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Entry:     e,
	})
	if err != nil {
		s.log.Debug("trace marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.log.Debug("trace request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("trace sink unreachable", zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		s.log.Debug("trace sink rejected event", zap.Int("status", resp.StatusCode))
	}
}
