package approval

import (
	"encoding/json"
	"fmt"
	"net"
)

// Fetch returns the currently pending decision, or nil when there is none.
func Fetch(socketPath string) (*PendingDecision, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect approval socket: %w", err)
	}
	defer conn.Close()

	if err := WriteFrame(conn, TagFetch, nil); err != nil {
		return nil, err
	}
	tag, payload, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	if tag != TagPending {
		return nil, fmt.Errorf("unexpected frame 0x%02x", tag)
	}
	if len(payload) == 0 {
		return nil, nil
	}
	var p PendingDecision
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	return &p, nil
}

// Respond delivers the human's text for the identified decision.
func Respond(socketPath, id, text string) error {
	return acked(socketPath, TagResponse, Response{ID: id, Text: text})
}

// ResetTurns asks the serving process to clear the session's turn counter.
func ResetTurns(socketPath, sessionID string) error {
	return acked(socketPath, TagReset, Reset{SessionID: sessionID})
}

func acked(socketPath string, tag byte, v any) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect approval socket: %w", err)
	}
	defer conn.Close()

	if err := WriteJSON(conn, tag, v); err != nil {
		return err
	}
	got, payload, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if got != TagAck {
		return fmt.Errorf("unexpected frame 0x%02x", got)
	}
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("request rejected: %s", ack.Error)
	}
	return nil
}
