// Package approval is the human approval surface: it presents pending
// decisions and collects free-text responses, either on a terminal or over
// a unix socket to a separate approver process.
package approval

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Frame tags. Approver-to-gate tags are in the 0x01-0x0F range,
// gate-to-approver tags in the 0x10-0x1F range.
const (
	TagFetch    byte = 0x01 // A→G: ask for the oldest pending decision
	TagResponse byte = 0x02 // A→G: JSON-encoded Response
	TagReset    byte = 0x03 // A→G: JSON-encoded Reset

	TagPending byte = 0x10 // G→A: JSON-encoded PendingDecision; empty payload means none
	TagAck     byte = 0x11 // G→A: JSON-encoded Ack
)

// PendingDecision is what the surface presents to the human.
type PendingDecision struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Tool        string `json:"tool"`
	Command     string `json:"command"`
	Tier        string `json:"tier"`
	Consequence string `json:"consequence"`
	Reversible  bool   `json:"reversible"`

	// Set on the re-prompt after a denial.
	Alternative   string `json:"alternative,omitempty"`
	Justification string `json:"justification,omitempty"`
}

// Response carries the human's raw text back to the gate.
type Response struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Reset asks the serving process to clear a session's turn counter after
// the operator has reviewed it.
type Reset struct {
	SessionID string `json:"session_id"`
}

// Ack reports whether a response was accepted.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WriteFrame writes a tagged frame: [tag:1][len:4 big-endian][payload:len].
func WriteFrame(w io.Writer, tag byte, payload []byte) error {
	var header [5]byte
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one tagged frame, returning the tag and payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return tag, payload, nil
}

// WriteJSON writes a tagged frame with a JSON-encoded payload.
func WriteJSON(w io.Writer, tag byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return WriteFrame(w, tag, data)
}
