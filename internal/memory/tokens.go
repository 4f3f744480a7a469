package memory

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const DefaultConfirmTTL = 10 * time.Minute

// ConfirmTokens manages time-limited, single-use confirmation tokens for
// permanent session removal. Tokens are persisted so the issue and the
// confirmation can happen in different process invocations; a token is
// bound to one session id and consumed on first use regardless of outcome.
type ConfirmTokens struct {
	mu   sync.Mutex
	path string
	ttl  time.Duration
}

type confirmEntry struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewConfirmTokens(path string, ttl time.Duration) *ConfirmTokens {
	return &ConfirmTokens{path: path, ttl: ttl}
}

// Issue generates a hex-encoded 128-bit token bound to sessionID.
func (c *ConfirmTokens) Issue(sessionID string) (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, err := c.load()
	if err != nil {
		return "", err
	}
	tokens[token] = confirmEntry{
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(c.ttl),
	}
	if err := c.save(tokens); err != nil {
		return "", err
	}
	return token, nil
}

// Confirm validates and consumes the token for the given session.
func (c *ConfirmTokens) Confirm(token, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, err := c.load()
	if err != nil {
		return err
	}
	entry, ok := tokens[token]
	if !ok {
		return errors.New("unknown or expired confirmation token")
	}

	// Consume immediately, single use regardless of outcome.
	delete(tokens, token)
	if err := c.save(tokens); err != nil {
		return err
	}

	if time.Now().After(entry.ExpiresAt) {
		return errors.New("confirmation token expired")
	}
	if entry.SessionID != sessionID {
		return errors.New("confirmation token session mismatch")
	}
	return nil
}

func (c *ConfirmTokens) load() (map[string]confirmEntry, error) {
	tokens := make(map[string]confirmEntry)
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return tokens, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}
	// Expired tokens are dropped on load.
	now := time.Now()
	for token, entry := range tokens {
		if now.After(entry.ExpiresAt) {
			delete(tokens, token)
		}
	}
	return tokens, nil
}

func (c *ConfirmTokens) save(tokens map[string]confirmEntry) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	return AtomicWrite(c.path, data)
}
