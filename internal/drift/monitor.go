package drift

import (
	"sync"

	"go.uber.org/zap"
)

// Signal is an advisory emitted by Check. Signals never block execution.
type Signal string

const (
	SignalOK        Signal = "ok"
	SignalDrift     Signal = "drift"
	SignalLoop      Signal = "loop_detected"
	SignalTurnLimit Signal = "turn_limit"
)

// Monitor tracks per-session turn counts, repeated commands, and the last
// observed environment fingerprint.
type Monitor struct {
	log        *zap.Logger
	turnLimit  int
	loopWindow int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	turns       int
	lastCommand string
	repeats     int
	lastHash    string
}

// NewMonitor creates a monitor. turnLimit bounds turns per session before
// user intervention is forced; loopWindow is how many identical proposals
// in a row, with no state change between them, count as a loop.
func NewMonitor(log *zap.Logger, turnLimit, loopWindow int) *Monitor {
	return &Monitor{
		log:        log,
		turnLimit:  turnLimit,
		loopWindow: loopWindow,
		sessions:   make(map[string]*sessionState),
	}
}

// Observe records a proposed command for the session.
func (m *Monitor) Observe(sessionID, command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	st.turns++
	if command == st.lastCommand {
		st.repeats++
	} else {
		st.lastCommand = command
		st.repeats = 1
	}
}

// RecordStateChange resets the loop window; identical commands separated
// by a state change are legitimate re-runs, not a loop.
func (m *Monitor) RecordStateChange(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	st.lastCommand = ""
	st.repeats = 0
}

// Check compares the session against the fresh probe and returns the most
// urgent signal: turn limit, then loop, then drift, then ok.
func (m *Monitor) Check(sessionID string, probe Snapshot) Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)

	if m.turnLimit > 0 && st.turns >= m.turnLimit {
		m.log.Warn("turn limit reached",
			zap.String("session", sessionID), zap.Int("turns", st.turns))
		return SignalTurnLimit
	}
	if m.loopWindow > 0 && st.repeats >= m.loopWindow {
		m.log.Warn("command loop detected",
			zap.String("session", sessionID),
			zap.String("command", st.lastCommand),
			zap.Int("repeats", st.repeats))
		return SignalLoop
	}

	hash := probe.Hash()
	if st.lastHash != "" && st.lastHash != hash {
		st.lastHash = hash
		m.log.Info("environment drift detected", zap.String("session", sessionID))
		return SignalDrift
	}
	st.lastHash = hash
	return SignalOK
}

// ResetTurns clears the turn counter after explicit user intervention.
func (m *Monitor) ResetTurns(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(sessionID).turns = 0
}

func (m *Monitor) state(sessionID string) *sessionState {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		m.sessions[sessionID] = st
	}
	return st
}
