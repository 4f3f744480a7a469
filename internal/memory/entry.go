package memory

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// Actor identifies who produced a timeline entry.
type Actor string

const (
	ActorHuman     Actor = "human"
	ActorAutomated Actor = "automated"
)

// Kind identifies the type of a timeline entry.
type Kind string

const (
	KindProposal     Kind = "proposal"     // planner proposed a command
	KindClassified   Kind = "classified"   // classifier tagged the proposal
	KindAnnouncement Kind = "announcement" // auto-tier release notice
	KindDecision     Kind = "decision"     // human approval decision
	KindNegotiation  Kind = "negotiation"  // alternative or justification offered
	KindExecution    Kind = "execution"    // execution boundary result
	KindNote         Kind = "note"         // free-text human entry
	KindSignal       Kind = "signal"       // drift/loop/turn-limit advisory
)

// Entry is a single timeline record. Entries are append-only: once written
// they are never edited or removed, and each carries a hash chained to its
// predecessor so tampering and gaps are detectable.
type Entry struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"ts"`
	PrevHash string    `json:"prev_hash"`
	Actor    Actor     `json:"actor"`
	Kind     Kind      `json:"kind"`

	Tool    string `json:"tool,omitempty"`
	Command string `json:"command,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Pattern string `json:"pattern,omitempty"`

	Observation string `json:"observation,omitempty"`
	Thought     string `json:"thought,omitempty"`
	Output      string `json:"output,omitempty"`
	Text        string `json:"text,omitempty"` // free text for human entries

	RawInput string   `json:"raw_input,omitempty"` // verbatim human response
	Intent   string   `json:"intent,omitempty"`    // resolved approval intent
	Outcome  string   `json:"outcome,omitempty"`   // executed, skipped, redirected
	ExitCode int      `json:"exit_code,omitempty"`
	Duration float64  `json:"duration_ms,omitempty"`
	Refs     []uint64 `json:"refs,omitempty"` // timeline seqs cited as evidence

	Hash string `json:"hash"`
}

// Milestone is a curated, low-frequency summary referencing timeline
// positions. Written only on an explicit confirmed-finding event.
type Milestone struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"ts"`
	Summary string    `json:"summary"`
	Finding string    `json:"finding,omitempty"`
	Refs    []uint64  `json:"refs,omitempty"`
}

const genesisInput = "opsgate-genesis"

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return fmt.Sprintf("%x", h)
}

// computeHash returns the SHA-256 of the entry with its Hash field empty.
func computeHash(e Entry) string {
	e.Hash = ""
	data, _ := json.Marshal(e)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
