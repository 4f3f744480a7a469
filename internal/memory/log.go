package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ErrCorrupt reports a broken hash chain or a malformed timeline record.
// Corruption is reported, never silently repaired.
var ErrCorrupt = errors.New("timeline corrupt")

// Timeline is the append-only, hash-chained record of one session. Each
// line of the backing file is one JSON entry; a per-entry byte offset
// index built at open time keeps reads from a known sequence number
// proportional to the number of entries after it, not to total history.
type Timeline struct {
	mu       sync.Mutex
	path     string
	seq      uint64
	prevHash string
	offsets  []int64 // offsets[i] is the byte offset of the entry with Seq i+1
	size     int64
}

// OpenTimeline opens or creates the timeline file at path and resumes the
// hash chain from its last entry.
func OpenTimeline(path string) (*Timeline, error) {
	t := &Timeline{
		path:     path,
		prevHash: genesisHash(),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}

	var off int64
	for len(data) > 0 {
		n := lineLen(data)
		line := data[:n]
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%w: entry after seq %d: %v", ErrCorrupt, t.seq, err)
		}
		if e.Seq != t.seq+1 {
			return nil, fmt.Errorf("%w: seq %d follows seq %d", ErrCorrupt, e.Seq, t.seq)
		}
		t.offsets = append(t.offsets, off)
		t.seq = e.Seq
		t.prevHash = e.Hash

		adv := n
		if adv < len(data) {
			adv++ // newline
		}
		off += int64(adv)
		data = data[adv:]
	}
	t.size = off
	return t, nil
}

// Append assigns the entry its sequence number, timestamp, and chain
// hashes, then persists it. The entry's Seq is returned.
func (t *Timeline) Append(e Entry) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.Seq = t.seq + 1
	e.Time = time.Now().UTC()
	e.PrevHash = t.prevHash
	e.Hash = computeHash(e)

	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	if err := atomicAppend(t.path, data); err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}

	t.offsets = append(t.offsets, t.size)
	t.size += int64(len(data))
	t.seq = e.Seq
	t.prevHash = e.Hash
	return e.Seq, nil
}

// Seq returns the sequence number of the last entry, or 0 when empty.
func (t *Timeline) Seq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// ReadSince returns all entries with sequence number greater than offset,
// in increasing order. Cost is proportional to the entries returned.
func (t *Timeline) ReadSince(offset uint64) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset >= t.seq {
		return nil, nil
	}
	start := t.offsets[offset]

	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek timeline: %w", err)
	}

	entries := make([]Entry, 0, t.seq-offset)
	dec := json.NewDecoder(f)
	want := offset + 1
	for want <= t.seq {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: decode seq %d: %v", ErrCorrupt, want, err)
		}
		if e.Seq != want {
			return nil, fmt.Errorf("%w: expected seq %d, found %d", ErrCorrupt, want, e.Seq)
		}
		entries = append(entries, e)
		want++
	}
	return entries, nil
}

// Verify walks the full chain from genesis and reports the first break.
func (t *Timeline) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read timeline: %w", err)
	}

	prev := genesisHash()
	var seq uint64
	for len(data) > 0 {
		n := lineLen(data)
		var e Entry
		if err := json.Unmarshal(data[:n], &e); err != nil {
			return fmt.Errorf("%w: entry after seq %d: %v", ErrCorrupt, seq, err)
		}
		if e.Seq != seq+1 {
			return fmt.Errorf("%w: seq %d follows seq %d", ErrCorrupt, e.Seq, seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: seq %d prev_hash mismatch", ErrCorrupt, e.Seq)
		}
		if computeHash(e) != e.Hash {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrCorrupt, e.Seq)
		}
		prev = e.Hash
		seq = e.Seq

		adv := n
		if adv < len(data) {
			adv++
		}
		data = data[adv:]
	}
	return nil
}

// Path returns the backing file path.
func (t *Timeline) Path() string {
	return t.path
}

func lineLen(data []byte) int {
	for i, b := range data {
		if b == '\n' {
			return i
		}
	}
	return len(data)
}
