// Package memory is the lineage store: per-session append-only timelines,
// milestone ledgers, metadata snapshots, and the session DAG. It is the
// single source of truth the automation and the human both read. All
// on-disk files are plain structured text.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mjcarver/opsgate/internal/redact"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

const (
	timelineFile   = "timeline.jsonl"
	milestonesFile = "milestones.jsonl"
	metadataFile   = "metadata.yaml"
	indexFile      = "sessions.yaml"
	archivedDir    = "archived"
	forkTmpPrefix  = ".fork-"
)

var (
	ErrNoSession      = errors.New("unknown session")
	ErrSessionClosed  = errors.New("session is not active")
	ErrNoConfirmation = errors.New("permanent removal requires a confirmation token")
)

// Metadata is the durable per-session snapshot. The parent reference here
// is the source of truth for the session DAG; the index file is a derived,
// rebuildable cache.
type Metadata struct {
	ID         string    `yaml:"id"`
	Goal       string    `yaml:"goal"`
	Parent     string    `yaml:"parent,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
	Status     Status    `yaml:"status"`
	LastSynced uint64    `yaml:"last_synced_offset"`
}

// Hook is called after every successful append with a scrubbed copy of the
// entry. Hooks run off the write path; their failures never affect the
// primary log.
type Hook func(sessionID string, e Entry)

type session struct {
	mu       sync.Mutex // single-writer discipline per session
	meta     Metadata
	timeline *Timeline
	dir      string
}

// Store manages all sessions under one base directory.
type Store struct {
	mu       sync.Mutex
	base     string
	log      *zap.Logger
	sessions map[string]*session
	tokens   *ConfirmTokens
	hooks    []Hook
}

// Open loads every session directory under base and materializes the tree.
func Open(base string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		base:     base,
		log:      log,
		sessions: make(map[string]*session),
		tokens:   NewConfirmTokens(filepath.Join(base, ".removal_tokens.json"), DefaultConfirmTTL),
	}

	dirs, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("scan store dir: %w", err)
	}
	for _, d := range dirs {
		if d.IsDir() && strings.HasPrefix(d.Name(), forkTmpPrefix) {
			// Unfinished fork from a crashed process. The finished copy
			// would have been renamed into a session_ directory.
			if err := os.RemoveAll(filepath.Join(base, d.Name())); err != nil {
				return nil, fmt.Errorf("sweep unfinished fork: %w", err)
			}
			log.Warn("removed unfinished fork", zap.String("dir", d.Name()))
			continue
		}
		if !d.IsDir() || !strings.HasPrefix(d.Name(), "session_") {
			continue
		}
		sess, err := loadSession(filepath.Join(base, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", d.Name(), err)
		}
		s.sessions[sess.meta.ID] = sess
	}

	if err := s.writeIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// AddHook registers a post-append hook. Not safe to call concurrently with
// appends; register hooks before use.
func (s *Store) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

func loadSession(dir string) (*session, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	tl, err := OpenTimeline(filepath.Join(dir, timelineFile))
	if err != nil {
		return nil, err
	}
	return &session{meta: meta, timeline: tl, dir: dir}, nil
}

// CreateSession creates a fresh root session and returns its id.
func (s *Store) CreateSession(goal string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextIDLocked(goal)
	dir := filepath.Join(s.base, id)
	meta := Metadata{
		ID:        id,
		Goal:      goal,
		CreatedAt: time.Now().UTC(),
		Status:    StatusActive,
	}
	if err := writeMetadata(dir, meta); err != nil {
		return "", err
	}
	tl, err := OpenTimeline(filepath.Join(dir, timelineFile))
	if err != nil {
		return "", err
	}
	s.sessions[id] = &session{meta: meta, timeline: tl, dir: dir}
	if err := s.writeIndexLocked(); err != nil {
		return "", err
	}
	s.log.Info("session created", zap.String("session", id))
	return id, nil
}

// ForkHandle is the awaitable completion of a fork's bulk copy. The new
// session accepts no writes until Await returns.
type ForkHandle struct {
	done chan struct{}
	id   string
	err  error
}

// Await blocks until the copy completes and returns the new session id.
func (h *ForkHandle) Await(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.id, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Fork creates a new session as a full isolated copy of the parent's
// directory at fork time. The copy is a blocking bulk operation and runs
// off the control path; callers await the handle before using the fork.
// A parent id absent from the materialized tree is rejected, which makes
// cycles impossible to create.
func (s *Store) Fork(parentID, goal string) (*ForkHandle, error) {
	s.mu.Lock()
	parent, ok := s.sessions[parentID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSession, parentID)
	}
	if goal == "" {
		goal = parent.meta.Goal
	}
	id := s.nextIDLocked(goal)
	dir := filepath.Join(s.base, id)
	tmp := filepath.Join(s.base, forkTmpPrefix+id+".tmp")
	// Reserve the id before unlocking so concurrent creates can't take it.
	child := &session{dir: dir}
	child.mu.Lock()
	s.sessions[id] = child
	s.mu.Unlock()

	h := &ForkHandle{done: make(chan struct{}), id: id}
	go func() {
		defer close(h.done)
		defer child.mu.Unlock()

		fail := func(err error) {
			h.err = err
			os.RemoveAll(tmp)
			s.dropSession(id)
		}

		// The copy lands in a temp directory Open never loads; the child
		// only becomes visible on disk through the final rename, already
		// carrying its own metadata. A crash mid-fork can never leave a
		// session_ directory claiming the parent's identity.
		parent.mu.Lock()
		err := copyDir(parent.dir, tmp)
		parent.mu.Unlock()
		if err != nil {
			fail(fmt.Errorf("fork copy: %w", err))
			return
		}

		meta := Metadata{
			ID:        id,
			Goal:      goal,
			Parent:    parentID,
			CreatedAt: time.Now().UTC(),
			Status:    StatusActive,
		}
		if err := writeMetadata(tmp, meta); err != nil {
			fail(err)
			return
		}
		if err := os.Rename(tmp, dir); err != nil {
			fail(fmt.Errorf("publish fork: %w", err))
			return
		}
		syncDir(s.base)

		tl, err := OpenTimeline(filepath.Join(dir, timelineFile))
		if err != nil {
			h.err = err
			s.dropSession(id)
			return
		}
		child.meta = meta
		child.timeline = tl

		s.mu.Lock()
		err = s.writeIndexLocked()
		s.mu.Unlock()
		if err != nil {
			h.err = err
			return
		}
		s.log.Info("session forked",
			zap.String("session", id), zap.String("parent", parentID))
	}()
	return h, nil
}

func (s *Store) dropSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	os.RemoveAll(filepath.Join(s.base, id))
}

// Append writes an entry to the session's timeline and dispatches scrubbed
// copies to the registered hooks.
func (s *Store) Append(sessionID string, e Entry) (uint64, error) {
	sess, err := s.active(sessionID)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	seq, err := sess.timeline.Append(e)
	sess.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if len(s.hooks) > 0 {
		scrubbed := scrubEntry(e)
		scrubbed.Seq = seq
		for _, h := range s.hooks {
			go h(sessionID, scrubbed)
		}
	}
	return seq, nil
}

// ReadSince returns the session's entries with sequence number greater
// than offset.
func (s *Store) ReadSince(sessionID string, offset uint64) ([]Entry, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.timeline.ReadSince(offset)
}

// Seq returns the last sequence number of the session's timeline.
func (s *Store) Seq(sessionID string) (uint64, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	return sess.timeline.Seq(), nil
}

// SetLastSynced records how far the planner has ingested the timeline.
func (s *Store) SetLastSynced(sessionID string, offset uint64) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.meta.LastSynced = offset
	return writeMetadata(sess.dir, sess.meta)
}

// CommitMilestone appends a curated summary referencing timeline positions.
func (s *Store) CommitMilestone(sessionID, summary, finding string, refs []uint64) error {
	sess, err := s.active(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ms, err := readMilestones(filepath.Join(sess.dir, milestonesFile))
	if err != nil {
		return err
	}
	m := Milestone{
		Seq:     uint64(len(ms)) + 1,
		Time:    time.Now().UTC(),
		Summary: summary,
		Finding: finding,
		Refs:    refs,
	}
	data, err := marshalLine(m)
	if err != nil {
		return err
	}
	return atomicAppend(filepath.Join(sess.dir, milestonesFile), data)
}

// Milestones returns all milestones for the session in order.
func (s *Store) Milestones(sessionID string) ([]Milestone, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return readMilestones(filepath.Join(sess.dir, milestonesFile))
}

// RecentMilestones returns the last n milestones in order, the recap fed
// back into the planner's context.
func (s *Store) RecentMilestones(sessionID string, n int) ([]Milestone, error) {
	ms, err := s.Milestones(sessionID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(ms) > n {
		ms = ms[len(ms)-n:]
	}
	return ms, nil
}

// CloseSession marks the session closed. Its data stays readable.
func (s *Store) CloseSession(sessionID string) error {
	return s.setStatus(sessionID, StatusClosed)
}

// IssueRemovalToken returns a single-use confirmation token required for
// permanent removal of the session.
func (s *Store) IssueRemovalToken(sessionID string) (string, error) {
	if _, err := s.lookup(sessionID); err != nil {
		return "", err
	}
	return s.tokens.Issue(sessionID)
}

// Archive soft-deletes the session by moving its directory into the
// archived area. With permanent set, the data is removed outright; that
// path requires a valid confirmation token and is refused without one.
func (s *Store) Archive(sessionID string, permanent bool, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}

	if permanent {
		if err := s.tokens.Confirm(token, sessionID); err != nil {
			return fmt.Errorf("%w: %v", ErrNoConfirmation, err)
		}
		if err := os.RemoveAll(sess.dir); err != nil {
			return fmt.Errorf("remove session: %w", err)
		}
		delete(s.sessions, sessionID)
		s.log.Warn("session permanently removed", zap.String("session", sessionID))
		return s.writeIndexLocked()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	dst := filepath.Join(s.base, archivedDir, sessionID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	sess.meta.Status = StatusArchived
	if err := writeMetadata(sess.dir, sess.meta); err != nil {
		return err
	}
	if err := os.Rename(sess.dir, dst); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	sess.dir = dst
	delete(s.sessions, sessionID)
	s.log.Info("session archived", zap.String("session", sessionID))
	return s.writeIndexLocked()
}

// Node is one session in the materialized DAG.
type Node struct {
	Meta     Metadata
	Children []*Node
}

// Tree materializes the session DAG from the durable parent references.
func (s *Store) Tree() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make(map[string]*Node, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.timeline == nil {
			continue // fork still copying
		}
		nodes[id] = &Node{Meta: sess.meta}
	}
	var roots []*Node
	for _, n := range nodes {
		if p, ok := nodes[n.Meta.Parent]; ok {
			p.Children = append(p.Children, n)
		} else {
			roots = append(roots, n)
		}
	}
	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return roots
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Meta.ID < nodes[j].Meta.ID })
}

// Sessions lists all live sessions ordered by id.
func (s *Store) Sessions() []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Metadata, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.timeline == nil {
			continue
		}
		out = append(out, sess.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metadata returns the session's current metadata snapshot.
func (s *Store) Metadata(sessionID string) (Metadata, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return Metadata{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.meta, nil
}

// Verify walks the session's hash chain and reports the first break.
func (s *Store) Verify(sessionID string) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.timeline.Verify()
}

// Export renders the full timeline as scrubbed, human-readable text. The
// on-disk log keeps full fidelity; only the exported copy is redacted.
func (s *Store) Export(sessionID string) (string, error) {
	entries, err := s.ReadSince(sessionID, 0)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		e = scrubEntry(e)
		fmt.Fprintf(&b, "[%d] %s %s/%s", e.Seq, e.Time.Format(time.RFC3339), e.Actor, e.Kind)
		if e.Command != "" {
			fmt.Fprintf(&b, " %s (%s)", e.Command, e.Tier)
		}
		if e.Text != "" {
			fmt.Fprintf(&b, " %s", e.Text)
		}
		if e.Outcome != "" {
			fmt.Fprintf(&b, " -> %s", e.Outcome)
		}
		b.WriteByte('\n')
		if e.Output != "" {
			b.WriteString(indent(e.Output))
		}
	}
	return b.String(), nil
}

func (s *Store) setStatus(sessionID string, st Status) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.meta.Status = st
	err = writeMetadata(sess.dir, sess.meta)
	sess.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeIndexLocked()
}

func (s *Store) lookup(sessionID string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok || sess.timeline == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	return sess, nil
}

func (s *Store) active(sessionID string) (*session, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.meta.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}
	return sess, nil
}

var idPattern = regexp.MustCompile(`^session_(\d+)_`)

// nextIDLocked allocates the next session id. Ids are stable, human
// legible, and ordered by creation: session_NNN_DATE_SLUG. Archived
// sessions count toward the max so ids are never reused.
func (s *Store) nextIDLocked(goal string) string {
	max := 0
	scan := func(name string) {
		if m := idPattern.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	for id := range s.sessions {
		scan(id)
	}
	if dirs, err := os.ReadDir(filepath.Join(s.base, archivedDir)); err == nil {
		for _, d := range dirs {
			scan(d.Name())
		}
	}
	return fmt.Sprintf("session_%03d_%s_%s",
		max+1, time.Now().UTC().Format("2006-01-02"), slugify(goal))
}

type indexEntry struct {
	ID      string    `yaml:"id"`
	Status  Status    `yaml:"status"`
	Parent  string    `yaml:"parent,omitempty"`
	Goal    string    `yaml:"goal"`
	Created time.Time `yaml:"created_at"`
}

// writeIndexLocked rewrites the process-wide index file. The index is a
// derived cache of the per-session metadata, never the source of truth.
func (s *Store) writeIndexLocked() error {
	entries := make([]indexEntry, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.timeline == nil {
			continue
		}
		entries = append(entries, indexEntry{
			ID:      sess.meta.ID,
			Status:  sess.meta.Status,
			Parent:  sess.meta.Parent,
			Goal:    sess.meta.Goal,
			Created: sess.meta.CreatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	data, err := yaml.Marshal(map[string][]indexEntry{"sessions": entries})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return AtomicWrite(filepath.Join(s.base, indexFile), data)
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return AtomicWrite(filepath.Join(dir, metadataFile), data)
}

func scrubEntry(e Entry) Entry {
	e.Command = redact.Scrub(e.Command)
	e.Observation = redact.Scrub(e.Observation)
	e.Thought = redact.Scrub(e.Thought)
	e.Output = redact.Scrub(e.Output)
	e.Text = redact.Scrub(e.Text)
	e.RawInput = redact.Scrub(e.RawInput)
	return e
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if rel == "." {
				return os.MkdirAll(dst, 0o700)
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o700)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return AtomicWrite(filepath.Join(dst, rel), data)
	})
}

func slugify(goal string) string {
	goal = strings.ToLower(goal)
	var b strings.Builder
	lastDash := true
	for _, r := range goal {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 24 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "session"
	}
	return slug
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("    ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}
