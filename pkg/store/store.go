// Package store holds the replicated application document: tasks, lists,
// per-user presence records and room metadata, all inside one automerge
// document so that concurrent offline edits merge without coordination.
//
// Conflict behaviour is delegated to the automerge substrate: concurrent
// edits to disjoint fields both survive; concurrent writes to the same
// scalar resolve deterministically last-writer-wins with the actor id as
// the final tie-break, so every replica converges to the same value
// regardless of delivery order. Deleting an entity wins over a concurrent
// edit inside it: the orphaned edit is discarded without error.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/driftsync/driftlist/pkg/notify"
)

// ErrEntityNotFound is returned when a mutation references an entity that
// is not in the document. This is a caller bug, not a runtime condition.
var ErrEntityNotFound = errors.New("store: entity not found")

// ErrClosed is returned by mutations against a torn-down store, e.g. a
// stale callback firing after a room switch. Callers may ignore it; the
// mutation is a no-op.
var ErrClosed = errors.New("store: closed")

type subscription struct {
	path string
	fn   func(ChangeSet)
}

// Store is one replica of the shared document. It is the only authorized
// mutator of its state: all writes funnel through its methods, which apply
// synchronously in memory and notify observers once per logical change
// batch. Propagation to other replicas happens asynchronously through sync
// states handed out by NewSyncState.
//
// A Store is explicitly constructed and explicitly closed; switching rooms
// tears the old instance down and builds a new one.
type Store struct {
	mu      sync.Mutex
	doc     *automerge.Doc
	closed  bool
	snap    *Snapshot
	subs    map[int]subscription
	nextSub int

	// now is swappable for tests.
	now func() time.Time

	notifier notify.Notifier
}

// New returns an empty store. The actor string (typically the local user
// id) seeds the document's actor id, which doubles as the last-writer-wins
// tie-break.
func New(actor string) *Store {
	s, err := Load(nil, actor)
	if err != nil {
		// Load without bytes cannot fail.
		panic(err)
	}
	return s
}

// Load rebuilds a store from a saved document, or an empty one when save
// is nil.
func Load(save []byte, actor string) (*Store, error) {
	var doc *automerge.Doc
	if len(save) > 0 {
		d, err := automerge.Load(save)
		if err != nil {
			return nil, fmt.Errorf("failed to load saved document: %w", err)
		}
		doc = d
	} else {
		doc = automerge.New()
	}
	if actor != "" {
		if err := doc.SetActorID(hex.EncodeToString([]byte(actor))); err != nil {
			return nil, fmt.Errorf("failed to set actor id: %w", err)
		}
	}
	snap, err := materialize(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize document: %w", err)
	}
	return &Store{
		doc:      doc,
		snap:     snap,
		subs:     map[int]subscription{},
		now:      time.Now,
		notifier: notify.Log,
	}, nil
}

// SetNotifier replaces the sink for the rare user-visible failures the
// store raises itself (order-key repair failures).
func (s *Store) SetNotifier(n notify.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n != nil {
		s.notifier = n
	}
}

// Close tears the store down. Further mutations are no-ops returning
// ErrClosed; observers are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = map[int]subscription{}
}

// Snapshot returns the current materialized state. The returned value is
// shared and must not be modified.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Task returns one task from the current snapshot.
func (s *Store) Task(id string) (Task, bool) {
	t, ok := s.Snapshot().Tasks[id]
	return t, ok
}

// Save serializes the full document for the durable local replica.
func (s *Store) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// Heads returns the document's current change heads.
func (s *Store) Heads() []automerge.ChangeHash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Heads()
}

// Observe registers fn for every change batch that touches path or any of
// its descendants ("" observes the whole document, "tasks" all tasks,
// "tasks/<id>" one of them). It returns an unsubscribe function. Callbacks
// run synchronously after the batch is applied, and never for unrelated
// mutations elsewhere in the document.
func (s *Store) Observe(path string, fn func(ChangeSet)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscription{path: path, fn: fn}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// notifyLocked re-materializes, diffs against the previous snapshot and
// fans the change set out to matching observers. Caller holds s.mu.
func (s *Store) notifyLocked() error {
	next, err := materialize(s.doc)
	if err != nil {
		return err
	}
	cs := diff(s.snap, next)
	s.snap = next
	if len(cs) == 0 {
		return nil
	}
	// Copy out so observers can unsubscribe from within the callback.
	targets := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if cs.Touches(sub.path) || sub.path == "" {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range targets {
		sub.fn(cs)
	}
	s.mu.Lock()
	return nil
}

// entityMapLocked resolves a logical entity path ("tasks/<id>",
// "lists/<id>", "presence/<id>", "meta") to its automerge map.
func (s *Store) entityMapLocked(path string) (*automerge.Map, error) {
	if path == "meta" {
		return s.doc.RootMap(), nil
	}
	kind, id, ok := strings.Cut(path, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: malformed path %q", ErrEntityNotFound, path)
	}
	var key string
	switch kind {
	case "tasks":
		key = taskKeyPrefix + id
	case "lists":
		key = listKeyPrefix + id
	case "presence":
		key = userKeyPrefix + id
	default:
		return nil, fmt.Errorf("%w: unknown collection in path %q", ErrEntityNotFound, path)
	}
	v, err := s.doc.RootMap().Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil || v.Kind() != automerge.KindMap {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, path)
	}
	return v.Map(), nil
}

// Mutate applies a local edit to the entity at path. The edit is applied
// synchronously and observers are notified before Mutate returns; remote
// propagation is asynchronous. A path referencing a missing entity fails
// with ErrEntityNotFound.
func (s *Store) Mutate(path string, fn func(m *automerge.Map) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, err := s.entityMapLocked(path)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.commitLocked("mutate " + path)
}

func (s *Store) commitLocked(msg string) error {
	if _, err := s.doc.Commit(msg); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return s.notifyLocked()
}

// NewSyncState returns a fresh sync state for one peer connection. All use
// of the returned state must go through ReceiveSyncMessage and
// GenerateSyncMessage so that document access stays serialized.
func (s *Store) NewSyncState() *automerge.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return automerge.NewSyncState(s.doc)
}

// ReceiveSyncMessage applies one incoming sync-protocol message and
// notifies observers of any resulting changes as a single batch. Applying
// a message the document has already seen is harmless: the diff is empty
// and no notification fires.
func (s *Store) ReceiveSyncMessage(ss *automerge.SyncState, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := ss.ReceiveMessage(msg); err != nil {
		return fmt.Errorf("failed to receive sync message: %w", err)
	}
	return s.notifyLocked()
}

// GenerateSyncMessage produces the next outgoing sync-protocol message for
// the peer, if any.
func (s *Store) GenerateSyncMessage(ss *automerge.SyncState) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	msg, valid := ss.GenerateMessage()
	if !valid || msg == nil {
		return nil, false
	}
	return msg.Bytes(), true
}

// SetClock overrides the store's wall clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
