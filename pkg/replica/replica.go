// Package replica persists the local document so state survives reloads
// and offline periods. Saves go into a sqlite file keyed by room name;
// when local storage is unavailable the replica degrades to memory-only
// for the session with a one-time warning, never blocking sync or
// mutation.
package replica

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/driftsync/driftlist/pkg/debounce"
	"github.com/driftsync/driftlist/pkg/notify"
)

const persistDebounce = 500 * time.Millisecond
const persistMaxWait = 5 * time.Second

// Replica is the durable local copy of one room's document.
type Replica struct {
	room string

	mu      sync.Mutex
	db      *sql.DB
	pending []byte
	deb     *debounce.Debouncer
	closed  bool
}

// Open prepares local persistence for a room. A failure to open or
// initialize the database is not fatal: the returned replica operates
// in-memory and the condition surfaces once through the notifier.
func Open(path, room string, notifier notify.Notifier) *Replica {
	if notifier == nil {
		notifier = notify.Log
	}
	r := &Replica{
		room: room,
		deb:  debounce.New(persistDebounce, persistMaxWait),
	}
	if path == "" {
		// Session-scoped storage only; still exercises the same paths.
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err == nil {
		_, err = db.Exec(
			`CREATE TABLE IF NOT EXISTS replicas (
			room text not null primary key,
			content text not null
			)`,
		)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		notifier.Notify(notify.Notification{
			Title:    "Local storage unavailable",
			Message:  "Changes will not survive a restart: " + err.Error(),
			Severity: notify.SeverityWarning,
		})
		return r
	}
	r.db = db
	return r
}

// InMemory reports whether the replica is running without durable storage.
func (r *Replica) InMemory() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db == nil
}

// Load returns the last persisted document save for the room, or nil when
// none exists.
func (r *Replica) Load() ([]byte, error) {
	r.mu.Lock()
	db := r.db
	r.mu.Unlock()
	if db == nil {
		return nil, nil
	}
	var raw string
	err := db.QueryRow(`SELECT content FROM replicas WHERE room = ?`, r.room).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load replica: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode replica: %w", err)
	}
	return decoded, nil
}

// Persist queues a document save. Writes are debounced and fire-and-forget:
// the in-memory state is authoritative before durability completes, which
// is the local-first tradeoff of responsiveness over durability latency.
func (r *Replica) Persist(save []byte) {
	r.mu.Lock()
	if r.closed || r.db == nil {
		r.mu.Unlock()
		return
	}
	r.pending = save
	r.mu.Unlock()
	r.deb.Do(r.flush)
}

func (r *Replica) flush() {
	r.mu.Lock()
	save := r.pending
	r.pending = nil
	db := r.db
	room := r.room
	r.mu.Unlock()
	if save == nil || db == nil {
		return
	}
	content := base64.StdEncoding.EncodeToString(save)
	if _, err := db.Exec(
		`INSERT INTO replicas (room, content) VALUES (?, ?)
		ON CONFLICT(room) DO UPDATE SET content = excluded.content`,
		room, content,
	); err != nil {
		slog.Error("failed to persist replica", "room", room, "err", err)
	}
}

// Close flushes any pending save and releases the database.
func (r *Replica) Close() error {
	r.deb.Flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
