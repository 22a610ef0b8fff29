// Package awareness tracks ephemeral per-session liveness and activity
// state. Unlike presence records in the replicated document, awareness is
// never persisted: it is broadcast to live sessions over the sync channel
// and vanishes when a session disconnects.
package awareness

import (
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/driftsync/driftlist/pkg/store"
)

// State is one session's live activity metadata.
type State struct {
	UserID string
	// EditingID is the task currently open for editing, if any.
	EditingID string
}

// Frame is the wire form of one awareness update. Session keys are
// session-scoped, not user-scoped: a user with two tabs appears as two
// sessions carrying the same UserID.
type Frame struct {
	Session   string `json:"session"`
	UserID    string `json:"userId,omitempty"`
	EditingID string `json:"editingId,omitempty"`
	// Left marks a session teardown; receivers drop the session.
	Left bool `json:"left,omitempty"`
}

// Sender transmits a frame to the other live sessions. The sync channel
// provides one; a nil sender (offline) drops frames silently.
type Sender func(Frame)

// Tracker owns the local session's state and mirrors the remote sessions'.
type Tracker struct {
	mu         sync.Mutex
	sessionKey string
	local      State
	remote     map[string]State
	send       Sender
}

func NewTracker(userID string) *Tracker {
	return &Tracker{
		sessionKey: ksuid.New().String(),
		local:      State{UserID: userID},
		remote:     map[string]State{},
	}
}

// SessionKey returns the locally generated, time-ordered session id.
func (t *Tracker) SessionKey() string {
	return t.sessionKey
}

// SetSender attaches (or detaches, with nil) the outbound transport and
// re-announces the local state, which covers reconnects.
func (t *Tracker) SetSender(s Sender) {
	t.mu.Lock()
	t.send = s
	t.mu.Unlock()
	t.Announce()
}

// Announce broadcasts the local session state.
func (t *Tracker) Announce() {
	t.mu.Lock()
	send := t.send
	frame := Frame{Session: t.sessionKey, UserID: t.local.UserID, EditingID: t.local.EditingID}
	t.mu.Unlock()
	if send != nil {
		send(frame)
	}
}

// SetEditing marks the task the local session has open for editing and
// broadcasts the change. An empty id clears the marker.
func (t *Tracker) SetEditing(taskID string) {
	t.mu.Lock()
	t.local.EditingID = taskID
	t.mu.Unlock()
	t.Announce()
}

// ClearEditing removes the local editing marker.
func (t *Tracker) ClearEditing() {
	t.SetEditing("")
}

// Leave broadcasts the local session's departure.
func (t *Tracker) Leave() {
	t.mu.Lock()
	send := t.send
	frame := Frame{Session: t.sessionKey, UserID: t.local.UserID, Left: true}
	t.send = nil
	t.mu.Unlock()
	if send != nil {
		send(frame)
	}
}

// Apply ingests a frame received from the channel.
func (t *Tracker) Apply(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.Session == "" || f.Session == t.sessionKey {
		return
	}
	if f.Left {
		delete(t.remote, f.Session)
		return
	}
	t.remote[f.Session] = State{UserID: f.UserID, EditingID: f.EditingID}
}

// Reset drops all remote sessions, e.g. after a disconnect when their
// liveness can no longer be trusted.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = map[string]State{}
}

// Sessions returns the current remote session states keyed by session.
func (t *Tracker) Sessions() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.remote))
	for k, v := range t.remote {
		out[k] = v
	}
	return out
}

// OnlineUser is the merged view of one user's live sessions.
type OnlineUser struct {
	User store.PresenceRecord
	// EditingIDs unions the editing markers across the user's sessions,
	// sorted: two tabs editing the same task show one marker, not two.
	EditingIDs []string
}

// Reduce merges session-keyed awareness states into a per-user online map
// and its complement of known-but-offline users.
//
// Sessions are dropped when they belong to the local user (self is never
// "online" to itself), carry no user id (malformed or outdated peers), or
// reference a user without a presence record (nothing to render). Online
// status wins: a user with both stale persisted data and a live session
// appears only in the online map.
func Reduce(sessions map[string]State, presence map[string]store.PresenceRecord, localUserID string) (online map[string]OnlineUser, offline map[string]store.PresenceRecord) {
	online = map[string]OnlineUser{}
	editing := map[string]map[string]struct{}{}

	for _, s := range sessions {
		if s.UserID == "" || s.UserID == localUserID {
			continue
		}
		rec, ok := presence[s.UserID]
		if !ok {
			continue
		}
		if _, ok := online[s.UserID]; !ok {
			online[s.UserID] = OnlineUser{User: rec}
			editing[s.UserID] = map[string]struct{}{}
		}
		if s.EditingID != "" {
			editing[s.UserID][s.EditingID] = struct{}{}
		}
	}
	for userID, ids := range editing {
		u := online[userID]
		for id := range ids {
			u.EditingIDs = append(u.EditingIDs, id)
		}
		sort.Strings(u.EditingIDs)
		online[userID] = u
	}

	offline = map[string]store.PresenceRecord{}
	for userID, rec := range presence {
		if userID == localUserID {
			continue
		}
		if _, ok := online[userID]; ok {
			continue
		}
		offline[userID] = rec
	}
	return online, offline
}

// Idle reports whether a user has been inactive for longer than threshold.
// Idleness is a function of wall-clock time passing, so callers recompute
// it on a periodic timer rather than on events.
func Idle(rec store.PresenceRecord, now time.Time, threshold time.Duration) bool {
	last := time.UnixMilli(rec.LastActive)
	return now.Sub(last) > threshold
}

// DefaultIdleThreshold matches the fast-update recompute mode.
const DefaultIdleThreshold = 5 * time.Second
