// Package room owns the lifecycle of everything attached to one shared
// document: store, durable replica, sync channel, supervisor, awareness
// and the view reconciler are constructed together when a room is opened
// and torn down together when it is closed. Switching rooms is Close then
// Open; there is no process-wide singleton, so independent rooms (and
// tests) never cross-contaminate.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/driftsync/driftlist/pkg/awareness"
	"github.com/driftsync/driftlist/pkg/notify"
	"github.com/driftsync/driftlist/pkg/replica"
	"github.com/driftsync/driftlist/pkg/store"
	"github.com/driftsync/driftlist/pkg/syncnet"
	"github.com/driftsync/driftlist/pkg/views"
)

// Options configures one room session.
type Options struct {
	// RoomID is the externally supplied opaque room identifier.
	RoomID string
	// RelayURL is the relay's base URL, e.g. "ws://localhost:8080".
	RelayURL string
	// ReplicaPath is the sqlite file for local persistence; empty runs
	// purely in-memory.
	ReplicaPath string

	// UserID is the stable per-profile identifier (see EnsureUserID).
	UserID      string
	DisplayName string
	Color       string

	Notifier notify.Notifier
	Probe    syncnet.NetworkProbe

	// PresenceInterval drives the periodic presence touch and idle
	// recompute; zero uses the default.
	PresenceInterval time.Duration
}

const defaultPresenceInterval = 5 * time.Second

// Room is one live, room-scoped session.
type Room struct {
	opts Options

	Store      *store.Store
	Replica    *replica.Replica
	Channel    *syncnet.Channel
	Supervisor *syncnet.Supervisor
	Awareness  *awareness.Tracker
	Views      *views.Reconciler

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	firstSync sync.Once
	unobserve func()

	stateMu   sync.Mutex
	lastState syncnet.ChannelState
}

// Open builds and starts every component for the given room.
func Open(ctx context.Context, opts Options) (*Room, error) {
	if opts.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log
	}
	if opts.PresenceInterval == 0 {
		opts.PresenceInterval = defaultPresenceInterval
	}

	rep := replica.Open(opts.ReplicaPath, opts.RoomID, opts.Notifier)
	save, err := rep.Load()
	if err != nil {
		// Corrupt local state degrades like missing storage: start empty
		// and resync, warn once.
		opts.Notifier.Notify(notify.Notification{
			Title:    "Local replica unreadable",
			Message:  err.Error(),
			Severity: notify.SeverityWarning,
		})
		save = nil
	}
	st, err := store.Load(save, opts.UserID)
	if err != nil {
		_ = rep.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	st.SetNotifier(opts.Notifier)

	syncURL, err := roomSyncURL(opts.RelayURL, opts.RoomID)
	if err != nil {
		_ = rep.Close()
		st.Close()
		return nil, err
	}

	r := &Room{
		opts:      opts,
		Store:     st,
		Replica:   rep,
		Awareness: awareness.NewTracker(opts.UserID),
	}
	r.Channel = syncnet.NewChannel(st, syncURL)
	r.Supervisor = syncnet.NewSupervisor(r.Channel, opts.Probe, opts.Notifier)
	r.Views = views.NewReconciler(st)

	// Every change batch, local or remote, schedules a durable save.
	r.unobserve = st.Observe("", func(store.ChangeSet) {
		rep.Persist(st.Save())
	})

	runCtx, cancel := context.WithCancel(ctx)
	r.runCtx = runCtx
	r.cancel = cancel

	r.Channel.OnAwareness(r.Awareness.Apply)
	r.Channel.OnStatus(r.onStatus)

	r.Supervisor.Start(runCtx)
	r.wg.Add(1)
	go r.presenceLoop(runCtx)

	// Seed this user's presence record so peers can render it.
	if err := st.TouchPresence(opts.UserID, opts.DisplayName, opts.Color); err != nil {
		slog.Warn("failed to seed presence record", "err", err)
	}
	return r, nil
}

func roomSyncURL(relayURL, roomID string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid relay url scheme %q", u.Scheme)
	}
	return u.JoinPath("rooms", roomID, "sync").String(), nil
}

func (r *Room) onStatus(s syncnet.Status) {
	r.stateMu.Lock()
	prev := r.lastState
	r.lastState = s.State
	r.stateMu.Unlock()

	switch s.State {
	case syncnet.StateConnectedSynced:
		// The first caught-up moment replaces the possibly-empty pre-sync
		// projection exactly once; later transitions recompute through
		// normal change batches.
		r.firstSync.Do(r.Views.Refresh)
		r.Awareness.SetSender(r.Channel.SendAwareness)
	case syncnet.StateDisconnected:
		// Remote sessions can no longer be trusted as live.
		r.Awareness.SetSender(nil)
		r.Awareness.Reset()
		// An established connection dropping gets a debounced reconnect
		// right away; a failed dial stays on the fixed retry cadence.
		if prev == syncnet.StateConnectedUnsynced || prev == syncnet.StateConnectedSynced {
			r.Supervisor.Kick(r.runCtx)
		}
	}
}

// presenceLoop periodically touches the local user's persisted activity
// record. Idleness is derived from lastActive on the same cadence.
func (r *Room) presenceLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.opts.PresenceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := r.Store.TouchPresence(r.opts.UserID, r.opts.DisplayName, r.opts.Color)
			if err != nil && !errors.Is(err, store.ErrClosed) {
				slog.Warn("failed to touch presence", "err", err)
			}
		}
	}
}

// OnlineUsers reduces current awareness sessions against the persisted
// presence records.
func (r *Room) OnlineUsers() (map[string]awareness.OnlineUser, map[string]store.PresenceRecord) {
	snap := r.Store.Snapshot()
	return awareness.Reduce(r.Awareness.Sessions(), snap.Presence, r.opts.UserID)
}

// Connected reports the composite caught-up signal.
func (r *Room) Connected() bool {
	return r.Channel.Connected()
}

// Close tears the session down: timers stopped, channel closed, store
// closed so that stale mutations become no-ops, replica flushed.
func (r *Room) Close() error {
	r.Awareness.Leave()
	if r.cancel != nil {
		r.cancel()
	}
	r.Supervisor.Stop()
	r.Channel.Close()
	r.wg.Wait()
	r.Views.Close()
	if r.unobserve != nil {
		r.unobserve()
	}
	r.Store.Close()
	return r.Replica.Close()
}
