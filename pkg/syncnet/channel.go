package syncnet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"github.com/driftsync/driftlist/pkg/awareness"
	"github.com/driftsync/driftlist/pkg/store"
)

type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnectedUnsynced
	StateConnectedSynced
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnectedUnsynced:
		return "connected-unsynced"
	case StateConnectedSynced:
		return "connected-synced"
	default:
		return "disconnected"
	}
}

// DefaultTolerance is the number of outstanding unacked operations above
// which the replica no longer counts as caught up.
const DefaultTolerance = 10

// Status is one observation of the channel's health.
type Status struct {
	State   ChannelState
	Synced  bool
	Unacked int
}

// Channel is the bidirectional sync connection of one replica to a named
// room on the relay. It pumps automerge sync messages both ways (following
// the read/receive and generate/write split), forwards awareness frames,
// and maintains the composite connectivity signal.
type Channel struct {
	st        *store.Store
	url       string
	tolerance int

	mu      sync.Mutex
	writeMu sync.Mutex
	state   ChannelState
	synced  bool
	unacked int
	conn    *websocket.Conn
	ss      *automerge.SyncState
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	kick        chan struct{}
	onAwareness func(awareness.Frame)
	onStatus    func(Status)
	unobserve   func()
}

// NewChannel builds a channel against the given websocket URL (e.g.
// "ws://host/rooms/main/sync"). It does not dial; the supervisor or the
// caller drives Connect.
func NewChannel(st *store.Store, url string) *Channel {
	c := &Channel{
		st:        st,
		url:       url,
		tolerance: DefaultTolerance,
		kick:      make(chan struct{}, 1),
	}
	// Every local change batch nudges the write pump.
	c.unobserve = st.Observe("", func(store.ChangeSet) { c.Kick() })
	return c
}

// SetTolerance overrides the unacked-operations tolerance.
func (c *Channel) SetTolerance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tolerance = n
}

// OnAwareness registers the consumer of incoming awareness frames.
func (c *Channel) OnAwareness(fn func(awareness.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAwareness = fn
}

// OnStatus registers a callback fired after every status change.
func (c *Channel) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Status returns the current channel status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Synced: c.synced, Unacked: c.unacked}
}

// Connected is the composite, authoritative caught-up signal: the relay's
// synced flag alone is not trusted (it can be stale or falsely true), so
// it is combined with the outstanding-operations counter.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

func (c *Channel) connectedLocked() bool {
	return c.synced && c.unacked < c.tolerance
}

// recomputeStateLocked folds the synced flag and the unacked counter into
// the connected-tier state.
func (c *Channel) recomputeStateLocked() {
	if c.state == StateDisconnected || c.state == StateConnecting {
		return
	}
	if c.connectedLocked() {
		c.state = StateConnectedSynced
	} else {
		c.state = StateConnectedUnsynced
	}
}

func (c *Channel) notifyStatus() {
	c.mu.Lock()
	fn := c.onStatus
	st := Status{State: c.state, Synced: c.synced, Unacked: c.unacked}
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Connect dials the relay and starts the pumps. It returns once the
// transport handshake completes; catching up happens in the background.
// Calling Connect on an already-connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyStatus()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notifyStatus()
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.ss = c.st.NewSyncState()
	c.synced = false
	c.unacked = 0
	c.state = StateConnectedUnsynced
	c.cancel = cancel
	c.mu.Unlock()
	c.notifyStatus()

	c.wg.Add(2)
	go c.readPump(conn)
	go c.writePump(pumpCtx, conn)
	c.Kick()
	return nil
}

// Kick nudges the write pump to drain pending sync messages.
func (c *Channel) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.dropConnection(conn)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("sync channel read failed", "err", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		kind, payload, err := DecodeFrame(msg)
		if err != nil {
			slog.Warn("dropping malformed frame", "err", err)
			continue
		}
		if !c.handleFrame(kind, payload) {
			return
		}
	}
}

// handleFrame dispatches one decoded frame. A false return stops the read
// loop.
func (c *Channel) handleFrame(kind byte, payload []byte) bool {
	switch kind {
	case FrameSync:
		c.mu.Lock()
		ss := c.ss
		c.mu.Unlock()
		// The connection can be torn down between the read and this
		// dispatch; a sync frame for a dropped sync state is discarded.
		if ss == nil {
			return false
		}
		if err := c.st.ReceiveSyncMessage(ss, payload); err != nil {
			slog.Error("failed to apply sync message", "err", err)
			return false
		}
		// Receiving usually means we owe the peer a reply.
		c.Kick()
	case FrameSynced:
		c.mu.Lock()
		c.synced = len(payload) == 1 && payload[0] == 1
		c.recomputeStateLocked()
		c.mu.Unlock()
		c.notifyStatus()
	case FrameAck:
		n, err := DecodeAck(payload)
		if err != nil {
			slog.Warn("dropping malformed ack", "err", err)
			return true
		}
		c.mu.Lock()
		c.unacked -= int(n)
		if c.unacked < 0 {
			c.unacked = 0
		}
		c.recomputeStateLocked()
		c.mu.Unlock()
		c.notifyStatus()
	case FrameAwareness:
		f, err := DecodeAwareness(payload)
		if err != nil {
			slog.Warn("dropping malformed awareness frame", "err", err)
			return true
		}
		c.mu.Lock()
		fn := c.onAwareness
		c.mu.Unlock()
		if fn != nil {
			fn(f)
		}
	}
	return true
}

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.dropConnection(conn)
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		case <-t.C:
		}
		if err := c.drainOutgoing(conn); err != nil {
			slog.Debug("sync channel write failed", "err", err)
			return
		}
	}
}

// drainOutgoing sends every pending sync message, bumping the unacked
// counter per message sent.
func (c *Channel) drainOutgoing(conn *websocket.Conn) error {
	for {
		c.mu.Lock()
		ss := c.ss
		c.mu.Unlock()
		if ss == nil {
			return nil
		}
		msg, ok := c.st.GenerateSyncMessage(ss)
		if !ok {
			return nil
		}
		if err := c.writeFrame(conn, EncodeFrame(FrameSync, msg)); err != nil {
			return err
		}
		c.mu.Lock()
		c.unacked++
		c.recomputeStateLocked()
		c.mu.Unlock()
		c.notifyStatus()
	}
}

func (c *Channel) writeFrame(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendAwareness transmits an awareness frame; a disconnected channel drops
// it silently (awareness is ephemeral by contract).
func (c *Channel) SendAwareness(f awareness.Frame) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	frame, err := EncodeAwareness(f)
	if err != nil {
		slog.Warn("failed to encode awareness frame", "err", err)
		return
	}
	if err := c.writeFrame(conn, frame); err != nil {
		slog.Debug("failed to send awareness frame", "err", err)
	}
}

// dropConnection transitions to Disconnected when the given connection is
// still the active one. Every disconnect is treated identically; recovery
// is the supervisor's fixed-interval retry.
func (c *Channel) dropConnection(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.ss = nil
	c.synced = false
	c.state = StateDisconnected
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.notifyStatus()
}

// Close tears the channel down and detaches it from the store.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.dropConnection(conn)
	}
	c.wg.Wait()
	if c.unobserve != nil {
		c.unobserve()
		c.unobserve = nil
	}
}
