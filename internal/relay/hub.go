package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"github.com/driftsync/driftlist/pkg/awareness"
	"github.com/driftsync/driftlist/pkg/syncnet"
)

// conn is one websocket attached to a room.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	ss      *automerge.SyncState
	kick    chan struct{}

	mu         sync.Mutex
	sessions   map[string]struct{}
	lastSynced *bool
}

func (c *conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *conn) nudge() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// hub is the relay side of one room: the authoritative document copy, the
// live connections with their per-connection sync states, and the current
// awareness state per session. Awareness is never persisted; it is
// replayed to joiners and withdrawn when its connection goes away.
type hub struct {
	id string

	mu    sync.Mutex
	doc   *automerge.Doc
	conns map[*conn]struct{}
	// aware holds the latest raw awareness frame per session key.
	aware map[string][]byte
}

func newHub(id string, doc *automerge.Doc) *hub {
	return &hub{
		id:    id,
		doc:   doc,
		conns: map[*conn]struct{}{},
		aware: map[string][]byte{},
	}
}

// save snapshots the room document.
func (h *hub) save() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Save()
}

// fork returns an independent copy for read-only endpoints.
func (h *hub) fork() (*automerge.Doc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Fork()
}

// attach registers a connection and replays the room's current awareness
// state to it.
func (h *hub) attach(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	replay := make([][]byte, 0, len(h.aware))
	for _, frame := range h.aware {
		replay = append(replay, frame)
	}
	h.mu.Unlock()
	for _, frame := range replay {
		if err := c.write(frame); err != nil {
			return
		}
	}
}

// detach removes a connection and broadcasts departure for every session
// it announced.
func (h *hub) detach(c *conn) {
	c.mu.Lock()
	sessions := make([]string, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	h.mu.Lock()
	delete(h.conns, c)
	for _, s := range sessions {
		delete(h.aware, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		frame, err := syncnet.EncodeAwareness(leftFrame(s))
		if err != nil {
			continue
		}
		h.broadcast(frame, c)
	}
}

// receiveSync applies one client sync message to the room document and
// wakes every connection: the sender for protocol replies, the others to
// forward the new changes.
func (h *hub) receiveSync(c *conn, payload []byte) error {
	h.mu.Lock()
	_, err := c.ss.ReceiveMessage(payload)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for other := range h.conns {
		conns = append(conns, other)
	}
	h.mu.Unlock()
	for _, other := range conns {
		other.nudge()
	}
	return nil
}

// receiveAwareness records and fans out one awareness frame.
func (h *hub) receiveAwareness(c *conn, raw []byte, session string, left bool) {
	c.mu.Lock()
	if left {
		delete(c.sessions, session)
	} else {
		c.sessions[session] = struct{}{}
	}
	c.mu.Unlock()

	h.mu.Lock()
	if left {
		delete(h.aware, session)
	} else {
		h.aware[session] = raw
	}
	h.mu.Unlock()

	h.broadcast(raw, c)
}

// broadcast sends a frame to every connection except the source.
func (h *hub) broadcast(frame []byte, except *conn) {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c != except {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		if err := c.write(frame); err != nil {
			slog.Debug("awareness broadcast failed", "room", h.id, "err", err)
		}
	}
}

// writePump drains outgoing sync messages for one connection, acknowledges
// nothing itself (acks are sent by the read loop as messages are applied),
// and reports the advisory synced flag whenever it flips.
func (h *hub) writePump(c *conn, done <-chan struct{}) {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.kick:
		case <-t.C:
		}
		if err := h.drain(c); err != nil {
			slog.Debug("sync drain failed", "room", h.id, "err", err)
			_ = c.ws.Close()
			return
		}
	}
}

func (h *hub) drain(c *conn) error {
	sent := false
	for {
		h.mu.Lock()
		msg, valid := c.ss.GenerateMessage()
		h.mu.Unlock()
		if !valid || msg == nil {
			break
		}
		if err := c.write(syncnet.EncodeFrame(syncnet.FrameSync, msg.Bytes())); err != nil {
			return err
		}
		sent = true
	}
	// Loop exit means nothing further to generate: the connection is
	// caught up as far as this relay knows. Announced after the first
	// drain and after every catch-up burst; quiet ticks stay silent.
	synced := true
	c.mu.Lock()
	announce := c.lastSynced == nil || sent
	c.lastSynced = &synced
	c.mu.Unlock()
	if announce {
		return c.write(syncnet.EncodeSynced(synced))
	}
	return nil
}

func leftFrame(session string) awareness.Frame {
	return awareness.Frame{Session: session, Left: true}
}
