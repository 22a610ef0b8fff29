// Package relay implements the sync relay: a websocket fan-in/fan-out
// point where every replica of a room exchanges automerge sync messages
// and ephemeral awareness frames. The relay keeps its own authoritative
// copy of each room document, persisted to sqlite on a timer and on
// shutdown.
package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/driftsync/driftlist/pkg/syncnet"
)

const persistInterval = 5 * time.Second

// Server owns the room hubs and their sqlite backing.
type Server struct {
	db       *sql.DB
	rooms    sync.Map // room id -> *hub
	upgrader websocket.Upgrader
}

func NewServer(dbPath string) (*Server, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS rooms (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Server{
		db: db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}, nil
}

// Handler builds the HTTP surface: request logging plus any extra
// middleware (tracing), then the room routes.
func (s *Server) Handler(extra ...mux.MiddlewareFunc) http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	for _, mw := range extra {
		r.Use(mw)
	}
	r.Methods(http.MethodGet).Path("/rooms/{room}/latest").HandlerFunc(s.getRoom)
	r.Methods(http.MethodGet).Path("/rooms/{room}/sync").HandlerFunc(s.syncRoom)
	return r
}

// Run serves until ctx is cancelled, persisting dirty rooms on a ticker
// and once more on the way out.
func (s *Server) Run(ctx context.Context, addr string, extra ...mux.MiddlewareFunc) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Handler(extra...)}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(persistInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.persistAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	<-ctx.Done()
	_ = httpServer.Close()
	wg.Wait()
	s.persistAll(context.Background())
	return s.db.Close()
}

// Close flushes and releases the database. Used by embedders that serve
// through Handler instead of Run.
func (s *Server) Close() error {
	s.persistAll(context.Background())
	return s.db.Close()
}

func (s *Server) persistAll(ctx context.Context) {
	s.rooms.Range(func(id, hubRaw any) bool {
		h := hubRaw.(*hub)
		content := base64.StdEncoding.EncodeToString(h.save())
		if res, err := s.db.ExecContext(ctx,
			`INSERT INTO rooms (id, content) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET content = excluded.content
			WHERE content != excluded.content`,
			id, content,
		); err != nil {
			slog.Error("failed to persist room", "room", id, "err", err)
		} else if n, _ := res.RowsAffected(); n > 0 {
			slog.Info("persisted room", "room", id)
		}
		return true
	})
}

// loadHub returns the room's hub, loading the document from sqlite or
// starting an empty one. Rooms come into existence by being joined.
func (s *Server) loadHub(ctx context.Context, id string) (*hub, error) {
	if h, ok := s.rooms.Load(id); ok {
		return h.(*hub), nil
	}
	var doc *automerge.Doc
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM rooms WHERE id = ?`, id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		doc = automerge.New()
	case err != nil:
		return nil, fmt.Errorf("failed to query room: %w", err)
	default:
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode room: %w", err)
		}
		if doc, err = automerge.Load(decoded); err != nil {
			return nil, fmt.Errorf("failed to load room doc: %w", err)
		}
	}
	h, _ := s.rooms.LoadOrStore(id, newHub(id, doc))
	return h.(*hub), nil
}

func (s *Server) getRoom(writer http.ResponseWriter, request *http.Request) {
	vars := mux.Vars(request)
	h, err := s.loadHub(request.Context(), vars["room"])
	if err != nil {
		slog.Error("failed to load room", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	fork, err := h.fork()
	if err != nil {
		slog.Error("failed to fork room doc", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(fork.Save()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) syncRoom(writer http.ResponseWriter, request *http.Request) {
	vars := mux.Vars(request)
	h, err := s.loadHub(request.Context(), vars["room"])
	if err != nil {
		slog.Error("failed to load room", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	ws, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s.serveConn(h, ws)
}

// serveConn runs one connection's read loop; the hub's write pump runs
// alongside until the connection drops.
func (s *Server) serveConn(h *hub, ws *websocket.Conn) {
	h.mu.Lock()
	ss := automerge.NewSyncState(h.doc)
	h.mu.Unlock()
	c := &conn{
		ws:       ws,
		ss:       ss,
		kick:     make(chan struct{}, 1),
		sessions: map[string]struct{}{},
	}
	h.attach(c)
	done := make(chan struct{})
	go h.writePump(c, done)
	defer func() {
		close(done)
		h.detach(c)
		_ = ws.Close()
	}()

	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			slog.Debug("connection closed", "room", h.id, "err", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		kind, payload, err := syncnet.DecodeFrame(msg)
		if err != nil {
			slog.Warn("dropping malformed frame", "room", h.id, "err", err)
			continue
		}
		switch kind {
		case syncnet.FrameSync:
			if err := h.receiveSync(c, payload); err != nil {
				slog.Error("failed to receive sync message", "room", h.id, "err", err)
				return
			}
			if err := c.write(syncnet.EncodeAck(1)); err != nil {
				return
			}
		case syncnet.FrameAwareness:
			f, err := syncnet.DecodeAwareness(payload)
			if err != nil {
				slog.Warn("dropping malformed awareness frame", "room", h.id, "err", err)
				continue
			}
			h.receiveAwareness(c, msg, f.Session, f.Left)
		}
	}
}
