// Package relay serves rooms over websockets.
//
// Every connection joins one room. A frame from one member is fanned out
// to every other member of the room. With a History configured the relay
// also logs batch frames and answers sync requests with the room's full
// log, so a replica can catch up even when no peer is online. With a
// Backplane configured several relay instances share rooms.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/threadsync/internal/ir"
)

// History is the relay's durable room log. *store.Store satisfies it.
type History interface {
	WriteBatch(ctx context.Context, room string, batch ir.Batch) (bool, error)
	ReadBatches(ctx context.Context, room string) ([]ir.Batch, error)
}

// Config tunes connection handling.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	// ReadTimeout must exceed the clients' ping interval.
	ReadTimeout  time.Duration
	SendBuffer   int
	MaxFrameSize int64
}

// DefaultConfig returns the settings used by `threadsync relay`.
func DefaultConfig() Config {
	return Config{
		PingInterval: 20 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		SendBuffer:   256,
		MaxFrameSize: 8 << 20,
	}
}

// Server is the relay.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	history   History
	backplane Backplane
	instance  string

	upgrader websocket.Upgrader
	router   chi.Router

	mu    sync.Mutex
	rooms map[string]*room
}

// Option configures a Server.
type Option func(*Server)

// WithHistory logs batches and answers sync requests from h.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithBackplane shares rooms with other relay instances through b.
func WithBackplane(b Backplane) Option {
	return func(s *Server) {
		s.backplane = b
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds a relay and its routes.
func NewServer(opts ...Option) *Server {
	s := &Server{
		cfg:      DefaultConfig(),
		instance: uuid.Must(uuid.NewV7()).String(),
		rooms:    make(map[string]*room),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("instance", s.instance)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/rooms/{room}", s.handleRoom)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.CloseRooms()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Rooms returns the number of rooms with at least one member.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Members returns the number of connections in name.
func (s *Server) Members(name string) int {
	s.mu.Lock()
	rm, ok := s.rooms[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return rm.size()
}

// CloseRooms disconnects every client.
func (s *Server) CloseRooms() {
	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()
	for _, rm := range rooms {
		rm.closeAll()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"instance": s.instance,
		"rooms":    s.Rooms(),
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	name, err := roomName(r)
	if err != nil {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}
	connID := uuid.Must(uuid.NewV7()).String()
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		peer = connID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "room", name, "error", err)
		return
	}

	c := &client{
		id:     connID,
		peer:   peer,
		conn:   conn,
		send:   make(chan []byte, s.cfg.SendBuffer),
		logger: s.logger.With("room", name, "peer", peer, "conn", connID, "request_id", middleware.GetReqID(r.Context())),
	}
	rm, err := s.join(name, c)
	if err != nil {
		s.logger.Error("join room failed", "room", name, "error", err)
		conn.Close()
		return
	}
	c.logger.Info("client joined", "members", rm.size())

	go c.writePump(s.cfg)
	c.readPump(s.cfg, func(data []byte) { s.handleFrame(r.Context(), rm, c, data) })

	s.leave(rm, c)
	c.logger.Info("client left")
}

// roomName returns the unescaped room from the request path. chi matches
// against RawPath when the client sent one, leaving the parameter escaped.
func roomName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "room")
	if r.URL.RawPath == "" {
		return name, nil
	}
	return url.PathUnescape(name)
}

func (s *Server) join(name string, c *client) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[name]
	if !ok {
		rm = newRoom(name, s.logger)
		if s.backplane != nil {
			unsubscribe, err := s.backplane.Subscribe(context.Background(), name, func(msg []byte) {
				s.handleRemote(rm, msg)
			})
			if err != nil {
				return nil, fmt.Errorf("subscribe backplane: %w", err)
			}
			rm.unsubscribe = unsubscribe
		}
		s.rooms[name] = rm
	}
	rm.add(c)
	return rm, nil
}

func (s *Server) leave(rm *room, c *client) {
	s.mu.Lock()
	empty := rm.remove(c)
	if empty && s.rooms[rm.name] == rm {
		delete(s.rooms, rm.name)
	}
	s.mu.Unlock()

	if empty && rm.unsubscribe != nil {
		if err := rm.unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe backplane", "room", rm.name, "error", err)
		}
	}
}
