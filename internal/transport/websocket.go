package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a WebSocket client.
type WebSocketConfig struct {
	// URL is the relay base URL, e.g. "ws://localhost:8787".
	URL string
	// Room and Peer identify this member. The relay excludes Peer from
	// the fan-out of its own frames.
	Room string
	Peer string

	ReconnectTimeout    time.Duration
	MaxReconnectTimeout time.Duration
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	// ReadTimeout must exceed the relay's ping interval.
	ReadTimeout time.Duration
	InboxSize   int
}

// DefaultWebSocketConfig returns timeouts suited to an interactive client.
func DefaultWebSocketConfig(baseURL, room, peer string) WebSocketConfig {
	return WebSocketConfig{
		URL:                 baseURL,
		Room:                room,
		Peer:                peer,
		ReconnectTimeout:    time.Second,
		MaxReconnectTimeout: 30 * time.Second,
		PingInterval:        20 * time.Second,
		WriteTimeout:        10 * time.Second,
		ReadTimeout:         60 * time.Second,
		InboxSize:           256,
	}
}

// RoomURL returns the websocket endpoint for cfg's room and peer.
func (cfg WebSocketConfig) RoomURL() (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
	// Path holds the raw room name and RawPath its escaped form, so a
	// room containing '/' or '%' survives as one segment.
	base := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rooms/" + cfg.Room
	u.RawPath = base + "/rooms/" + url.PathEscape(cfg.Room)
	q := u.Query()
	q.Set("peer", cfg.Peer)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WebSocket is a Transport backed by a relay connection. It dials in the
// background and redials with exponential backoff after every failure.
// Outbound frames queue in memory until a connection takes them; a frame
// whose write fails is retried on the next connection.
type WebSocket struct {
	cfg    WebSocketConfig
	target string
	logger *slog.Logger
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	outbox *outbox
	frames chan Frame
	status *statusNotifier
}

var _ Transport = (*WebSocket)(nil)

// DialWebSocket starts a client for cfg. It returns without waiting for
// the first connection; watch OnStatus for StatusConnected.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig, logger *slog.Logger) (*WebSocket, error) {
	target, err := cfg.RoomURL()
	if err != nil {
		return nil, err
	}
	if cfg.Room == "" || cfg.Peer == "" {
		return nil, errors.New("websocket transport: room and peer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultWebSocketConfig(cfg.URL, cfg.Room, cfg.Peer)
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = defaults.ReconnectTimeout
	}
	if cfg.MaxReconnectTimeout < cfg.ReconnectTimeout {
		cfg.MaxReconnectTimeout = max(defaults.MaxReconnectTimeout, cfg.ReconnectTimeout)
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaults.InboxSize
	}

	runCtx, cancel := context.WithCancel(ctx)
	w := &WebSocket{
		cfg:    cfg,
		target: target,
		logger: logger.With("room", cfg.Room, "peer", cfg.Peer),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.WriteTimeout},
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		outbox: newOutbox(),
		frames: make(chan Frame, cfg.InboxSize),
		status: newStatusNotifier(StatusDisconnected),
	}
	go w.run()
	return w, nil
}

// Send implements Transport. The frame is queued and written by the
// connection's writer, so Send never blocks on the network.
func (w *WebSocket) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.ctx.Err() != nil {
		return ErrClosed
	}
	f.Room = w.cfg.Room
	f.From = w.cfg.Peer
	w.outbox.push(f)
	return nil
}

// Frames implements Transport.
func (w *WebSocket) Frames() <-chan Frame {
	return w.frames
}

// Status implements Transport.
func (w *WebSocket) Status() Status {
	return w.status.Status()
}

// OnStatus implements Transport.
func (w *WebSocket) OnStatus(fn func(Status)) func() {
	return w.status.OnStatus(fn)
}

// Pending returns how many frames wait to be written.
func (w *WebSocket) Pending() int {
	return w.outbox.len()
}

// Close implements Transport. It waits for the connection goroutines.
func (w *WebSocket) Close() error {
	w.once.Do(w.cancel)
	<-w.done
	return nil
}

func (w *WebSocket) run() {
	defer close(w.done)
	defer close(w.frames)
	defer w.status.set(StatusDisconnected)

	backoff := w.cfg.ReconnectTimeout
	for {
		w.status.set(StatusConnecting)
		connID := uuid.NewString()
		conn, _, err := w.dialer.DialContext(w.ctx, w.target, nil)
		if err != nil {
			w.status.set(StatusDisconnected)
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Debug("dial failed", "url", w.target, "retry_in", backoff, "error", err)
			if !w.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, w.cfg.MaxReconnectTimeout)
			continue
		}

		backoff = w.cfg.ReconnectTimeout
		w.logger.Info("connected", "conn", connID)
		w.status.set(StatusConnected)
		err = w.handle(conn)
		w.status.set(StatusDisconnected)
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Warn("connection lost", "conn", connID, "pending", w.outbox.len(), "error", err)
		if !w.sleep(backoff) {
			return
		}
	}
}

func (w *WebSocket) sleep(d time.Duration) bool {
	select {
	case <-w.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// handle runs the reader and writer until either fails or the client
// closes. It returns the first error.
func (w *WebSocket) handle(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(w.ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- w.writeLoop(ctx, conn) }()
	go func() { errs <- w.readLoop(ctx, conn) }()

	err := <-errs
	cancel()
	// Closing the socket unblocks whichever loop is still waiting on it.
	conn.Close()
	<-errs
	return err
}

func (w *WebSocket) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	ping := time.NewTicker(w.cfg.PingInterval)
	defer ping.Stop()

	for {
		for {
			f, ok := w.outbox.pop()
			if !ok {
				break
			}
			if err := w.write(conn, f); err != nil {
				w.outbox.pushFront(f)
				return err
			}
		}

		select {
		case <-ctx.Done():
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return ctx.Err()
		case <-w.outbox.signal:
		case <-ping.C:
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (w *WebSocket) write(conn *websocket.Conn, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		// Unencodable frames can never succeed; drop rather than retry.
		w.logger.Error("dropping unencodable frame", "type", f.Type, "error", err)
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := extend(); err != nil {
			return err
		}
		f, err := Decode(data)
		if err != nil {
			w.logger.Warn("ignoring malformed frame", "error", err)
			continue
		}
		select {
		case w.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
