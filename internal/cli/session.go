package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/threadsync/internal/config"
	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/notify"
	"github.com/roach88/threadsync/internal/pgstore"
	"github.com/roach88/threadsync/internal/presence"
	"github.com/roach88/threadsync/internal/replica"
	"github.com/roach88/threadsync/internal/store"
	"github.com/roach88/threadsync/internal/thread"
	"github.com/roach88/threadsync/internal/transport"
)

// session is a replica connected to a relay, with everything it persists
// to. Commands that join a room open one and close it on the way out.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	doc       *document.Document
	transport *transport.WebSocket
	presence  *presence.Channel
	replica   *replica.Replica
	service   *thread.Service
	forwarder *notify.Forwarder

	closers []func() error
}

// openSession builds the replica for cfg.Room. user, when set, is
// advertised on the room's presence channel.
func openSession(ctx context.Context, cfg *config.Config, user *ir.Author, logger *slog.Logger) (s *session, err error) {
	s = &session{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s.store = st
	s.closers = append(s.closers, st.Close)

	snapshots, err := s.openSnapshots()
	if err != nil {
		return nil, err
	}

	replicaID := cfg.ReplicaID
	if replicaID == "" {
		replicaID = crdt.NewReplicaID()
	}
	s.doc = document.New(document.WithReplicaID(replicaID), document.WithLogger(logger))

	wsCfg := transport.WebSocketConfig{
		URL:                 cfg.Relay.URL,
		Room:                cfg.Room,
		Peer:                replicaID,
		ReconnectTimeout:    cfg.Transport.Reconnect,
		MaxReconnectTimeout: cfg.Transport.MaxReconnect,
		PingInterval:        cfg.Transport.Ping,
		WriteTimeout:        cfg.Transport.WriteTimeout,
		ReadTimeout:         cfg.Transport.ReadTimeout,
	}
	ws, err := transport.DialWebSocket(ctx, wsCfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start relay connection", err)
	}
	s.transport = ws
	s.closers = append(s.closers, ws.Close)

	s.presence = presence.NewChannel(presence.WithLogger(logger))
	sessionID := ""
	if user != nil {
		sessionID = uuid.NewString()
	}
	opts := []replica.Option{
		replica.WithLog(st),
		replica.WithDebounce(cfg.Snapshot.Debounce),
		replica.WithPresence(s.presence, sessionID, cfg.Presence.Heartbeat),
		replica.WithLogger(logger),
	}
	if snapshots != nil {
		opts = append(opts, replica.WithSnapshots(snapshots))
	}
	s.replica, err = replica.New(cfg.Room, s.doc, ws, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create replica", err)
	}
	if err := s.replica.Bootstrap(ctx); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load local state", err)
	}

	sink, err := s.openSink()
	if err != nil {
		return nil, err
	}
	s.forwarder = notify.NewForwarder(s.doc, sink, logger)
	s.service = thread.NewService(s.doc, cfg.Users, logger)

	if user != nil {
		s.presence.Publish(sessionID, presence.State{User: *user})
	}
	return s, nil
}

func (s *session) openSnapshots() (replica.SnapshotStore, error) {
	switch s.cfg.Snapshot.Backend {
	case config.BackendSQLite:
		return store.NewSnapshots(s.store), nil
	case config.BackendPostgres:
		pg, err := pgstore.Open(s.cfg.Snapshot.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open snapshot database", err)
		}
		s.closers = append(s.closers, pg.Close)
		return pg, nil
	}
	return nil, nil
}

func (s *session) openSink() (notify.Sink, error) {
	if s.cfg.AMQP.URL == "" {
		return notify.LogSink{Logger: s.logger}, nil
	}
	sink, err := notify.DialAMQP(s.cfg.AMQP.URL, s.cfg.AMQP.Exchange)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to message broker", err)
	}
	s.closers = append(s.closers, sink.Close)
	return sink, nil
}

// waitConnected blocks until the relay connection is up or timeout passes.
func (s *session) waitConnected(ctx context.Context, timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	stop := s.transport.OnStatus(func(st transport.Status) {
		if st == transport.StatusConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer stop()
	if s.transport.Status() == transport.StatusConnected {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return fmt.Errorf("relay %s not reachable within %s", s.cfg.Relay.URL, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain waits until every queued frame has been written, or timeout.
func (s *session) drain(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for s.transport.Pending() > 0 {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// Close detaches the replica, flushes its snapshot and releases every
// resource in reverse order of acquisition.
func (s *session) Close() error {
	var errs []error
	if s.forwarder != nil {
		s.forwarder.Close()
	}
	if s.replica != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, s.replica.Close(ctx))
		if s.transport != nil {
			s.drain(ctx, 2*time.Second)
		}
		cancel()
	}
	errs = append(errs, s.closeResources())
	return errors.Join(errs...)
}

func (s *session) closeResources() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
