// Package config loads threadsync configuration from CUE files.
//
// The embedded schema supplies defaults and types; the user's file only
// sets what differs. The unified value must be concrete.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/threadsync/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Snapshot backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Config is the decoded configuration.
type Config struct {
	Room      string
	ReplicaID string
	Relay     RelayConfig
	Database  DatabaseConfig
	Snapshot  SnapshotConfig
	Presence  PresenceConfig
	Transport TransportConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Users     []ir.Author
}

type RelayConfig struct {
	URL    string
	Listen string
}

type DatabaseConfig struct {
	Path string
}

type SnapshotConfig struct {
	Backend  string
	DSN      string
	Debounce time.Duration
}

type PresenceConfig struct {
	MaxAge    time.Duration
	Heartbeat time.Duration
}

type TransportConfig struct {
	Reconnect    time.Duration
	MaxReconnect time.Duration
	Ping         time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

// raw mirrors the CUE schema; durations stay strings until convert.
type raw struct {
	Room     string `json:"room"`
	Replica  string `json:"replica"`
	Relay    struct {
		URL    string `json:"url"`
		Listen string `json:"listen"`
	} `json:"relay"`
	Database struct {
		Path string `json:"path"`
	} `json:"database"`
	Snapshot struct {
		Backend  string `json:"backend"`
		DSN      string `json:"dsn"`
		Debounce string `json:"debounce"`
	} `json:"snapshot"`
	Presence struct {
		MaxAge    string `json:"max_age"`
		Heartbeat string `json:"heartbeat"`
	} `json:"presence"`
	Transport struct {
		Reconnect    string `json:"reconnect"`
		MaxReconnect string `json:"max_reconnect"`
		Ping         string `json:"ping"`
		WriteTimeout string `json:"write_timeout"`
		ReadTimeout  string `json:"read_timeout"`
	} `json:"transport"`
	Redis struct {
		Addr string `json:"addr"`
	} `json:"redis"`
	AMQP struct {
		URL      string `json:"url"`
		Exchange string `json:"exchange"`
	} `json:"amqp"`
	Users []ir.Author `json:"users"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes validates data as a config file named filename.
func LoadBytes(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, fmt.Errorf("parse %s: %s", filename, cueerrors.Details(err, nil))
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %s", filename, cueerrors.Details(err, nil))
	}

	var r raw
	if err := v.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", filename, err)
	}
	cfg, err := r.convert()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// Default returns the configuration a file containing only room would
// produce.
func Default(room string) *Config {
	return &Config{
		Room:     room,
		Relay:    RelayConfig{URL: "ws://localhost:8787", Listen: ":8787"},
		Database: DatabaseConfig{Path: "threadsync.db"},
		Snapshot: SnapshotConfig{Backend: BackendSQLite, Debounce: 2 * time.Second},
		Presence: PresenceConfig{MaxAge: 120 * time.Second, Heartbeat: 30 * time.Second},
		Transport: TransportConfig{
			Reconnect:    time.Second,
			MaxReconnect: 30 * time.Second,
			Ping:         20 * time.Second,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  60 * time.Second,
		},
		AMQP:  AMQPConfig{Exchange: "threadsync.notifications"},
		Users: []ir.Author{},
	}
}

// Validate checks rules that span fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	}
	if c.Snapshot.Backend == BackendPostgres && c.Snapshot.DSN == "" {
		errs = append(errs, errors.New("snapshot.dsn is required for the postgres backend"))
	}
	if c.Transport.ReadTimeout <= c.Transport.Ping {
		errs = append(errs, fmt.Errorf("transport.read_timeout (%s) must exceed transport.ping (%s)",
			c.Transport.ReadTimeout, c.Transport.Ping))
	}
	if c.Transport.MaxReconnect < c.Transport.Reconnect {
		errs = append(errs, errors.New("transport.max_reconnect must not be below transport.reconnect"))
	}
	if c.Presence.Heartbeat >= c.Presence.MaxAge {
		errs = append(errs, fmt.Errorf("presence.heartbeat (%s) must be shorter than presence.max_age (%s)",
			c.Presence.Heartbeat, c.Presence.MaxAge))
	}
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if seen[u.ID] {
			errs = append(errs, fmt.Errorf("users: duplicate id %q", u.ID))
		}
		seen[u.ID] = true
	}
	return errors.Join(errs...)
}

func (r raw) convert() (*Config, error) {
	var errs []error
	dur := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return d
	}

	cfg := &Config{
		Room:      r.Room,
		ReplicaID: r.Replica,
		Relay:     RelayConfig{URL: r.Relay.URL, Listen: r.Relay.Listen},
		Database:  DatabaseConfig{Path: r.Database.Path},
		Snapshot: SnapshotConfig{
			Backend:  r.Snapshot.Backend,
			DSN:      r.Snapshot.DSN,
			Debounce: dur("snapshot.debounce", r.Snapshot.Debounce),
		},
		Presence: PresenceConfig{
			MaxAge:    dur("presence.max_age", r.Presence.MaxAge),
			Heartbeat: dur("presence.heartbeat", r.Presence.Heartbeat),
		},
		Transport: TransportConfig{
			Reconnect:    dur("transport.reconnect", r.Transport.Reconnect),
			MaxReconnect: dur("transport.max_reconnect", r.Transport.MaxReconnect),
			Ping:         dur("transport.ping", r.Transport.Ping),
			WriteTimeout: dur("transport.write_timeout", r.Transport.WriteTimeout),
			ReadTimeout:  dur("transport.read_timeout", r.Transport.ReadTimeout),
		},
		Redis: RedisConfig{Addr: r.Redis.Addr},
		AMQP:  AMQPConfig{URL: r.AMQP.URL, Exchange: r.AMQP.Exchange},
		Users: r.Users,
	}
	if cfg.Users == nil {
		cfg.Users = []ir.Author{}
	}
	return cfg, errors.Join(errs...)
}
