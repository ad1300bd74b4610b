// Package config loads objtalkd's TOML configuration file: storage
// backend selection, the set of transports to bind, and the optional
// ingestion/monitoring sidecars.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// SqliteConfig names the DB file a bolt-backed storage.Bolt opens. The
// field is still called "sqlite" on the wire — see DESIGN.md for why the
// backend underneath it is boltdb, not sqlite.
type SqliteConfig struct {
	Filename string `toml:"filename"`
}

// StorageConfig selects and configures the persistence backend. Backend
// is "sqlite" (bolt-backed) or "null" (no persistence, the default when
// the [storage] table is absent entirely).
type StorageConfig struct {
	Backend string       `toml:"backend"`
	Sqlite  SqliteConfig `toml:"sqlite"`
}

// AdminConfig controls whether the admin UI is served, and from which
// directory its static assets are loaded (no UI is embedded in the binary).
type AdminConfig struct {
	Enabled        bool   `toml:"enabled"`
	AssetOverrides string `toml:"asset-overrides"`
}

// HTTPConfig describes one HTTP listener: JSON REST, WebSocket upgrade,
// the /metrics and /health endpoints, and optionally the admin UI.
type HTTPConfig struct {
	Addr        string      `toml:"addr"`
	AllowOrigin string      `toml:"allow-origin"`
	Admin       AdminConfig `toml:"admin"`
}

// TCPConfig describes one TCP listener. It speaks the kind-tagged,
// length-prefixed frames of wire.WriteTCPFrame; it does not accept
// newline-delimited JSON.
type TCPConfig struct {
	Addr string `toml:"addr"`
}

// KafkaConfig describes an inbound ingestion bridge: every message
// consumed from Topics is decoded as {name, value} and applied with
// Broker.Set, with ObjectPrefix prepended to name.
type KafkaConfig struct {
	Brokers      []string `toml:"brokers"`
	Group        string   `toml:"group"`
	Topics       []string `toml:"topics"`
	ObjectPrefix string   `toml:"objectPrefix"`
}

// NATSConfig mirrors every log record the broker produces onto a NATS
// subject, for shipping logs out of process without a transport client.
type NATSConfig struct {
	Addr    string `toml:"addr"`
	Subject string `toml:"subject"`
}

// MonitorConfig controls the periodic $system resource patcher.
type MonitorConfig struct {
	Interval time.Duration `toml:"interval"`
}

// Config is the root of objtalkd's configuration file.
type Config struct {
	Storage *StorageConfig `toml:"storage"`
	HTTP    []HTTPConfig   `toml:"http"`
	TCP     []TCPConfig    `toml:"tcp"`
	Kafka   []KafkaConfig  `toml:"kafka"`
	NATS    *NATSConfig    `toml:"nats"`
	Monitor *MonitorConfig `toml:"monitor"`
}

// Load parses path as TOML into a Config. Unknown top-level keys are
// rejected; missing tables simply leave their field at its zero value
// (nil slice, nil pointer).
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}
	if cfg.Monitor != nil && cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = 15 * time.Second
	}
	return &cfg, nil
}

// Parse behaves like Load but reads from an in-memory TOML document
// rather than a file path; used by tests.
func Parse(doc string) (*Config, error) {
	var cfg Config
	meta, err := toml.Decode(doc, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}
	if cfg.Monitor != nil && cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = 15 * time.Second
	}
	return &cfg, nil
}
