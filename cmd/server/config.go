package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/aleksa2808/bevy-networked-platformer/game"
)

const (
	transportKCP = "kcp"
	transportWS  = "ws"
)

// config holds the match server settings. Everything is set through
// environment variables so the binary drops into a container unchanged.
type config struct {
	// Addr is the listen address handed to the transport.
	Addr string `env:"NETCODE_ADDR" envDefault:":26510"`

	// Transport selects the wire transport, "kcp" or "ws".
	Transport string `env:"NETCODE_TRANSPORT" envDefault:"kcp"`

	// MaxPlayers caps admitted players. The duel world has two slots.
	MaxPlayers int `env:"NETCODE_MAX_PLAYERS" envDefault:"2"`

	LogLevel  string `env:"NETCODE_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"NETCODE_LOG_PRETTY" envDefault:"false"`

	// RedisAddr enables snapshot archival when set.
	RedisAddr      string        `env:"NETCODE_REDIS_ADDR"`
	RedisPassword  string        `env:"NETCODE_REDIS_PASSWORD"`
	RedisNamespace string        `env:"NETCODE_REDIS_NAMESPACE" envDefault:"platformer"`
	SnapshotTTL    time.Duration `env:"NETCODE_SNAPSHOT_TTL" envDefault:"24h"`

	// StatsdAddr enables metric emission when set.
	StatsdAddr string `env:"NETCODE_STATSD_ADDR"`

	ShutdownGrace time.Duration `env:"NETCODE_SHUTDOWN_GRACE" envDefault:"10s"`
}

// loadConfig reads the server configuration from environment variables.
func loadConfig() (config, error) {
	cfg := config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse server config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate server config")
	}

	return cfg, nil
}

func (cfg *config) validate() error {
	if cfg.Addr == "" {
		return eris.New("listen address cannot be empty")
	}
	switch cfg.Transport {
	case transportKCP, transportWS:
	default:
		return eris.Errorf("unknown transport %q, want %q or %q", cfg.Transport, transportKCP, transportWS)
	}
	if cfg.MaxPlayers < 1 || cfg.MaxPlayers > game.PlayerCount {
		return eris.Errorf("max players must be between 1 and %d", game.PlayerCount)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return eris.Wrapf(err, "unknown log level %q", cfg.LogLevel)
	}
	if cfg.RedisAddr != "" && cfg.SnapshotTTL <= 0 {
		return eris.New("snapshot TTL must be positive")
	}
	if cfg.ShutdownGrace <= 0 {
		return eris.New("shutdown grace must be positive")
	}
	return nil
}

// logLevel returns the parsed level. validate has already checked it.
func (cfg *config) logLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
