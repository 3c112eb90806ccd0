package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":26510", cfg.Addr)
	assert.Equal(t, transportKCP, cfg.Transport)
	assert.Equal(t, 2, cfg.MaxPlayers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "platformer", cfg.RedisNamespace)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.Empty(t, cfg.StatsdAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NETCODE_ADDR", ":4000")
	t.Setenv("NETCODE_TRANSPORT", "ws")
	t.Setenv("NETCODE_MAX_PLAYERS", "1")
	t.Setenv("NETCODE_LOG_LEVEL", "debug")
	t.Setenv("NETCODE_LOG_PRETTY", "true")
	t.Setenv("NETCODE_REDIS_ADDR", "localhost:6379")
	t.Setenv("NETCODE_REDIS_PASSWORD", "hunter2")
	t.Setenv("NETCODE_REDIS_NAMESPACE", "duel42")
	t.Setenv("NETCODE_SNAPSHOT_TTL", "1h")
	t.Setenv("NETCODE_STATSD_ADDR", "localhost:8125")
	t.Setenv("NETCODE_SHUTDOWN_GRACE", "3s")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, config{
		Addr:           ":4000",
		Transport:      transportWS,
		MaxPlayers:     1,
		LogLevel:       "debug",
		LogPretty:      true,
		RedisAddr:      "localhost:6379",
		RedisPassword:  "hunter2",
		RedisNamespace: "duel42",
		SnapshotTTL:    time.Hour,
		StatsdAddr:     "localhost:8125",
		ShutdownGrace:  3 * time.Second,
	}, cfg)
}

func TestConfigRejectsUnparsableEnv(t *testing.T) {
	t.Setenv("NETCODE_MAX_PLAYERS", "two")

	_, err := loadConfig()
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := config{
		Addr:          ":26510",
		Transport:     transportKCP,
		MaxPlayers:    2,
		LogLevel:      "info",
		ShutdownGrace: 10 * time.Second,
	}

	testCases := []struct {
		name    string
		mutate  func(*config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*config) {}, wantErr: false},
		{name: "empty addr", mutate: func(c *config) { c.Addr = "" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *config) { c.Transport = "carrier-pigeon" }, wantErr: true},
		{name: "zero players", mutate: func(c *config) { c.MaxPlayers = 0 }, wantErr: true},
		{name: "three players in a duel", mutate: func(c *config) { c.MaxPlayers = 3 }, wantErr: true},
		{name: "unknown log level", mutate: func(c *config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "redis without ttl", mutate: func(c *config) { c.RedisAddr = "localhost:6379" }, wantErr: true},
		{name: "zero grace", mutate: func(c *config) { c.ShutdownGrace = 0 }, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigLogLevel(t *testing.T) {
	cfg := config{LogLevel: "warn"}
	assert.Equal(t, "warn", cfg.logLevel().String())
}
