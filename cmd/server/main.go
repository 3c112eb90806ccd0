// Command server runs the authoritative match server for the duel: one fixed
// timestep world behind a wire transport, with optional snapshot archival to
// Redis and statsd metrics.
//
// All settings come from NETCODE_* environment variables; see config.go.
package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	netcode "github.com/aleksa2808/bevy-networked-platformer"
	"github.com/aleksa2808/bevy-networked-platformer/game"
	"github.com/aleksa2808/bevy-networked-platformer/log"
	"github.com/aleksa2808/bevy-networked-platformer/shutdown"
	"github.com/aleksa2808/bevy-networked-platformer/snapstore"
	"github.com/aleksa2808/bevy-networked-platformer/statsd"
	"github.com/aleksa2808/bevy-networked-platformer/transport"
	"github.com/aleksa2808/bevy-networked-platformer/transport/kcpnet"
	"github.com/aleksa2808/bevy-networked-platformer/transport/wsnet"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger := log.New(nil, zerolog.InfoLevel, false)
		logger.Fatal().Err(err).Msg("bad configuration")
	}
	logger := log.New(nil, cfg.logLevel(), cfg.LogPretty)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config, logger zerolog.Logger) error {
	if cfg.StatsdAddr != "" {
		if err := statsd.Init(cfg.StatsdAddr, []string{"role:server"}); err != nil {
			return eris.Wrap(err, "failed to init statsd")
		}
	}

	opts := []netcode.Option{
		netcode.WithLogger(log.Component(logger, "server")),
		netcode.WithMaxPlayers(cfg.MaxPlayers),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			return eris.Wrapf(err, "redis at %q is unreachable", cfg.RedisAddr)
		}
		opts = append(opts, netcode.WithSnapshotStore(
			snapstore.NewRedisStore(rdb, cfg.RedisNamespace, cfg.SnapshotTTL),
		))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("archiving snapshots to redis")
	}

	ln, err := listen(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := netcode.NewServer(game.NewWorld(), netcode.DefaultConfig(), ln, opts...)
	if err != nil {
		return err
	}

	shutdown.OnSignal(logger, cfg.ShutdownGrace, srv.Shutdown)

	logger.Info().
		Str("addr", ln.Addr()).
		Str("transport", cfg.Transport).
		Int("max_players", cfg.MaxPlayers).
		Msg("match server listening")
	return srv.Start()
}

func listen(cfg config, logger zerolog.Logger) (transport.Listener, error) {
	switch cfg.Transport {
	case transportWS:
		return wsnet.Listen(cfg.Addr, logger)
	default:
		return kcpnet.Listen(cfg.Addr, logger)
	}
}
