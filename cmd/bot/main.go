// Command bot runs a headless scripted client against a match server. It is
// the smoke test for the real transports: it joins, reaches prediction, plays
// a canned input loop and logs the view it would render.
//
// It reads the same NETCODE_ADDR and NETCODE_TRANSPORT variables as the
// server, so an unconfigured bot connects to an unconfigured local server.
package main

import (
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	netcode "github.com/aleksa2808/bevy-networked-platformer"
	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/game"
	"github.com/aleksa2808/bevy-networked-platformer/log"
	"github.com/aleksa2808/bevy-networked-platformer/shutdown"
	"github.com/aleksa2808/bevy-networked-platformer/transport"
	"github.com/aleksa2808/bevy-networked-platformer/transport/kcpnet"
	"github.com/aleksa2808/bevy-networked-platformer/transport/wsnet"
)

type config struct {
	Addr      string `env:"NETCODE_ADDR" envDefault:"127.0.0.1:26510"`
	Transport string `env:"NETCODE_TRANSPORT" envDefault:"kcp"`
	LogLevel  string `env:"NETCODE_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"NETCODE_LOG_PRETTY" envDefault:"true"`
}

func main() {
	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		logger := log.New(nil, zerolog.InfoLevel, false)
		logger.Fatal().Err(err).Msg("bad configuration")
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := log.New(nil, lvl, cfg.LogPretty)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("bot stopped")
	}
}

func run(cfg config, logger zerolog.Logger) error {
	conn, err := dial(cfg, logger)
	if err != nil {
		return err
	}

	syncCfg := netcode.DefaultConfig()
	c, err := netcode.NewClient(game.NewWorld(), syncCfg, conn,
		netcode.WithLogger(log.Component(logger, "client")))
	if err != nil {
		return err
	}

	var wantStop atomic.Bool
	shutdown.OnSignal(logger, shutdown.DefaultGrace, func() error {
		wantStop.Store(true)
		return c.Close()
	})

	logger.Info().Str("addr", cfg.Addr).Str("transport", cfg.Transport).Msg("bot connecting")

	ticker := time.NewTicker(syncCfg.Timestep)
	defer ticker.Stop()

	var lastReport time.Time
	for now := range ticker.C {
		if err := c.Update(now); err != nil {
			switch {
			case eris.Is(err, transport.ErrClosed):
				if wantStop.Load() {
					logger.Info().Msg("bot disconnected")
					return nil
				}
				return eris.Wrap(err, "connection lost")
			case eris.Is(err, netcode.ErrDesyncUnrecoverable), eris.Is(err, netcode.ErrClockDesync):
				// The client has already begun recovering; keep driving it.
				logger.Warn().Err(err).Msg("resynchronizing")
				continue
			default:
				return err
			}
		}

		if c.Stage() == netcode.StagePredicting {
			issueScripted(c, logger)
		}
		if now.Sub(lastReport) >= time.Second {
			lastReport = now
			report(c, logger)
		}
	}
	return nil
}

func dial(cfg config, logger zerolog.Logger) (transport.Conn, error) {
	switch cfg.Transport {
	case "ws":
		return wsnet.Dial(cfg.Addr, logger)
	default:
		return kcpnet.Dial(cfg.Addr, logger)
	}
}

// scriptedInput is the canned play: walk one way for four seconds, then the
// other, hopping and firing on the way.
func scriptedInput(tick netcode.Tick) game.Input {
	phase := int64(tick) / 240 % 2
	return game.Input{
		Right:  phase == 0,
		Left:   phase == 1,
		Action: int64(tick)%45 == 0,
	}
}

func issueScripted(c *netcode.Client, logger zerolog.Logger) {
	payload, err := codec.Encode(scriptedInput(c.CurrentTick()))
	if err != nil {
		logger.Warn().Err(err).Msg("encoding input failed")
		return
	}
	if err := c.IssueCommand(payload); err != nil {
		logger.Debug().Err(err).Msg("command rejected")
	}
}

func report(c *netcode.Client, logger zerolog.Logger) {
	est := c.ClockEstimate()
	ev := logger.Info().
		Str("stage", string(c.Stage())).
		Int64("tick", int64(c.CurrentTick())).
		Dur("rtt", est.RTT)
	if view, ok := c.DisplayState().(game.Display); ok {
		ev = ev.Uint8("round", view.Round)
		if id, joined := c.PlayerID(); joined {
			me := view.Players[id]
			ev = ev.Uint8("player", uint8(id)).Float64("x", me.X).Float64("y", me.Y)
		}
	}
	ev.Msg("bot view")
}
