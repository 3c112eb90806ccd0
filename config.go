package netcode

import (
	"time"

	"github.com/rotisserie/eris"
)

// Config holds the tunables shared by client and server. Both sides must
// agree on Timestep; the rest may differ per side without breaking the
// protocol.
type Config struct {
	// Timestep is the fixed duration of one simulation tick.
	Timestep time.Duration

	// MaxDelta clamps a single wall clock delta fed to the tick accumulator.
	// Time beyond it is dropped, so a long stall produces a bounded burst of
	// catch up ticks instead of a spiral.
	MaxDelta time.Duration

	// MaxTicksPerAdvance caps how many ticks one update may simulate,
	// both for catch up and for rollback fast forward.
	MaxTicksPerAdvance int

	// RetentionTicks is how many past ticks the timeline keeps. Rollback is
	// impossible beyond it, so it must comfortably exceed the worst round
	// trip plus the snapshot period or clients will be forced into resyncs.
	RetentionTicks int

	// ClockSyncPeriod is how often the client pings the server clock.
	ClockSyncPeriod time.Duration

	// NeededSamples is how many accepted clock samples are required before
	// the offset estimate counts as confident.
	NeededSamples int

	// OutlierFactor rejects clock samples whose RTT exceeds this multiple
	// of the running median.
	OutlierFactor float64

	// MaxDeviationTicks is the widest offset spread, in ticks, the sample
	// ring may show while still counting as confident.
	MaxDeviationTicks float64

	// LagCompensationLatency is extra lead time the client adds on top of
	// half the round trip so its commands arrive before the server
	// simulates their tick.
	LagCompensationLatency time.Duration

	// CommandLookahead is how many ticks past the newest simulated tick the
	// command queue accepts. Anything further out is rejected as spoofed.
	CommandLookahead int

	// CommandResendWindow is how many recent unacknowledged commands ride
	// along with every new one. Commands are deduplicated on receipt, so
	// resending is free redundancy against loss.
	CommandResendWindow int

	// SnapshotSendPeriod is the number of ticks between authoritative
	// snapshot broadcasts.
	SnapshotSendPeriod int

	// BlendWindowTicks is how many simulated ticks the client takes to
	// blend away the visible remainder of a rollback correction.
	BlendWindowTicks int

	// SessionIdleTimeout is how long the server keeps a session that has
	// sent nothing before disconnecting it.
	SessionIdleTimeout time.Duration
}

// DefaultConfig returns the tuning for a 60 Hz simulation.
func DefaultConfig() Config {
	return Config{
		Timestep:               time.Second / 60,
		MaxDelta:               250 * time.Millisecond,
		MaxTicksPerAdvance:     10,
		RetentionTicks:         120,
		ClockSyncPeriod:        200 * time.Millisecond,
		NeededSamples:          8,
		OutlierFactor:          3.0,
		MaxDeviationTicks:      1.5,
		LagCompensationLatency: 50 * time.Millisecond,
		CommandLookahead:       30,
		CommandResendWindow:    3,
		SnapshotSendPeriod:     6,
		BlendWindowTicks:       12,
		SessionIdleTimeout:     30 * time.Second,
	}
}

// Validate checks that the configuration can run at all.
func (cfg Config) Validate() error {
	if cfg.Timestep <= 0 {
		return eris.New("timestep must be positive")
	}
	if cfg.MaxDelta < cfg.Timestep {
		return eris.New("max delta must cover at least one timestep")
	}
	if cfg.MaxTicksPerAdvance < 1 {
		return eris.New("max ticks per advance must be at least 1")
	}
	if cfg.RetentionTicks < 1 {
		return eris.New("retention ticks must be at least 1")
	}
	if cfg.ClockSyncPeriod <= 0 {
		return eris.New("clock sync period must be positive")
	}
	if cfg.NeededSamples < 1 {
		return eris.New("needed samples must be at least 1")
	}
	if cfg.OutlierFactor <= 1 {
		return eris.New("outlier factor must be greater than 1")
	}
	if cfg.MaxDeviationTicks <= 0 {
		return eris.New("max deviation ticks must be positive")
	}
	if cfg.LagCompensationLatency < 0 {
		return eris.New("lag compensation latency cannot be negative")
	}
	if cfg.CommandLookahead < 1 {
		return eris.New("command lookahead must be at least 1")
	}
	if cfg.CommandResendWindow < 0 {
		return eris.New("command resend window cannot be negative")
	}
	if cfg.SnapshotSendPeriod < 1 {
		return eris.New("snapshot send period must be at least 1")
	}
	if cfg.SnapshotSendPeriod > cfg.RetentionTicks {
		return eris.New("snapshot send period cannot exceed retention ticks")
	}
	if cfg.BlendWindowTicks < 1 {
		return eris.New("blend window ticks must be at least 1")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return eris.New("session idle timeout must be positive")
	}
	return nil
}

// leadTicks is the number of ticks of lead the client targets over the
// estimated server tick.
func (cfg Config) leadTicks(rtt time.Duration) float64 {
	lead := rtt/2 + cfg.LagCompensationLatency
	return float64(lead) / float64(cfg.Timestep)
}
