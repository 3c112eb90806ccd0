// Package tickclock converts variable wall-clock deltas into whole simulation
// ticks at a fixed timestep.
package tickclock

import (
	"time"
)

// Accumulator owes out whole ticks as wall-clock time passes, carrying the
// fractional remainder between calls. It is not safe for concurrent use.
type Accumulator struct {
	timestep time.Duration
	// maxDelta caps how much a single elapsed delta may credit; anything past
	// it is dropped, not deferred. Guards against unbounded catch-up after a
	// process stall.
	maxDelta time.Duration
	// maxTicks caps how many ticks one Advance call may return; the surplus is
	// likewise dropped.
	maxTicks int
	acc      time.Duration
}

func NewAccumulator(timestep, maxDelta time.Duration, maxTicks int) *Accumulator {
	if timestep <= 0 {
		panic("tickclock: timestep must be positive")
	}
	return &Accumulator{
		timestep: timestep,
		maxDelta: maxDelta,
		maxTicks: maxTicks,
	}
}

// Advance credits elapsed wall-clock time and returns the number of whole
// ticks now owed. dropped reports ticks clamped away by the stall guards;
// they will never be owed again. Negative elapsed counts as zero.
func (a *Accumulator) Advance(elapsed time.Duration) (ticks, dropped int) {
	if elapsed < 0 {
		elapsed = 0
	}
	if a.maxDelta > 0 && elapsed > a.maxDelta {
		excess := elapsed - a.maxDelta
		dropped += int(excess / a.timestep)
		elapsed = a.maxDelta
	}

	a.acc += elapsed
	ticks = int(a.acc / a.timestep)
	a.acc -= time.Duration(ticks) * a.timestep

	if a.maxTicks > 0 && ticks > a.maxTicks {
		dropped += ticks - a.maxTicks
		ticks = a.maxTicks
	}
	return ticks, dropped
}

// Remainder returns the fractional tick currently carried over.
func (a *Accumulator) Remainder() time.Duration {
	return a.acc
}

// Timestep returns the fixed tick duration.
func (a *Accumulator) Timestep() time.Duration {
	return a.timestep
}
