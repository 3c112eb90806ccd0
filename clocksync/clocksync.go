// Package clocksync estimates where the server's tick counter sits relative
// to the local one, from ping/pong round trips. The estimate smooths jitter
// with an exponentially weighted moving average and rejects round trips far
// above the running median, which keeps transient spikes from poisoning it.
package clocksync

import (
	"sort"
	"time"

	"github.com/aleksa2808/bevy-networked-platformer/protocol"
)

const (
	DefaultNeededSamples     = 8
	DefaultOutlierFactor     = 3.0
	DefaultAlpha             = 0.1
	DefaultMaxDeviationTicks = 1.5

	// Outlier rejection needs a few round trips before the median means
	// anything.
	minSamplesForMedian = 3
)

type Config struct {
	// NeededSamples is how many accepted samples are required before the
	// estimate counts as confident.
	NeededSamples int
	// OutlierFactor rejects a sample when its RTT exceeds this multiple of
	// the running median RTT.
	OutlierFactor float64
	// Alpha is the EWMA smoothing factor in (0, 1]; higher tracks faster.
	Alpha float64
	// MaxDeviationTicks bounds the spread of recent offset samples for the
	// estimate to be confident.
	MaxDeviationTicks float64
}

func (c Config) withDefaults() Config {
	if c.NeededSamples < 1 {
		c.NeededSamples = DefaultNeededSamples
	}
	if c.OutlierFactor <= 1 {
		c.OutlierFactor = DefaultOutlierFactor
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	if c.MaxDeviationTicks <= 0 {
		c.MaxDeviationTicks = DefaultMaxDeviationTicks
	}
	return c
}

// Estimate is a value snapshot of the tracker state. Consumers read it, never
// share it.
type Estimate struct {
	// OffsetTicks added to a local tick position yields the server tick
	// position at the same instant.
	OffsetTicks float64
	RTT         time.Duration
	SampleCount int
	Rejected    int
	Confident   bool
}

// Tracker folds pong samples into a clock estimate. It is owned by the client
// loop and is not safe for concurrent use.
type Tracker struct {
	cfg Config

	lastSeq uint32
	seenSeq bool

	ewmaOffset float64
	ewmaRTT    float64 // seconds

	offsets []float64 // most recent accepted offsets, bounded by NeededSamples
	rtts    []float64 // most recent accepted RTTs in seconds, for the median

	accepted int
	rejected int
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

// AddSample folds one pong into the estimate and reports whether it was
// accepted. localTicksAtMid is the local continuous tick position at the
// midpoint of the round trip, i.e. when the server read its tick counter.
func (t *Tracker) AddSample(seq uint32, serverTick protocol.Tick, localTicksAtMid float64, rtt time.Duration) bool {
	// Pongs are latest-wins: answers that arrive out of order are stale.
	if t.seenSeq && seq <= t.lastSeq {
		t.rejected++
		return false
	}
	t.lastSeq = seq
	t.seenSeq = true

	rttSec := rtt.Seconds()
	if rttSec < 0 {
		t.rejected++
		return false
	}
	if len(t.rtts) >= minSamplesForMedian && rttSec > t.cfg.OutlierFactor*median(t.rtts) {
		t.rejected++
		return false
	}

	offset := float64(serverTick) - localTicksAtMid
	if t.accepted == 0 {
		t.ewmaOffset = offset
		t.ewmaRTT = rttSec
	} else {
		t.ewmaOffset += t.cfg.Alpha * (offset - t.ewmaOffset)
		t.ewmaRTT += t.cfg.Alpha * (rttSec - t.ewmaRTT)
	}

	t.offsets = appendBounded(t.offsets, offset, t.cfg.NeededSamples)
	t.rtts = appendBounded(t.rtts, rttSec, 2*t.cfg.NeededSamples)
	t.accepted++
	return true
}

// Estimate returns the current clock estimate. Confidence requires enough
// accepted samples and a bounded spread across the recent ones; it can be
// lost again under pathological jitter.
func (t *Tracker) Estimate() Estimate {
	return Estimate{
		OffsetTicks: t.ewmaOffset,
		RTT:         time.Duration(t.ewmaRTT * float64(time.Second)),
		SampleCount: t.accepted,
		Rejected:    t.rejected,
		Confident:   t.confident(),
	}
}

// ServerTicksFor maps a local continuous tick position onto the server's
// timeline.
func (t *Tracker) ServerTicksFor(localTicks float64) float64 {
	return localTicks + t.ewmaOffset
}

// Reset discards all samples, e.g. after a full resync or reconnect.
func (t *Tracker) Reset() {
	*t = Tracker{cfg: t.cfg}
}

func (t *Tracker) confident() bool {
	if t.accepted < t.cfg.NeededSamples || len(t.offsets) < t.cfg.NeededSamples {
		return false
	}
	lo, hi := t.offsets[0], t.offsets[0]
	for _, o := range t.offsets[1:] {
		if o < lo {
			lo = o
		}
		if o > hi {
			hi = o
		}
	}
	return hi-lo <= t.cfg.MaxDeviationTicks
}

func appendBounded(s []float64, v float64, bound int) []float64 {
	s = append(s, v)
	if len(s) > bound {
		s = s[len(s)-bound:]
	}
	return s
}

func median(s []float64) float64 {
	cp := make([]float64, len(s))
	copy(cp, s)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}
