// Package timeline stores the bounded rollback window: one entry per
// simulated tick holding the serialized state and the commands that produced
// it. Rollback is only possible for ticks still inside the window, so the
// retention must exceed the worst round trip you intend to correct across.
// That is an operational constraint, not a bug.
package timeline

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/aleksa2808/bevy-networked-platformer/protocol"
)

var (
	ErrTickNotReached = errors.New("tick has not been simulated yet")
	ErrTickEvicted    = errors.New("tick has been evicted from the rollback window")
	ErrGap            = errors.New("push would leave a gap in the timeline")
)

// Entry is one simulated tick: the state at the tick boundary after stepping,
// its checksum, and the commands that were applied to produce it. State and
// Commands are owned by the timeline once pushed; callers must not mutate
// them afterwards.
type Entry struct {
	Tick     protocol.Tick
	State    []byte
	Checksum string
	Commands []protocol.Command
}

// Timeline is a tick indexed ring buffer of simulation history. Entries for a
// given tick are assigned to an index into the entries slice which acts as a
// ring. It is owned by a single simulation loop and is not safe for
// concurrent use.
type Timeline struct {
	size    int
	entries []Entry
	oldest  protocol.Tick
	newest  protocol.Tick
	filled  bool
}

// New creates a timeline retaining the given number of past ticks plus the
// current one.
func New(retentionTicks int) *Timeline {
	if retentionTicks < 1 {
		retentionTicks = 1
	}
	// One extra slot for the tick currently being written.
	size := retentionTicks + 1
	return &Timeline{
		size:    size,
		entries: make([]Entry, size),
	}
}

// Capacity returns the number of past ticks the timeline retains.
func (tl *Timeline) Capacity() int {
	return tl.size - 1
}

// Len returns the number of retained entries.
func (tl *Timeline) Len() int {
	if !tl.filled {
		return 0
	}
	return int(tl.newest-tl.oldest) + 1
}

// Bounds returns the oldest and newest retained ticks. ok is false when the
// timeline is empty.
func (tl *Timeline) Bounds() (oldest, newest protocol.Tick, ok bool) {
	if !tl.filled {
		return 0, 0, false
	}
	return tl.oldest, tl.newest, true
}

// Push stores an entry. Pushing a tick already inside the window overwrites
// it: that is how rollback rewrites history. Pushing newest+1 appends and
// evicts the oldest entry once the window is full. Pushing past newest+1
// fails with ErrGap, pushing below the window with ErrTickEvicted.
func (tl *Timeline) Push(e Entry) error {
	if !tl.filled {
		tl.entries[tl.slot(e.Tick)] = e
		tl.oldest, tl.newest = e.Tick, e.Tick
		tl.filled = true
		return nil
	}
	switch {
	case e.Tick < tl.oldest:
		return eris.Wrap(ErrTickEvicted, "")
	case e.Tick <= tl.newest:
		tl.entries[tl.slot(e.Tick)] = e
		return nil
	case e.Tick == tl.newest+1:
		tl.entries[tl.slot(e.Tick)] = e
		tl.newest = e.Tick
		if int(tl.newest-tl.oldest) >= tl.size {
			tl.oldest = tl.newest - protocol.Tick(tl.size) + 1
		}
		return nil
	default:
		return eris.Wrap(ErrGap, "")
	}
}

// Get returns the entry for a tick. Future ticks fail with ErrTickNotReached,
// evicted ticks with ErrTickEvicted.
func (tl *Timeline) Get(tick protocol.Tick) (Entry, error) {
	if !tl.filled || tick > tl.newest {
		return Entry{}, eris.Wrap(ErrTickNotReached, "")
	}
	if tick < tl.oldest {
		return Entry{}, eris.Wrap(ErrTickEvicted, "")
	}
	return tl.entries[tl.slot(tick)], nil
}

// TruncateAfter discards all entries strictly after the given tick. Used
// before re-simulating forward. Truncating below the window empties the
// timeline.
func (tl *Timeline) TruncateAfter(tick protocol.Tick) {
	if !tl.filled || tick >= tl.newest {
		return
	}
	if tick < tl.oldest {
		tl.Reset()
		return
	}
	tl.newest = tick
}

// Reset empties the timeline, e.g. after a full state resync.
func (tl *Timeline) Reset() {
	tl.filled = false
	tl.oldest, tl.newest = 0, 0
}

func (tl *Timeline) slot(tick protocol.Tick) int {
	s := int(tick % protocol.Tick(tl.size))
	if s < 0 {
		s += tl.size
	}
	return s
}
