package netcode

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/wI2L/jsondiff"

	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/protocol"
	"github.com/aleksa2808/bevy-networked-platformer/statsd"
	"github.com/aleksa2808/bevy-networked-platformer/timeline"
)

// reconcile folds an authoritative snapshot into the predicted timeline.
//
// Outcomes, in order of checking: a snapshot older than one already
// processed is stale and dropped; a snapshot at or past the client's own
// tick means the client is behind and adopts it outright; a snapshot older
// than the retained window cannot be rolled back to and forces a resync; a
// matching checksum acknowledges the prediction; a mismatch rolls back and
// replays.
func (c *Client) reconcile(snap protocol.Snapshot) error {
	if snap.Tick <= c.lastSnap {
		return eris.Wrap(ErrStaleSnapshot, "")
	}
	c.lastSnap = snap.Tick

	if snap.Tick >= c.tick {
		// The server is ahead of the prediction. There is nothing to roll
		// back; restart from the snapshot.
		c.log.Debug().
			Int64("snapshotTick", int64(snap.Tick)).
			Int64("clientTick", int64(c.tick)).
			Msg("prediction behind server, adopting snapshot")
		return c.adopt(snap.Tick, snap.State, snap.Checksum)
	}

	oldest, _, ok := c.tl.Bounds()
	if !ok {
		return c.adopt(snap.Tick, snap.State, snap.Checksum)
	}
	if snap.Tick < oldest {
		// The freshest state the server offered fell out of our window: the
		// prediction has outrun what it can correct.
		c.requestResync()
		return eris.Wrapf(ErrDesyncUnrecoverable,
			"snapshot tick %d is older than retained tick %d", snap.Tick, oldest)
	}

	entry, err := c.tl.Get(snap.Tick)
	if err != nil {
		return eris.Wrap(err, "failed to read timeline")
	}
	if entry.Checksum == snap.Checksum {
		c.lastAcked = snap.Tick
		c.pruneRecent()
		return nil
	}

	return c.rollback(entry, snap)
}

// rollback rewrites history from the snapshot's tick: restore the
// authoritative state, replay the recorded commands tick by tick back up to
// where the prediction was.
func (c *Client) rollback(entry timeline.Entry, snap protocol.Snapshot) error {
	depth := int(c.tick - snap.Tick - 1)

	if c.log.GetLevel() <= zerolog.DebugLevel {
		if patch, err := jsondiff.CompareJSON(entry.State, snap.State); err == nil {
			c.log.Debug().
				Int64("tick", int64(snap.Tick)).
				Int("depth", depth).
				Str("diff", patch.String()).
				Msg("prediction diverged")
		}
	}

	// Capture what is on screen before history changes, so the correction
	// can be blended in instead of popping.
	if c.display != nil {
		c.blendFrom = c.DisplayState()
		c.blendTicks = 0
	}

	// The replay commands live in the entries about to be truncated.
	replay := make([][]Command, 0, depth)
	for t := snap.Tick + 1; t < c.tick; t++ {
		e, err := c.tl.Get(t)
		if err != nil {
			return eris.Wrapf(err, "failed to read commands for tick %d", t)
		}
		replay = append(replay, e.Commands)
	}

	c.tl.TruncateAfter(snap.Tick - 1)
	if err := c.world.RestoreState(snap.State); err != nil {
		return eris.Wrap(err, "failed to restore authoritative state")
	}
	err := c.tl.Push(timeline.Entry{
		Tick:     snap.Tick,
		State:    snap.State,
		Checksum: snap.Checksum,
	})
	if err != nil {
		return eris.Wrap(err, "failed to rewrite timeline")
	}

	for i, cmds := range replay {
		t := snap.Tick + 1 + Tick(i)
		for _, cmd := range cmds {
			c.world.ApplyCommand(cmd)
		}
		c.world.Step()

		state, err := c.world.SnapshotState()
		if err != nil {
			return eris.Wrap(err, "failed to snapshot replayed state")
		}
		err = c.tl.Push(timeline.Entry{
			Tick:     t,
			State:    state,
			Checksum: codec.ChecksumBytes(state),
			Commands: cmds,
		})
		if err != nil {
			return eris.Wrapf(err, "failed to record replayed tick %d", t)
		}
	}

	statsd.EmitRollbackStat(depth)
	c.lastAcked = snap.Tick
	c.pruneRecent()
	return nil
}

// requestResync abandons prediction and asks the server for a reliable full
// state to restart from. Periodic snapshots arriving first serve just as
// well; whichever full state lands first gets adopted.
func (c *Client) requestResync() {
	if c.resyncing {
		return
	}
	c.resyncing = true
	statsd.EmitResyncStat()

	_, newest, _ := c.tl.Bounds()
	c.tl.Reset()
	c.blendFrom = nil
	c.stage.Store(StageAwaitingSnapshot)
	c.log.Warn().Int64("newestTick", int64(newest)).Msg("requesting full resync")

	env, err := protocol.NewEnvelope(protocol.KindResyncRequest, protocol.ResyncRequest{NewestTick: newest})
	if err != nil {
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		return
	}
	if err := c.conn.SendReliable(raw); err != nil {
		c.log.Error().Err(err).Msg("resync request send failed")
	}
}
