package netcode

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/transport/memnet"
)

// Two clients on a clean 50ms link steer for a while and then go quiet. The
// predicted histories must converge on the authoritative one with no residual
// error, and the rollback blend must fully decay.
func TestScenarioPredictionConvergesWithZeroResidual(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, memnet.Config{Latency: 50 * time.Millisecond, Seed: 1}, 2)
	c0, w0 := h.addClient()
	c1, _ := h.addClient()
	h.waitStage(c0, StagePredicting, 400)
	h.waitStage(c1, StagePredicting, 400)

	sawBlend := false
	for i := 0; i < 200; i++ {
		if i%10 == 0 {
			assert.NilError(t, c0.IssueCommand(movePayload(t, 3)))
			assert.NilError(t, c1.IssueCommand(movePayload(t, -2)))
		}
		h.step()
		if c0.blendFrom != nil {
			sawBlend = true
		}
	}
	// Remote commands arrive after their tick on this link, so corrections
	// must have happened and been blended rather than popped.
	assert.Check(t, sawBlend)

	// Quiesce: no new input, snapshots keep flowing.
	h.steps(200)

	// Steady state: the client leads the server by roughly RTT/2 plus the
	// lag compensation margin.
	lead := int64(c0.CurrentTick()) - int64(h.srv.CurrentTick())
	assert.Check(t, lead >= 8 && lead <= 12, "lead was %d ticks", lead)

	// Both players' inputs reached the authoritative simulation.
	assert.Check(t, h.world.state.Pos[0] > 0)
	assert.Check(t, h.world.state.Pos[1] < 0)

	// The predicted past matches the authoritative past tick for tick.
	_, newest, ok := h.srv.tl.Bounds()
	assert.Check(t, ok)
	for tick := newest - 20; tick <= newest-5; tick++ {
		se, err := h.srv.tl.Get(tick)
		assert.NilError(t, err)
		for ci, c := range []*Client{c0, c1} {
			ce, err := c.tl.Get(tick)
			assert.NilError(t, err)
			assert.Equal(t, se.Checksum, ce.Checksum, "client %d tick %d", ci, tick)
		}
	}
	assert.Check(t, c0.lastAcked >= newest-12, "last ack at %d, server at %d", c0.lastAcked, newest)

	// No corrections left on screen.
	assert.Check(t, c0.blendFrom == nil)
	assert.DeepEqual(t, w0.DisplayState().(testDisplay), c0.DisplayState().(testDisplay))

	// A clean link never forces a resync or a clock fallback.
	for _, err := range h.errs[0] {
		assert.Check(t, !eris.Is(err, ErrDesyncUnrecoverable), "unexpected desync: %v", err)
		assert.Check(t, !eris.Is(err, ErrClockDesync), "unexpected clock fallback: %v", err)
	}
}

// A lossy link drops almost a third of all unreliable traffic. Command
// resends and periodic snapshots must keep both sides progressing without
// ever needing a full resync.
func TestScenarioLossyLinkKeepsProgress(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, memnet.Config{
		Latency:  30 * time.Millisecond,
		LossRate: 0.3,
		Seed:     42,
	}, 2)
	c0, _ := h.addClient()
	h.waitStage(c0, StagePredicting, 1000)

	startServer := h.srv.CurrentTick()
	startClient := c0.CurrentTick()
	for i := 0; i < 600; i++ {
		if i%20 == 0 {
			assert.NilError(t, c0.IssueCommand(movePayload(t, 5)))
		}
		h.step()
	}

	// The server never stalls, and the client keeps pace with its lead.
	assert.Equal(t, startServer+600, h.srv.CurrentTick())
	assert.Check(t, c0.CurrentTick() >= startClient+590,
		"client advanced %d ticks", c0.CurrentTick()-startClient)
	assert.Equal(t, StagePredicting, c0.Stage())
	lead := int64(c0.CurrentTick()) - int64(h.srv.CurrentTick())
	assert.Check(t, lead >= 6 && lead <= 10, "lead was %d ticks", lead)

	// Enough command batches survived the loss to move the player.
	assert.Check(t, h.world.state.Pos[0] > 0)

	for _, err := range h.errs[0] {
		assert.Check(t, !eris.Is(err, ErrDesyncUnrecoverable), "unexpected desync: %v", err)
	}
}

// With a rollback window much shorter than the snapshot round trip every
// periodic snapshot arrives too late to roll back to. The client must keep
// recovering through full resyncs instead of wedging.
func TestScenarioEvictedWindowRecoversViaResync(t *testing.T) {
	cfg := testConfig()
	cfg.RetentionTicks = 8
	h := newHarness(t, cfg, memnet.Config{Latency: 50 * time.Millisecond, Seed: 7}, 2)
	c0, _ := h.addClient()
	h.waitStage(c0, StagePredicting, 600)
	firstPredict := c0.CurrentTick()

	h.steps(600)

	desyncs := 0
	for _, err := range h.errs[0] {
		if eris.Is(err, ErrDesyncUnrecoverable) {
			desyncs++
		}
	}
	assert.Check(t, desyncs >= 2, "saw %d unrecoverable desyncs", desyncs)

	// Every desync recovered into prediction again, anchored to a fresh
	// authoritative state rather than wedging.
	h.waitStage(c0, StagePredicting, 200)
	assert.Check(t, c0.CurrentTick() > firstPredict+400,
		"client only reached tick %d", c0.CurrentTick())
	_, snewest, ok := h.srv.tl.Bounds()
	assert.Check(t, ok)
	assert.Check(t, c0.lastSnap >= snewest-12,
		"adopted base %d, server at %d", c0.lastSnap, snewest)
}
