package netcode

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/log"
	"github.com/aleksa2808/bevy-networked-platformer/stage"
	"github.com/aleksa2808/bevy-networked-platformer/transport/memnet"
)

// testWorld is a minimal deterministic simulation for exercising the sync
// core: four slots with a position and a sticky velocity each. A command sets
// the author's velocity; every Step adds velocities to positions.
type testState struct {
	Ticks int64      `json:"ticks"`
	Pos   [4]float64 `json:"pos"`
	Vel   [4]float64 `json:"vel"`
}

type testMove struct {
	Dx float64 `json:"dx"`
}

const testSpeedLimit = 100

type testWorld struct {
	state testState
}

func newTestWorld() *testWorld {
	return &testWorld{}
}

func (w *testWorld) ApplyCommand(cmd Command) {
	if cmd.IsNeutral() || int(cmd.PlayerID) >= len(w.state.Vel) {
		return
	}
	mv, err := codec.Decode[testMove](cmd.Payload)
	if err != nil {
		return
	}
	w.state.Vel[cmd.PlayerID] = mv.Dx
}

func (w *testWorld) ValidateCommand(cmd Command) error {
	if int(cmd.PlayerID) >= len(w.state.Vel) {
		return eris.Errorf("no slot %d", cmd.PlayerID)
	}
	if cmd.IsNeutral() {
		return nil
	}
	mv, err := codec.Decode[testMove](cmd.Payload)
	if err != nil {
		return eris.Wrap(err, "malformed move")
	}
	if mv.Dx > testSpeedLimit || mv.Dx < -testSpeedLimit {
		return eris.Errorf("speed %v over the limit", mv.Dx)
	}
	return nil
}

func (w *testWorld) Step() {
	for i := range w.state.Pos {
		w.state.Pos[i] += w.state.Vel[i]
	}
	w.state.Ticks++
}

func (w *testWorld) SnapshotState() ([]byte, error) {
	return codec.Encode(w.state)
}

func (w *testWorld) RestoreState(raw []byte) error {
	st, err := codec.Decode[testState](raw)
	if err != nil {
		return err
	}
	w.state = st
	return nil
}

type testDisplay struct {
	Ticks int64
	Pos   [4]float64
}

func (w *testWorld) DisplayState() DisplayState {
	return testDisplay{Ticks: w.state.Ticks, Pos: w.state.Pos}
}

func (d testDisplay) Lerp(to DisplayState, t float64) DisplayState {
	o, ok := to.(testDisplay)
	if !ok {
		return to
	}
	if t <= 0 {
		return d
	}
	if t >= 1 {
		return o
	}
	out := o
	for i := range out.Pos {
		out.Pos[i] = d.Pos[i] + (o.Pos[i]-d.Pos[i])*t
	}
	return out
}

func movePayload(t *testing.T, dx float64) []byte {
	t.Helper()
	raw, err := codec.Encode(testMove{Dx: dx})
	assert.NilError(t, err)
	return raw
}

// testConfig tightens the 60 Hz defaults so scenarios converge within a few
// hundred steps of virtual time. At a 10ms timestep a 100ms round trip plus
// the 50ms lag compensation puts the predicted lead at 10 ticks.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timestep = 10 * time.Millisecond
	cfg.ClockSyncPeriod = 50 * time.Millisecond
	return cfg
}

// harness wires a server and clients over a virtual clock memnet link and
// advances everything in lockstep: one step is one timestep of virtual time,
// one delivery pass, one server tick, then one Update per client.
type harness struct {
	t   *testing.T
	cfg Config

	net    *memnet.Network
	ln     *memnet.Listener
	srv    *Server
	world  *testWorld
	tickCh chan time.Time
	done   chan Tick
	errCh  chan error

	now      time.Time
	lastTick Tick
	ticked   bool
	stopped  bool

	clients []*Client
	worlds  []*testWorld
	// errs collects non-nil Update results per client, in order.
	errs [][]error
}

func newHarness(t *testing.T, cfg Config, netCfg memnet.Config, maxPlayers int, extra ...Option) *harness {
	t.Helper()
	n := memnet.New(netCfg)
	ln, err := n.Listen("server")
	assert.NilError(t, err)

	h := &harness{
		t:      t,
		cfg:    cfg,
		net:    n,
		ln:     ln,
		world:  newTestWorld(),
		tickCh: make(chan time.Time),
		done:   make(chan Tick, 1),
		errCh:  make(chan error, 1),
		now:    time.Unix(1_700_000_000, 0),
	}
	opts := append([]Option{
		WithLogger(log.Nop()),
		WithTickChannel(h.tickCh),
		WithTickDoneChannel(h.done),
		WithMaxPlayers(maxPlayers),
	}, extra...)
	srv, err := NewServer(h.world, cfg, ln, opts...)
	assert.NilError(t, err)
	h.srv = srv

	go func() { h.errCh <- srv.Start() }()
	waitRunning(t, srv)
	t.Cleanup(h.stop)
	return h
}

func waitRunning(t *testing.T, srv *Server) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if srv.IsRunning() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("server never reached the running stage")
}

func (h *harness) stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	for _, c := range h.clients {
		_ = c.Close()
	}
	assert.NilError(h.t, h.srv.Shutdown())
	assert.NilError(h.t, <-h.errCh)
}

func (h *harness) addClient() (*Client, *testWorld) {
	h.t.Helper()
	conn, err := h.net.Dial("server")
	assert.NilError(h.t, err)
	w := newTestWorld()
	c, err := NewClient(w, h.cfg, conn, WithLogger(log.Nop()))
	assert.NilError(h.t, err)
	h.clients = append(h.clients, c)
	h.worlds = append(h.worlds, w)
	h.errs = append(h.errs, nil)
	return c, w
}

// step advances the whole rig by one timestep. Ticks must never be skipped or
// repeated, so the completed tick is checked against the previous one.
func (h *harness) step() {
	h.t.Helper()
	h.now = h.now.Add(h.cfg.Timestep)
	h.net.Advance(h.cfg.Timestep)
	h.tickCh <- h.now
	tick := <-h.done
	if h.ticked {
		assert.Equal(h.t, h.lastTick+1, tick, "server skipped a tick")
	}
	h.lastTick, h.ticked = tick, true

	for i, c := range h.clients {
		if c.Stage() == StageDisconnected {
			continue
		}
		if err := c.Update(h.now); err != nil {
			h.errs[i] = append(h.errs[i], err)
		}
	}
}

func (h *harness) steps(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.step()
	}
}

// waitStage steps the rig until the client reaches the wanted stage.
func (h *harness) waitStage(c *Client, want stage.Stage, budget int) {
	h.t.Helper()
	for i := 0; i < budget; i++ {
		if c.Stage() == want {
			return
		}
		h.step()
	}
	h.t.Fatalf("client stuck in stage %s, wanted %s", c.Stage(), want)
}
