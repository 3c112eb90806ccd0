package netcode

import (
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/aleksa2808/bevy-networked-platformer/clocksync"
	"github.com/aleksa2808/bevy-networked-platformer/cmdqueue"
	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/log"
	"github.com/aleksa2808/bevy-networked-platformer/protocol"
	"github.com/aleksa2808/bevy-networked-platformer/stage"
	"github.com/aleksa2808/bevy-networked-platformer/statsd"
	"github.com/aleksa2808/bevy-networked-platformer/tickclock"
	"github.com/aleksa2808/bevy-networked-platformer/timeline"
	"github.com/aleksa2808/bevy-networked-platformer/transport"
)

// Client lifecycle stages.
const (
	// StageUninitialized is the stage before the first Update.
	StageUninitialized stage.Stage = "Uninitialized"
	// StageSynchronizing means the clock offset estimate is not yet
	// confident. Arriving snapshots are applied directly (server driven
	// playback) instead of being predicted against.
	StageSynchronizing stage.Stage = "Synchronizing"
	// StageAwaitingSnapshot means the clock is confident and the client is
	// waiting for one authoritative state to start predicting from.
	StageAwaitingSnapshot stage.Stage = "AwaitingSnapshot"
	// StagePredicting is normal operation: simulate ahead, reconcile
	// against snapshots.
	StagePredicting stage.Stage = "Predicting"
	// StageDisconnected is terminal.
	StageDisconnected stage.Stage = "Disconnected"
)

// Client drives a predicted copy of the world against a server. It is not
// safe for concurrent use: Update, IssueCommand and DisplayState must all be
// called from the same loop.
type Client struct {
	cfg   Config
	world World
	conn  transport.Conn
	log   zerolog.Logger

	stage   *stage.Manager
	tracker *clocksync.Tracker
	accum   *tickclock.Accumulator
	queue   *cmdqueue.Queue
	tl      *timeline.Timeline

	playerID  PlayerID
	sessionID uuid.UUID
	welcomed  bool
	welcome   *protocol.Welcome

	started    bool
	lastUpdate time.Time
	localTicks int64

	// tick is the next tick to simulate. Meaningful while predicting.
	tick Tick

	pingSeq  uint32
	lastPing time.Time

	issued    json.RawMessage
	recent    []Command
	lastAcked Tick
	lastSnap  Tick
	pending   *protocol.Snapshot

	display    DisplayStater
	blendFrom  DisplayState
	blendTicks int

	resyncing bool
}

// NewClient wraps an established connection. The handshake is sent on the
// first Update.
func NewClient(world World, cfg Config, conn transport.Conn, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid config")
	}
	_, clientOpts := separateOptions(opts)

	c := &Client{
		cfg:   cfg,
		world: world,
		conn:  conn,
		log:   log.Component(log.New(nil, zerolog.InfoLevel, false), "client"),
		stage: stage.NewManager(StageUninitialized),
		tracker: clocksync.NewTracker(clocksync.Config{
			NeededSamples:     cfg.NeededSamples,
			OutlierFactor:     cfg.OutlierFactor,
			MaxDeviationTicks: cfg.MaxDeviationTicks,
		}),
		accum:     tickclock.NewAccumulator(cfg.Timestep, cfg.MaxDelta, cfg.MaxTicksPerAdvance),
		queue:     cmdqueue.New(),
		tl:        timeline.New(cfg.RetentionTicks),
		lastAcked: -1,
		lastSnap:  -1,
	}
	if ds, ok := world.(DisplayStater); ok {
		c.display = ds
	}
	for _, opt := range clientOpts {
		opt(c)
	}
	return c, nil
}

// Update runs one frame of the client: drains the network, advances the
// clock, simulates up to date, and reconciles any buffered snapshot. now
// must be monotonic between calls.
//
// A returned ErrClockDesync or ErrDesyncUnrecoverable is informational; the
// client has already started recovering. A wrapped transport.ErrClosed is
// terminal.
func (c *Client) Update(now time.Time) error {
	if c.stage.Current() == StageDisconnected {
		return eris.Wrap(transport.ErrClosed, "client is disconnected")
	}
	if !c.started {
		c.started = true
		c.lastUpdate = now
		// Fire the first ping immediately.
		c.lastPing = now.Add(-c.cfg.ClockSyncPeriod)
		if err := c.sendHello(); err != nil {
			return err
		}
		c.stage.Store(StageSynchronizing)
	}

	elapsed := now.Sub(c.lastUpdate)
	c.lastUpdate = now
	ticks, dropped := c.accum.Advance(elapsed)
	c.localTicks += int64(ticks)
	if dropped > 0 {
		c.log.Debug().Int("ticks", dropped).Msg("dropped ticks after stall")
	}

	if err := c.pollNetwork(now); err != nil {
		return err
	}

	if now.Sub(c.lastPing) >= c.cfg.ClockSyncPeriod {
		c.lastPing = now
		c.sendPing(now)
	}

	var updateErr error
	est := c.tracker.Estimate()

	switch c.stage.Current() {
	case StageSynchronizing:
		if est.Confident {
			c.stage.Store(StageAwaitingSnapshot)
		} else if c.pending != nil {
			c.playback(*c.pending)
			c.pending = nil
		}
	case StagePredicting:
		if !est.Confident {
			c.log.Warn().
				Int("samples", est.SampleCount).
				Msg("clock sync confidence lost, falling back to playback")
			c.tl.Reset()
			c.blendFrom = nil
			c.stage.Store(StageSynchronizing)
			updateErr = eris.Wrap(ErrClockDesync, "")
		}
	}

	if c.stage.Current() == StageAwaitingSnapshot {
		if err := c.tryAdoptInitial(); err != nil {
			return err
		}
	}

	if c.stage.Current() == StagePredicting {
		if err := c.predict(est); err != nil {
			return err
		}
		if c.pending != nil {
			snap := *c.pending
			c.pending = nil
			if err := c.reconcile(snap); err != nil {
				switch {
				case eris.Is(err, ErrStaleSnapshot):
					c.log.Debug().
						Int64("tick", int64(snap.Tick)).
						Msg("discarded stale snapshot")
				case updateErr == nil:
					updateErr = err
				}
			}
		}
	}
	return updateErr
}

// tryAdoptInitial starts predicting from the freshest full state available:
// a buffered snapshot if one arrived, otherwise the welcome state.
func (c *Client) tryAdoptInitial() error {
	if c.pending != nil {
		snap := *c.pending
		c.pending = nil
		if c.welcome != nil && c.welcome.Tick > snap.Tick {
			return c.adopt(c.welcome.Tick, c.welcome.State, c.welcome.Checksum)
		}
		return c.adopt(snap.Tick, snap.State, snap.Checksum)
	}
	if c.welcome != nil {
		w := c.welcome
		return c.adopt(w.Tick, w.State, w.Checksum)
	}
	return nil
}

// adopt replaces the predicted world with an authoritative state and
// restarts prediction from it.
func (c *Client) adopt(tick Tick, state []byte, checksum string) error {
	if err := c.world.RestoreState(state); err != nil {
		return eris.Wrap(err, "failed to restore authoritative state")
	}
	c.tl.Reset()
	if err := c.tl.Push(timeline.Entry{Tick: tick, State: state, Checksum: checksum}); err != nil {
		return eris.Wrap(err, "failed to seed timeline")
	}
	c.tick = tick + 1
	c.queue.SetWindow(c.tick, c.tick+Tick(c.cfg.CommandLookahead))
	c.lastSnap = tick
	c.lastAcked = tick
	c.recent = nil
	c.blendFrom = nil
	c.welcome = nil
	c.resyncing = false
	c.stage.Store(StagePredicting)
	c.log.Info().Int64("tick", int64(tick)).Msg("adopted authoritative state")
	return nil
}

// playback applies a snapshot directly while the clock is not trusted. No
// prediction state survives it.
func (c *Client) playback(snap protocol.Snapshot) {
	if snap.Tick <= c.lastSnap {
		return
	}
	if err := c.world.RestoreState(snap.State); err != nil {
		c.log.Error().Err(err).Msg("playback restore failed")
		return
	}
	c.lastSnap = snap.Tick
	c.tick = snap.Tick + 1
}

// predict simulates forward until the client is the configured lead ahead of
// the estimated server tick, clamped per update. Runs of zero steps are
// normal: they are how the client stalls when its clock runs hot.
func (c *Client) predict(est clocksync.Estimate) error {
	target := c.tracker.ServerTicksFor(c.localTicksFloat()) + c.cfg.leadTicks(est.RTT)
	steps := int(math.Floor(target)) - int(c.tick) + 1
	if steps <= 0 {
		return nil
	}
	if steps > c.cfg.MaxTicksPerAdvance {
		steps = c.cfg.MaxTicksPerAdvance
	}
	for i := 0; i < steps; i++ {
		if err := c.stepPredicted(); err != nil {
			return err
		}
	}
	return nil
}

// stepPredicted simulates exactly one tick: stamp and send any issued
// command, drain the queue for the tick, apply, step, record.
func (c *Client) stepPredicted() error {
	t := c.tick
	if len(c.issued) > 0 {
		cmd := Command{PlayerID: c.playerID, Tick: t, Payload: c.issued}
		c.issued = nil
		if err := c.queue.Enqueue(cmd); err != nil {
			c.log.Warn().Err(err).Msg("dropped own command")
		} else {
			c.rememberCommand(cmd)
			c.sendCommands()
		}
	}

	cmds := orderedCommands(c.queue.Drain(t))
	for _, cmd := range cmds {
		c.world.ApplyCommand(cmd)
	}
	c.world.Step()

	state, err := c.world.SnapshotState()
	if err != nil {
		return eris.Wrap(err, "failed to snapshot predicted state")
	}
	err = c.tl.Push(timeline.Entry{
		Tick:     t,
		State:    state,
		Checksum: codec.ChecksumBytes(state),
		Commands: cmds,
	})
	if err != nil {
		return eris.Wrap(err, "failed to record predicted tick")
	}

	c.tick++
	c.queue.SetWindow(c.tick, c.tick+Tick(c.cfg.CommandLookahead))

	if c.blendFrom != nil {
		c.blendTicks++
		if c.blendTicks >= c.cfg.BlendWindowTicks {
			c.blendFrom = nil
		}
	}
	return nil
}

// IssueCommand stages an input payload for the next predicted tick. Only one
// payload is staged at a time; issuing again before the next tick replaces
// it. Commands can only be issued while predicting.
func (c *Client) IssueCommand(payload []byte) error {
	if c.stage.Current() != StagePredicting {
		return eris.Wrapf(ErrInvalidCommand, "cannot issue commands in stage %s", c.stage.Current())
	}
	if len(payload) == 0 {
		return eris.Wrap(ErrInvalidCommand, "empty payload")
	}
	if v, ok := c.world.(CommandValidator); ok {
		cmd := Command{PlayerID: c.playerID, Tick: c.tick, Payload: payload}
		if err := v.ValidateCommand(cmd); err != nil {
			return eris.Wrap(ErrInvalidCommand, err.Error())
		}
	}
	c.issued = payload
	return nil
}

// DisplayState returns the render view, with any active rollback correction
// blended in. Returns nil when the world has no display support.
func (c *Client) DisplayState() DisplayState {
	if c.display == nil {
		return nil
	}
	cur := c.display.DisplayState()
	if c.blendFrom == nil {
		return cur
	}
	p := float64(c.blendTicks) / float64(c.cfg.BlendWindowTicks)
	if p >= 1 {
		return cur
	}
	return c.blendFrom.Lerp(cur, p)
}

func (c *Client) pollNetwork(now time.Time) error {
	msgs, pollErr := c.conn.Poll()
	for _, raw := range msgs {
		env, err := protocol.UnmarshalEnvelope(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarded malformed message")
			continue
		}
		if err := c.handleMessage(env, now); err != nil {
			return err
		}
	}
	if pollErr != nil {
		c.stage.Store(StageDisconnected)
		return eris.Wrap(pollErr, "transport failed")
	}
	return nil
}

func (c *Client) handleMessage(env protocol.Envelope, now time.Time) error {
	switch env.Kind {
	case protocol.KindWelcome:
		w, err := codec.Decode[protocol.Welcome](env.Data)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarded malformed welcome")
			return nil
		}
		if c.welcomed {
			c.log.Warn().Msg("ignored duplicate welcome")
			return nil
		}
		c.welcomed = true
		c.playerID = w.PlayerID
		c.sessionID = w.SessionID
		c.welcome = &w
		c.queue.AddPlayer(w.PlayerID)
		c.log = log.Player(c.log, uint8(w.PlayerID))
		if w.TimestepSeconds > 0 {
			serverStep := time.Duration(w.TimestepSeconds * float64(time.Second))
			if diff := serverStep - c.cfg.Timestep; diff > time.Microsecond || diff < -time.Microsecond {
				c.log.Warn().
					Dur("serverTimestep", serverStep).
					Dur("localTimestep", c.cfg.Timestep).
					Msg("timestep mismatch with server")
			}
		}
		c.log.Info().
			Str("sessionId", c.sessionID.String()).
			Msg("session established")

	case protocol.KindPong:
		pong, err := codec.Decode[protocol.Pong](env.Data)
		if err != nil {
			return nil
		}
		rtt := now.Sub(time.Unix(0, pong.ClientTime))
		rttTicks := float64(rtt) / float64(c.cfg.Timestep)
		localMid := c.localTicksFloat() - rttTicks/2
		accepted := c.tracker.AddSample(pong.Seq, pong.ServerTick, localMid, rtt)
		statsd.EmitClockSampleStat(rtt, accepted)

	case protocol.KindSnapshot:
		snap, err := codec.Decode[protocol.Snapshot](env.Data)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarded malformed snapshot")
			return nil
		}
		if c.pending == nil || snap.Tick > c.pending.Tick {
			c.pending = &snap
		}

	case protocol.KindCommandBatch:
		batch, err := codec.Decode[protocol.CommandBatch](env.Data)
		if err != nil {
			return nil
		}
		for _, cmd := range batch.Commands {
			if c.welcomed && cmd.PlayerID == c.playerID {
				continue
			}
			if !c.queue.HasPlayer(cmd.PlayerID) {
				c.queue.AddPlayer(cmd.PlayerID)
			}
			// Late or far-future relays fall outside the window; the next
			// snapshot carries their effects instead.
			_ = c.queue.Enqueue(cmd)
		}

	case protocol.KindResyncResponse:
		resp, err := codec.Decode[protocol.ResyncResponse](env.Data)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarded malformed resync response")
			return nil
		}
		if c.stage.Current() == StagePredicting && resp.Tick <= c.lastSnap {
			// A periodic snapshot already restarted prediction past this
			// response.
			c.log.Debug().Int64("tick", int64(resp.Tick)).Msg("discarded stale resync response")
			return nil
		}
		c.pending = nil
		return c.adopt(resp.Tick, resp.State, resp.Checksum)

	case protocol.KindDisconnect:
		d, _ := codec.Decode[protocol.Disconnect](env.Data)
		c.log.Info().Str("reason", d.Reason).Msg("server closed the session")
		c.stage.Store(StageDisconnected)
		_ = c.conn.Close()
		return eris.Wrap(transport.ErrClosed, "server closed the session")

	default:
		c.log.Warn().Str("kind", string(env.Kind)).Msg("unexpected message kind")
	}
	return nil
}

func (c *Client) sendHello() error {
	env, err := protocol.NewEnvelope(protocol.KindHello, protocol.Hello{ClientVersion: Version})
	if err != nil {
		return err
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := c.conn.SendReliable(raw); err != nil {
		return eris.Wrap(err, "failed to send hello")
	}
	return nil
}

func (c *Client) sendPing(now time.Time) {
	c.pingSeq++
	env, err := protocol.NewEnvelope(protocol.KindPing, protocol.Ping{
		Seq:        c.pingSeq,
		ClientTime: now.UnixNano(),
	})
	if err != nil {
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		return
	}
	if err := c.conn.SendUnreliable(raw); err != nil {
		c.log.Debug().Err(err).Msg("ping send failed")
	}
}

// rememberCommand keeps the command in the resend buffer, bounded to the
// resend window plus the command itself.
func (c *Client) rememberCommand(cmd Command) {
	c.recent = append(c.recent, cmd)
	max := c.cfg.CommandResendWindow + 1
	if len(c.recent) > max {
		c.recent = c.recent[len(c.recent)-max:]
	}
}

// pruneRecent drops commands the server has confirmed through a matching
// checksum at or after their tick.
func (c *Client) pruneRecent() {
	kept := c.recent[:0]
	for _, cmd := range c.recent {
		if cmd.Tick > c.lastAcked {
			kept = append(kept, cmd)
		}
	}
	c.recent = kept
}

// sendCommands sends the resend buffer as one unreliable batch.
func (c *Client) sendCommands() {
	if len(c.recent) == 0 {
		return
	}
	batch := protocol.CommandBatch{Commands: make([]Command, len(c.recent))}
	copy(batch.Commands, c.recent)
	env, err := protocol.NewEnvelope(protocol.KindCommandBatch, batch)
	if err != nil {
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		return
	}
	if err := c.conn.SendUnreliable(raw); err != nil {
		c.log.Debug().Err(err).Msg("command send failed")
	}
}

func (c *Client) localTicksFloat() float64 {
	return float64(c.localTicks) + float64(c.accum.Remainder())/float64(c.cfg.Timestep)
}

// Stage returns the client's lifecycle stage.
func (c *Client) Stage() stage.Stage {
	return c.stage.Current()
}

// CurrentTick returns the next tick the client will simulate.
func (c *Client) CurrentTick() Tick {
	return c.tick
}

// PlayerID returns the assigned slot once the session is established.
func (c *Client) PlayerID() (PlayerID, bool) {
	return c.playerID, c.welcomed
}

// SessionID returns the session identity assigned by the server.
func (c *Client) SessionID() uuid.UUID {
	return c.sessionID
}

// ClockEstimate returns the current clock sync estimate.
func (c *Client) ClockEstimate() clocksync.Estimate {
	return c.tracker.Estimate()
}

// Close tells the server goodbye and tears down the connection.
func (c *Client) Close() error {
	if c.stage.Current() != StageDisconnected {
		if env, err := protocol.NewEnvelope(protocol.KindDisconnect, protocol.Disconnect{Reason: "client closed"}); err == nil {
			if raw, err := env.Marshal(); err == nil {
				_ = c.conn.SendReliable(raw)
			}
		}
		c.stage.Store(StageDisconnected)
	}
	return c.conn.Close()
}
