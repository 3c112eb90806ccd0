package netcode

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aleksa2808/bevy-networked-platformer/cmdqueue"
	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/log"
	"github.com/aleksa2808/bevy-networked-platformer/protocol"
	"github.com/aleksa2808/bevy-networked-platformer/snapstore"
	"github.com/aleksa2808/bevy-networked-platformer/stage"
	"github.com/aleksa2808/bevy-networked-platformer/statsd"
	"github.com/aleksa2808/bevy-networked-platformer/timeline"
	"github.com/aleksa2808/bevy-networked-platformer/transport"
)

const (
	serverInit         stage.Stage = "Init"
	serverRecovering   stage.Stage = "Recovering"
	serverRunning      stage.Stage = "Running"
	serverShuttingDown stage.Stage = "ShuttingDown"
	serverShutDown     stage.Stage = "ShutDown"
)

const (
	defaultMaxPlayers = 4
	handshakeTimeout  = 10 * time.Second
	archiveTimeout    = 5 * time.Second
)

// Server runs the authoritative simulation. It never waits for client input:
// every tick drains whatever commands have arrived, fills the rest with
// neutral defaults, and steps.
type Server struct {
	cfg   Config
	world World
	ln    transport.Listener
	log   zerolog.Logger

	stage *stage.Manager
	queue *cmdqueue.Queue
	tl    *timeline.Timeline
	store snapstore.Store

	maxPlayers int
	// sessions is owned by the tick loop.
	sessions map[PlayerID]*session
	// accepted collects this tick's fresh commands for relaying to the
	// other clients. Reset every tick.
	accepted []Command

	pendingMu    sync.Mutex
	pendingConns []*pendingConn

	tick            atomic.Int64
	tickChannel     <-chan time.Time
	tickDoneChannel chan<- Tick
	// addChannelWaitingForNextTick accepts a channel which will be closed
	// after a tick has completed.
	addChannelWaitingForNextTick chan chan struct{}

	saveCh chan snapstore.Record
	cancel context.CancelFunc
}

// pendingConn is an accepted transport connection that has not said hello
// yet.
type pendingConn struct {
	conn     transport.Conn
	accepted time.Time
}

func NewServer(world World, cfg Config, ln transport.Listener, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid config")
	}
	serverOpts, _ := separateOptions(opts)

	s := &Server{
		cfg:                          cfg,
		world:                        world,
		ln:                           ln,
		log:                          log.Component(log.New(nil, zerolog.InfoLevel, false), "server"),
		stage:                        stage.NewManager(serverInit),
		queue:                        cmdqueue.New(),
		tl:                           timeline.New(cfg.RetentionTicks),
		store:                        snapstore.NopStore{},
		maxPlayers:                   defaultMaxPlayers,
		sessions:                     make(map[PlayerID]*session),
		addChannelWaitingForNextTick: make(chan chan struct{}),
		saveCh:                       make(chan snapstore.Record, 1),
	}
	for _, opt := range serverOpts {
		opt(s)
	}
	return s, nil
}

// CurrentTick returns the next tick the server will simulate.
func (s *Server) CurrentTick() Tick {
	return Tick(s.tick.Load())
}

// IsRunning reports whether the tick loop is live.
func (s *Server) IsRunning() bool {
	return s.stage.Current() == serverRunning
}

// Start runs the server until Shutdown is called or a loop fails. It blocks.
func (s *Server) Start() error {
	if ok := s.stage.CompareAndSwap(serverInit, serverRecovering); !ok {
		return eris.New("server has already been started")
	}

	if err := s.recoverFromArchive(); err != nil {
		return err
	}

	if s.tickChannel == nil {
		ticker := time.NewTicker(s.cfg.Timestep)
		defer ticker.Stop()
		s.tickChannel = ticker.C
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	defer cancel()

	s.stage.Store(serverRunning)
	s.log.Info().
		Str("addr", s.ln.Addr()).
		Int64("tick", s.tick.Load()).
		Msg("server running")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.acceptLoop(ctx) })
	eg.Go(func() error { return s.runLoop(ctx) })
	eg.Go(func() error { return s.saveLoop(ctx) })
	err := eg.Wait()

	s.stage.Store(serverShutDown)
	return err
}

// Shutdown stops the tick loop and waits for the server to wind down fully.
func (s *Server) Shutdown() error {
	s.log.Info().Msg("shutting down")
	ok := s.stage.CompareAndSwap(serverRunning, serverShuttingDown)
	if !ok {
		switch s.stage.Current() {
		case serverShutDown:
			return nil
		case serverShuttingDown:
			// Another goroutine already started the shutdown. Wait for it.
			<-s.stage.NotifyOnStage(serverShutDown)
			return nil
		}
		return eris.New("shutdown attempted before the server was started")
	}
	<-s.stage.NotifyOnStage(serverShutDown)
	return s.ln.Close()
}

// WaitForNextTick blocks until at least one tick has completed. It returns
// false if the server shut down while waiting.
func (s *Server) WaitForNextTick() bool {
	startTick := s.CurrentTick()
	ch := make(chan struct{})
	s.addChannelWaitingForNextTick <- ch
	<-ch
	return s.CurrentTick() > startTick
}

// recoverFromArchive resumes the match from the snapshot store, if it holds
// one.
func (s *Server) recoverFromArchive() error {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	rec, err := s.store.Latest(ctx)
	if err != nil {
		if eris.Is(err, snapstore.ErrNoSnapshot) {
			return nil
		}
		return eris.Wrap(err, "failed to read snapshot archive")
	}
	if err := s.world.RestoreState(rec.State); err != nil {
		return eris.Wrap(err, "failed to restore archived state")
	}
	if err := s.tl.Push(timeline.Entry{Tick: rec.Tick, State: rec.State, Checksum: rec.Checksum}); err != nil {
		return eris.Wrap(err, "failed to seed timeline from archive")
	}
	s.tick.Store(int64(rec.Tick) + 1)
	s.queue.SetWindow(rec.Tick+1, rec.Tick+1+Tick(s.cfg.CommandLookahead))
	s.log.Info().Int64("tick", int64(rec.Tick)).Msg("recovered state from archive")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if eris.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return eris.Wrap(err, "accept failed")
		}
		s.log.Debug().Str("remote", conn.RemoteAddr()).Msg("connection accepted")
		s.pendingMu.Lock()
		s.pendingConns = append(s.pendingConns, &pendingConn{conn: conn, accepted: time.Now()})
		s.pendingMu.Unlock()
	}
}

func (s *Server) runLoop(ctx context.Context) error {
	s.log.Info().Msg("game loop started")
	var waitingChs []chan struct{}
	for {
		select {
		case now, ok := <-s.tickChannel:
			if !ok {
				return eris.New("tick channel closed")
			}
			if err := s.doTick(now); err != nil {
				return err
			}
			closeAllChannels(waitingChs)
			waitingChs = waitingChs[:0]
		case <-s.stage.NotifyOnStage(serverShuttingDown):
			s.drainChannelsWaitingForNextTick()
			closeAllChannels(waitingChs)
			s.disconnectAll("server shutting down")
			s.cancel()
			return nil
		case <-ctx.Done():
			// Another loop failed; unblock waiters and stop.
			s.drainChannelsWaitingForNextTick()
			closeAllChannels(waitingChs)
			return nil
		case ch := <-s.addChannelWaitingForNextTick:
			waitingChs = append(waitingChs, ch)
		}
	}
}

// saveLoop archives snapshots off the tick loop so a slow store never stalls
// the simulation.
func (s *Server) saveLoop(ctx context.Context) error {
	for {
		select {
		case rec := <-s.saveCh:
			cctx, cancel := context.WithTimeout(ctx, archiveTimeout)
			if err := s.store.Save(cctx, rec); err != nil {
				s.log.Warn().Err(err).Msg("snapshot archive failed")
			}
			cancel()
		case <-ctx.Done():
			return nil
		}
	}
}

// doTick performs one authoritative tick: admit joiners, drain the network,
// simulate the tick from whatever commands made it in time, then publish.
func (s *Server) doTick(now time.Time) error {
	startTime := time.Now()
	t := s.CurrentTick()

	s.admitPending(now)
	s.drainSessions(now, t)

	cmds := orderedCommands(s.queue.Drain(t))
	for _, cmd := range cmds {
		s.world.ApplyCommand(cmd)
	}
	s.world.Step()

	state, err := s.world.SnapshotState()
	if err != nil {
		return eris.Wrap(err, "failed to snapshot authoritative state")
	}
	checksum := codec.ChecksumBytes(state)
	err = s.tl.Push(timeline.Entry{Tick: t, State: state, Checksum: checksum, Commands: cmds})
	if err != nil {
		return eris.Wrapf(err, "failed to record tick %d", t)
	}
	s.tick.Store(int64(t) + 1)
	s.queue.SetWindow(t+1, t+1+Tick(s.cfg.CommandLookahead))
	statsd.EmitTickStat(startTime, "simulate")

	s.relayCommands()
	if int64(t)%int64(s.cfg.SnapshotSendPeriod) == 0 {
		s.broadcastSnapshot(t, state, checksum, now)
	}
	s.evictIdle(now)

	statsd.EmitTickStat(startTime, "full_tick")
	if s.tickDoneChannel != nil {
		s.tickDoneChannel <- t
	}
	return nil
}

// relayCommands forwards this tick's accepted commands to every client that
// did not author them, so clients can predict remote players.
func (s *Server) relayCommands() {
	if len(s.accepted) == 0 {
		return
	}
	for _, sess := range s.sessions {
		var others []Command
		for _, cmd := range s.accepted {
			if cmd.PlayerID != sess.player {
				others = append(others, cmd)
			}
		}
		if len(others) == 0 {
			continue
		}
		env, err := protocol.NewEnvelope(protocol.KindCommandBatch, protocol.CommandBatch{Commands: others})
		if err != nil {
			continue
		}
		raw, err := env.Marshal()
		if err != nil {
			continue
		}
		if err := sess.conn.SendUnreliable(raw); err != nil {
			sess.log.Debug().Err(err).Msg("command relay failed")
		}
	}
	s.accepted = s.accepted[:0]
}

func (s *Server) broadcastSnapshot(t Tick, state []byte, checksum string, now time.Time) {
	env, err := protocol.NewEnvelope(protocol.KindSnapshot, protocol.Snapshot{
		Tick:     t,
		State:    state,
		Checksum: checksum,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build snapshot message")
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode snapshot message")
		return
	}
	for _, sess := range s.sessions {
		if err := sess.conn.SendUnreliable(raw); err != nil {
			sess.log.Debug().Err(err).Msg("snapshot send failed")
		}
	}

	select {
	case s.saveCh <- snapstore.Record{Tick: t, State: state, Checksum: checksum, SavedAt: now}:
	default:
		s.log.Debug().Msg("archive busy, snapshot skipped")
	}
}

func (s *Server) disconnectAll(reason string) {
	for _, sess := range s.sessions {
		sess.sendDisconnect(reason)
		_ = sess.conn.Close()
	}
	s.sessions = make(map[PlayerID]*session)

	s.pendingMu.Lock()
	for _, pc := range s.pendingConns {
		_ = pc.conn.Close()
	}
	s.pendingConns = nil
	s.pendingMu.Unlock()
}

func (s *Server) drainChannelsWaitingForNextTick() {
	go func() {
		for ch := range s.addChannelWaitingForNextTick {
			close(ch)
		}
	}()
}

func closeAllChannels(chs []chan struct{}) {
	for _, ch := range chs {
		close(ch)
	}
}
