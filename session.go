package netcode

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/log"
	"github.com/aleksa2808/bevy-networked-platformer/protocol"
	"github.com/aleksa2808/bevy-networked-platformer/statsd"
	"github.com/aleksa2808/bevy-networked-platformer/transport"
)

// Inbound message budget per session. Commands arrive roughly once per tick
// plus clock sync pings, so this leaves generous headroom before a client is
// considered abusive.
const (
	sessionMsgRate  = 200
	sessionMsgBurst = 400
)

// session is a connected player. Sessions are created and touched only by
// the tick loop.
type session struct {
	player    PlayerID
	sessionID uuid.UUID
	conn      transport.Conn
	log       zerolog.Logger
	limiter   *rate.Limiter
	lastSeen  time.Time
}

func (sess *session) send(kind protocol.Kind, payload any, reliable bool) {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		sess.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to build message")
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		sess.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode message")
		return
	}
	if reliable {
		err = sess.conn.SendReliable(raw)
	} else {
		err = sess.conn.SendUnreliable(raw)
	}
	if err != nil {
		sess.log.Debug().Err(err).Str("kind", string(kind)).Msg("send failed")
	}
}

func (sess *session) sendDisconnect(reason string) {
	sess.send(protocol.KindDisconnect, protocol.Disconnect{Reason: reason}, true)
}

// admitPending promotes handshaking connections into sessions. A connection
// that has not said hello within the handshake timeout is dropped.
func (s *Server) admitPending(now time.Time) {
	s.pendingMu.Lock()
	pending := s.pendingConns
	s.pendingConns = nil
	s.pendingMu.Unlock()

	var stillPending []*pendingConn
	for _, pc := range pending {
		msgs, err := pc.conn.Poll()
		if err != nil {
			_ = pc.conn.Close()
			continue
		}
		admitted := false
		for _, raw := range msgs {
			env, err := protocol.UnmarshalEnvelope(raw)
			if err != nil || env.Kind != protocol.KindHello {
				continue
			}
			s.admit(pc.conn, now)
			admitted = true
			break
		}
		if admitted {
			continue
		}
		if time.Since(pc.accepted) > handshakeTimeout {
			s.log.Debug().Str("remote", pc.conn.RemoteAddr()).Msg("handshake timed out")
			_ = pc.conn.Close()
			continue
		}
		stillPending = append(stillPending, pc)
	}

	if len(stillPending) > 0 {
		s.pendingMu.Lock()
		s.pendingConns = append(s.pendingConns, stillPending...)
		s.pendingMu.Unlock()
	}
}

// admit assigns the lowest free player slot and replies with the welcome
// handshake, or turns the connection away when the match is full.
func (s *Server) admit(conn transport.Conn, now time.Time) {
	var player PlayerID
	found := false
	for slot := 0; slot < s.maxPlayers; slot++ {
		if _, taken := s.sessions[PlayerID(slot)]; !taken {
			player = PlayerID(slot)
			found = true
			break
		}
	}
	if !found {
		s.log.Info().Str("remote", conn.RemoteAddr()).Msg("rejecting join, match is full")
		if env, err := protocol.NewEnvelope(protocol.KindDisconnect, protocol.Disconnect{Reason: "server full"}); err == nil {
			if raw, err := env.Marshal(); err == nil {
				_ = conn.SendReliable(raw)
			}
		}
		_ = conn.Close()
		return
	}

	sess := &session{
		player:    player,
		sessionID: uuid.New(),
		conn:      conn,
		limiter:   rate.NewLimiter(rate.Limit(sessionMsgRate), sessionMsgBurst),
		lastSeen:  now,
	}
	sess.log = log.Player(s.log, uint8(player)).With().
		Str("session_id", sess.sessionID.String()).
		Logger()
	s.sessions[player] = sess
	s.queue.AddPlayer(player)

	joinTick, state, checksum, err := s.stateForJoin()
	if err != nil {
		sess.log.Error().Err(err).Msg("failed to snapshot state for welcome")
		s.dropSession(sess, "internal error")
		return
	}
	sess.send(protocol.KindWelcome, protocol.Welcome{
		PlayerID:        player,
		SessionID:       sess.sessionID,
		Tick:            joinTick,
		State:           state,
		Checksum:        checksum,
		TimestepSeconds: s.cfg.Timestep.Seconds(),
	}, true)
	sess.log.Info().Str("remote", conn.RemoteAddr()).Msg("player joined")
}

// stateForJoin returns the latest completed tick. Before the first tick it
// falls back to the live initial state at tick -1.
func (s *Server) stateForJoin() (Tick, []byte, string, error) {
	if _, newest, ok := s.tl.Bounds(); ok {
		entry, err := s.tl.Get(newest)
		if err == nil {
			return entry.Tick, entry.State, entry.Checksum, nil
		}
	}
	state, err := s.world.SnapshotState()
	if err != nil {
		return 0, nil, "", err
	}
	return s.CurrentTick() - 1, state, codec.ChecksumBytes(state), nil
}

// drainSessions polls every session and dispatches whatever arrived since
// the last tick.
func (s *Server) drainSessions(now time.Time, t Tick) {
	for _, sess := range s.sessions {
		msgs, err := sess.conn.Poll()
		if err != nil {
			s.dropSession(sess, "transport closed")
			continue
		}
		for _, raw := range msgs {
			if !sess.limiter.Allow() {
				sess.log.Warn().Msg("message rate exceeded, dropping")
				continue
			}
			env, err := protocol.UnmarshalEnvelope(raw)
			if err != nil {
				sess.log.Warn().Err(err).Msg("discarded malformed message")
				continue
			}
			s.handleSessionMessage(sess, env, now, t)
		}
	}
}

func (s *Server) handleSessionMessage(sess *session, env protocol.Envelope, now time.Time, t Tick) {
	switch env.Kind {
	case protocol.KindPing:
		ping, err := codec.Decode[protocol.Ping](env.Data)
		if err != nil {
			sess.log.Warn().Err(err).Msg("discarded malformed ping")
			return
		}
		sess.lastSeen = now
		sess.send(protocol.KindPong, protocol.Pong{
			Seq:        ping.Seq,
			ClientTime: ping.ClientTime,
			ServerTick: t,
		}, false)
	case protocol.KindCommandBatch:
		batch, err := codec.Decode[protocol.CommandBatch](env.Data)
		if err != nil {
			sess.log.Warn().Err(err).Msg("discarded malformed command batch")
			return
		}
		sess.lastSeen = now
		for _, cmd := range batch.Commands {
			s.acceptCommand(sess, cmd)
		}
	case protocol.KindResyncRequest:
		req, err := codec.Decode[protocol.ResyncRequest](env.Data)
		if err != nil {
			sess.log.Warn().Err(err).Msg("discarded malformed resync request")
			return
		}
		sess.lastSeen = now
		s.serveResync(sess, req)
	case protocol.KindDisconnect:
		s.dropSession(sess, "client left")
	case protocol.KindHello:
		// Retransmit from an already admitted connection.
		sess.log.Debug().Msg("ignored duplicate hello")
	default:
		sess.log.Warn().Str("kind", string(env.Kind)).Msg("unexpected message kind")
	}
}

// acceptCommand vets a single client command and queues it for its tick.
// Commands for other players' slots are discarded outright.
func (s *Server) acceptCommand(sess *session, cmd Command) {
	if cmd.PlayerID != sess.player {
		sess.log.Warn().
			Uint8("claimed_player", uint8(cmd.PlayerID)).
			Msg("command for another player rejected")
		return
	}
	if v, ok := s.world.(CommandValidator); ok {
		if err := v.ValidateCommand(cmd); err != nil {
			sess.log.Warn().Err(err).Int64("tick", int64(cmd.Tick)).Msg("invalid command rejected")
			return
		}
	}
	if err := s.queue.Enqueue(cmd); err != nil {
		// Late or far-future commands are expected under jitter; the
		// neutral default covers the tick.
		sess.log.Debug().Err(err).Int64("tick", int64(cmd.Tick)).Msg("command outside window")
		return
	}
	// Resends land here again as last-write-wins replacements; receivers
	// dedupe relays the same way.
	s.accepted = append(s.accepted, cmd)
}

// serveResync answers a client that fell too far behind with a fresh
// authoritative snapshot over the reliable channel.
func (s *Server) serveResync(sess *session, req protocol.ResyncRequest) {
	statsd.EmitResyncStat()
	sess.log.Info().
		Int64("client_newest", int64(req.NewestTick)).
		Msg("serving resync")

	latest, state, checksum, err := s.stateForJoin()
	if err != nil {
		sess.log.Error().Err(err).Msg("failed to snapshot state for resync")
		return
	}
	sess.send(protocol.KindResyncResponse, protocol.ResyncResponse{
		Tick:     latest,
		State:    state,
		Checksum: checksum,
	}, true)
}

func (s *Server) dropSession(sess *session, reason string) {
	sess.log.Info().Str("reason", reason).Msg("session closed")
	s.queue.RemovePlayer(sess.player)
	delete(s.sessions, sess.player)
	_ = sess.conn.Close()
}

// evictIdle removes sessions that have gone silent for longer than the idle
// timeout, freeing their slots.
func (s *Server) evictIdle(now time.Time) {
	for _, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.cfg.SessionIdleTimeout {
			s.dropSession(sess, "idle timeout")
		}
	}
}
