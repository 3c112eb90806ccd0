// Package cmdqueue buffers player commands per tick until the simulation
// consumes them. Network goroutines enqueue, the tick loop drains; the queue
// guarantees that a drain is total over every registered player.
package cmdqueue

import (
	"errors"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/aleksa2808/bevy-networked-platformer/protocol"
)

var (
	ErrTickTooOld    = errors.New("command tick is older than the retained window")
	ErrTickTooNew    = errors.New("command tick is beyond the look-ahead bound")
	ErrUnknownPlayer = errors.New("command is for an unregistered player")
)

type Queue struct {
	mu      sync.Mutex
	players map[protocol.PlayerID]struct{}
	perTick map[protocol.Tick]map[protocol.PlayerID]protocol.Command
	// Accepted command ticks lie in [oldest, newest], both set by the owning
	// loop via SetWindow.
	oldest protocol.Tick
	newest protocol.Tick
	queued int
}

func New() *Queue {
	return &Queue{
		players: map[protocol.PlayerID]struct{}{},
		perTick: map[protocol.Tick]map[protocol.PlayerID]protocol.Command{},
	}
}

// AddPlayer registers a player in the neutral-default set.
func (q *Queue) AddPlayer(id protocol.PlayerID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.players[id] = struct{}{}
}

// RemovePlayer drops a player from the neutral-default set along with any
// commands still queued for it.
func (q *Queue) RemovePlayer(id protocol.PlayerID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.players, id)
	for tick, cmds := range q.perTick {
		if _, ok := cmds[id]; ok {
			delete(cmds, id)
			q.queued--
			if len(cmds) == 0 {
				delete(q.perTick, tick)
			}
		}
	}
}

// HasPlayer reports whether the player is registered.
func (q *Queue) HasPlayer(id protocol.PlayerID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.players[id]
	return ok
}

// Players returns the registered players in slot order.
func (q *Queue) Players() []protocol.PlayerID {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]protocol.PlayerID, 0, len(q.players))
	for id := range q.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetWindow moves the accepted tick window and prunes commands that fell out
// of it. The owning loop calls this once per tick.
func (q *Queue) SetWindow(oldest, newest protocol.Tick) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.oldest, q.newest = oldest, newest
	for tick, cmds := range q.perTick {
		if tick < oldest {
			q.queued -= len(cmds)
			delete(q.perTick, tick)
		}
	}
}

// Enqueue stores a command for its tick. A command for the same
// (player, tick) replaces the earlier one: last write wins. Commands outside
// the window or for unregistered players are rejected.
func (q *Queue) Enqueue(cmd protocol.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.players[cmd.PlayerID]; !ok {
		return eris.Wrap(ErrUnknownPlayer, "")
	}
	if cmd.Tick < q.oldest {
		return eris.Wrap(ErrTickTooOld, "")
	}
	if cmd.Tick > q.newest {
		return eris.Wrap(ErrTickTooNew, "")
	}
	cmds, ok := q.perTick[cmd.Tick]
	if !ok {
		cmds = map[protocol.PlayerID]protocol.Command{}
		q.perTick[cmd.Tick] = cmds
	}
	if _, replaced := cmds[cmd.PlayerID]; !replaced {
		q.queued++
	}
	cmds[cmd.PlayerID] = cmd
	return nil
}

// Drain consumes and returns the commands for a tick. The result always
// contains one command per registered player; players without a queued
// command get the neutral command for that tick.
func (q *Queue) Drain(tick protocol.Tick) map[protocol.PlayerID]protocol.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[protocol.PlayerID]protocol.Command, len(q.players))
	queued := q.perTick[tick]
	for id := range q.players {
		if cmd, ok := queued[id]; ok {
			out[id] = cmd
		} else {
			out[id] = protocol.Neutral(id, tick)
		}
	}
	if queued != nil {
		q.queued -= len(queued)
		delete(q.perTick, tick)
	}
	return out
}

// Len returns the number of queued commands across all ticks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}
