// Package game is a deterministic two player duel world for the sync core.
// The arena is a point symmetric platformer where each player lives under
// their own gravity; reaching your power pad takes control of a cannon that
// bombards the opponent's half.
//
// The simulation is hand rolled float64 AABB physics at a fixed 60 Hz step.
// It reads no wall clock and no randomness, and its whole state lives in one
// plain struct, so identical command sequences produce byte identical
// snapshots.
package game

import (
	"github.com/rotisserie/eris"

	netcode "github.com/aleksa2808/bevy-networked-platformer"
	"github.com/aleksa2808/bevy-networked-platformer/codec"
)

// TimestepSeconds is the fixed simulation step the world is tuned for. The
// sync config driving this world should use the same timestep.
const TimestepSeconds = 1.0 / 60.0

// PlayerCount is the number of slots in a duel. A server driving this world
// must not admit more players than this.
const PlayerCount = 2

// Input is the command payload: the full input vector held by a player for a
// tick. A neutral (nil) command keeps the previous vector, so inputs are
// sticky across ticks the player stays silent.
type Input struct {
	Action bool `json:"action"`
	Left   bool `json:"left"`
	Right  bool `json:"right"`
}

// Advantage says who currently controls the cannon.
type Advantage uint8

const (
	AdvantageNeutral Advantage = iota
	AdvantagePlayer1
	AdvantagePlayer2
)

func (a Advantage) String() string {
	switch a {
	case AdvantagePlayer1:
		return "player1"
	case AdvantagePlayer2:
		return "player2"
	default:
		return "neutral"
	}
}

type playerState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Input Input   `json:"input"`
}

type projectileState struct {
	ID uint16  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VY float64 `json:"vy"`
}

// state is the entire simulation state. Everything the step function reads
// or writes lives here, which is what makes snapshot and restore total.
type state struct {
	Round       uint8                    `json:"round"`
	Advantage   Advantage                `json:"advantage"`
	Players     [PlayerCount]playerState `json:"players"`
	CannonX     float64                  `json:"cannonX"`
	BottomPad   PadSide                  `json:"bottomPad"`
	TopPad      PadSide                  `json:"topPad"`
	NextProjID  uint16                   `json:"nextProjId"`
	Projectiles []projectileState        `json:"projectiles,omitempty"`
}

// World implements the sync core's World, CommandValidator and DisplayStater
// for the duel. Not safe for concurrent use; the sync core calls it from a
// single goroutine.
type World struct {
	state state
}

func NewWorld() *World {
	w := &World{}
	w.reset()
	w.state.Round = 1
	return w
}

// reset puts players, cannon, pads and projectiles back to their round start
// configuration. Inputs and the round counter are left alone.
func (w *World) reset() {
	for slot := range w.state.Players {
		p := &w.state.Players[slot]
		p.X = startPositions[slot].x
		p.Y = startPositions[slot].y
		p.VX = 0
		p.VY = 0
	}
	w.state.Advantage = AdvantageNeutral
	w.state.CannonX = cannonHome
	w.state.BottomPad = PadRight
	w.state.TopPad = PadLeft
	w.state.Projectiles = nil
}

// mirrorFor flips controls and forces for the top player so the world is
// point symmetric: their left is world-right and their gravity points up.
func mirrorFor(slot int) float64 {
	if slot == 0 {
		return 1
	}
	return -1
}

func advantageFor(slot int) Advantage {
	if slot == 0 {
		return AdvantagePlayer1
	}
	return AdvantagePlayer2
}

func (w *World) holdsAdvantage(slot int) bool {
	return w.state.Advantage == advantageFor(slot)
}

// ValidateCommand accepts commands for the two duel slots whose payload is
// either neutral or a well formed input vector.
func (w *World) ValidateCommand(cmd netcode.Command) error {
	if int(cmd.PlayerID) >= len(w.state.Players) {
		return eris.Errorf("no player slot %d in a duel", cmd.PlayerID)
	}
	if cmd.IsNeutral() {
		return nil
	}
	if _, err := codec.Decode[Input](cmd.Payload); err != nil {
		return eris.Wrap(err, "malformed input payload")
	}
	return nil
}

// ApplyCommand replaces the player's held input vector. Neutral commands
// leave it as is.
func (w *World) ApplyCommand(cmd netcode.Command) {
	if int(cmd.PlayerID) >= len(w.state.Players) || cmd.IsNeutral() {
		return
	}
	input, err := codec.Decode[Input](cmd.Payload)
	if err != nil {
		return
	}
	w.state.Players[cmd.PlayerID].Input = input
}

func (w *World) SnapshotState() ([]byte, error) {
	return codec.Encode(w.state)
}

func (w *World) RestoreState(raw []byte) error {
	st, err := codec.Decode[state](raw)
	if err != nil {
		return eris.Wrap(err, "malformed game state")
	}
	w.state = st
	return nil
}

// Round returns the current round counter.
func (w *World) Round() uint8 {
	return w.state.Round
}

// CurrentAdvantage returns who controls the cannon.
func (w *World) CurrentAdvantage() Advantage {
	return w.state.Advantage
}

// solids returns every solid box in a fixed order: platforms, then the two
// power pads. Players collide with these; projectiles die on them.
func (w *World) solids() []box {
	out := make([]box, 0, len(platformBoxes)+2)
	out = append(out, platformBoxes...)
	out = append(out, padBox(w.state.BottomPad, bottomPadY), padBox(w.state.TopPad, topPadY))
	return out
}

func playerBox(p *playerState) box {
	return box{x: p.X, y: p.Y, hw: playerHalf, hh: playerHalf}
}

func projBox(p projectileState) box {
	return box{x: p.X, y: p.Y, hw: projectileWidth / 2, hh: projectileHeight / 2}
}

// grounded reports whether the player has vertical support to jump from.
// Support on either side counts, since the inverted player rests against
// what the normal player would call a ceiling.
func (w *World) grounded(slot int) bool {
	pb := playerBox(&w.state.Players[slot])
	for _, s := range w.solids() {
		if pb.restsVertically(s, contactEps) {
			return true
		}
	}
	return false
}

// Step advances the duel by one fixed tick.
func (w *World) Step() {
	const dt = TimestepSeconds

	solids := w.solids()

	// Input phase. The advantage holder drives the cannon; everyone else
	// runs and jumps. Groundedness is judged on last tick's resting
	// contacts, before anything moves.
	for slot := range w.state.Players {
		p := &w.state.Players[slot]
		mirror := mirrorFor(slot)

		if w.holdsAdvantage(slot) {
			if p.Input.Left {
				w.state.CannonX = clamp(w.state.CannonX-cannonStep*mirror, cannonMinX, cannonMaxX)
			}
			if p.Input.Right {
				w.state.CannonX = clamp(w.state.CannonX+cannonStep*mirror, cannonMinX, cannonMaxX)
			}
			if p.Input.Action && len(w.state.Projectiles) < maxProjectiles {
				id := w.state.NextProjID
				w.state.NextProjID++
				w.state.Projectiles = append(w.state.Projectiles, projectileState{
					ID: id,
					X:  w.state.CannonX,
					Y:  cannonY,
					VY: projectileSpeed * mirror,
				})
			}
			continue
		}

		vx := 0.0
		if p.Input.Left {
			vx -= moveSpeed * mirror
		}
		if p.Input.Right {
			vx += moveSpeed * mirror
		}
		p.VX = vx

		if p.Input.Action && w.grounded(slot) {
			p.VY = jumpSpeed * mirror
		}
		p.VY -= gravityAccel * mirror * dt
	}

	// Integration phase: move axis by axis and push out of solids. The
	// advantage holder has zero velocity and no gravity, so it stays parked.
	for slot := range w.state.Players {
		if w.holdsAdvantage(slot) {
			continue
		}
		movePlayer(&w.state.Players[slot], solids, dt)
	}
	for i := range w.state.Projectiles {
		w.state.Projectiles[i].Y += w.state.Projectiles[i].VY * dt
	}

	// Resolution phase, on post-move positions.
	if w.anyPlayerDead() {
		w.state.Round++
		w.reset()
		return
	}
	w.settlePads()
}

// movePlayer integrates one axis at a time, clamping out of any solid it
// lands in and killing the velocity component that drove it there. Speeds
// are far below a player size per tick, so no sweeping is needed.
func movePlayer(p *playerState, solids []box, dt float64) {
	p.X += p.VX * dt
	for _, s := range solids {
		if !playerBox(p).overlaps(s) {
			continue
		}
		if p.X < s.x {
			p.X = s.x - s.hw - playerHalf
		} else {
			p.X = s.x + s.hw + playerHalf
		}
		p.VX = 0
	}

	p.Y += p.VY * dt
	for _, s := range solids {
		if !playerBox(p).overlaps(s) {
			continue
		}
		if p.Y < s.y {
			p.Y = s.y - s.hh - playerHalf
		} else {
			p.Y = s.y + s.hh + playerHalf
		}
		p.VY = 0
	}
}

func (w *World) anyPlayerDead() bool {
	for slot := range w.state.Players {
		pb := playerBox(&w.state.Players[slot])
		for _, l := range lavaBoxes {
			if pb.overlaps(l) {
				return true
			}
		}
		for _, pr := range w.state.Projectiles {
			if pb.overlaps(projBox(pr)) {
				return true
			}
		}
	}
	return false
}

// settlePads runs the power pad rules: touching your pad while you may gain
// grants advantage, a simultaneous touch cancels to neutral, and gaining
// advantage freezes you and moves the opponent's pad to their far side.
// Afterwards projectiles that hit solids or players are cleaned up.
func (w *World) settlePads() {
	pads := [2]box{padBox(w.state.BottomPad, bottomPadY), padBox(w.state.TopPad, topPadY)}

	reached := 0
	next := w.state.Advantage
	for slot := range w.state.Players {
		if !playerBox(&w.state.Players[slot]).touches(pads[slot], contactEps) {
			continue
		}
		if w.holdsAdvantage(slot) {
			continue
		}
		if reached > 0 {
			next = AdvantageNeutral
		} else {
			next = advantageFor(slot)
		}
		reached++
	}
	w.state.Advantage = next

	if reached == 1 && next != AdvantageNeutral {
		holder := 0
		if next == AdvantagePlayer2 {
			holder = 1
		}
		opponent := 1 - holder

		p := &w.state.Players[holder]
		p.VX = 0
		p.VY = 0

		// Put the opponent's pad on whichever side is farther from them.
		side := PadLeft
		if w.state.Players[opponent].X < arenaSize/2 {
			side = PadRight
		}
		if opponent == 0 {
			w.state.BottomPad = side
		} else {
			w.state.TopPad = side
		}
	}

	if reached > 0 {
		w.state.Projectiles = nil
		return
	}
	w.cullProjectiles()
}

// cullProjectiles removes projectiles that hit anything solid, players
// included.
func (w *World) cullProjectiles() {
	kept := w.state.Projectiles[:0]
	for _, pr := range w.state.Projectiles {
		if w.projectileHit(pr) {
			continue
		}
		kept = append(kept, pr)
	}
	if len(kept) == 0 {
		w.state.Projectiles = nil
		return
	}
	w.state.Projectiles = kept
}

func (w *World) projectileHit(pr projectileState) bool {
	pb := projBox(pr)
	for _, s := range w.solids() {
		if pb.overlaps(s) {
			return true
		}
	}
	for slot := range w.state.Players {
		if pb.overlaps(playerBox(&w.state.Players[slot])) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
