package game

import (
	netcode "github.com/aleksa2808/bevy-networked-platformer"
)

// PlayerView is a player position for rendering.
type PlayerView struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ProjectileView is a projectile position for rendering.
type ProjectileView struct {
	ID uint16  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Display is the render view of the duel.
type Display struct {
	Round       uint8                   `json:"round"`
	Players     [PlayerCount]PlayerView `json:"players"`
	CannonX     float64                 `json:"cannonX"`
	BottomPad   PadSide                 `json:"bottomPad"`
	TopPad      PadSide                 `json:"topPad"`
	Projectiles []ProjectileView        `json:"projectiles,omitempty"`
}

// DisplayState returns the current render view.
func (w *World) DisplayState() netcode.DisplayState {
	d := Display{
		Round:     w.state.Round,
		CannonX:   w.state.CannonX,
		BottomPad: w.state.BottomPad,
		TopPad:    w.state.TopPad,
	}
	for slot := range w.state.Players {
		d.Players[slot] = PlayerView{X: w.state.Players[slot].X, Y: w.state.Players[slot].Y}
	}
	if len(w.state.Projectiles) > 0 {
		d.Projectiles = make([]ProjectileView, len(w.state.Projectiles))
		for i, pr := range w.state.Projectiles {
			d.Projectiles[i] = ProjectileView{ID: pr.ID, X: pr.X, Y: pr.Y}
		}
	}
	return d
}

// Lerp interpolates positions toward to. Views from different rounds never
// blend; the round boundary snaps, since positions teleport there anyway.
// Projectiles are matched by id and ones that only exist in to appear
// unblended.
func (d Display) Lerp(to netcode.DisplayState, t float64) netcode.DisplayState {
	o, ok := to.(Display)
	if !ok {
		return to
	}
	if d.Round != o.Round {
		return o
	}
	if t <= 0 {
		return d
	}
	if t >= 1 {
		return o
	}

	out := o
	for i := range out.Players {
		out.Players[i].X = lerpf(d.Players[i].X, o.Players[i].X, t)
		out.Players[i].Y = lerpf(d.Players[i].Y, o.Players[i].Y, t)
	}
	out.CannonX = lerpf(d.CannonX, o.CannonX, t)

	if len(o.Projectiles) > 0 {
		from := make(map[uint16]ProjectileView, len(d.Projectiles))
		for _, pr := range d.Projectiles {
			from[pr.ID] = pr
		}
		out.Projectiles = make([]ProjectileView, len(o.Projectiles))
		for i, pr := range o.Projectiles {
			if f, seen := from[pr.ID]; seen {
				pr.X = lerpf(f.X, pr.X, t)
				pr.Y = lerpf(f.Y, pr.Y, t)
			}
			out.Projectiles[i] = pr
		}
	}
	return out
}

func lerpf(a, b, t float64) float64 {
	return a + (b-a)*t
}
