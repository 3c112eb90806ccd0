package game

import "math"

// The arena is a 1000x1000 square with y pointing up. The level is point
// symmetric through the center: every rect placed for the bottom player is
// mirrored through (500, 500) for the top player.
const (
	arenaSize = 1000.0

	playerHalf       = 10.0
	padWidth         = 70.0
	padHeight        = 10.0
	projectileWidth  = 10.0
	projectileHeight = 40.0

	// contactEps is the distance at which two touching boxes count as in
	// contact. Resting contacts have zero gap, so this only needs to absorb
	// float noise.
	contactEps = 0.5
)

// Movement tuning. Speeds are display units per second; the cannon moves a
// fixed amount per tick.
const (
	moveSpeed       = 300.0
	jumpSpeed       = 400.0
	gravityAccel    = 981.0
	projectileSpeed = 120.0

	cannonStep = 5.0
	cannonMinX = 100.0
	cannonMaxX = 900.0
	cannonHome = 500.0
	cannonY    = 500.0

	maxProjectiles = 10
)

// Player spawn points. Slot 0 lives on the bottom half under normal gravity,
// slot 1 on the top half under inverted gravity.
var startPositions = [PlayerCount]struct{ x, y float64 }{
	{x: 150, y: 400},
	{x: 850, y: 600},
}

// Power pad slot centers. The pad's vertical position never changes; only
// its side does.
const (
	padLeftX   = 150.0
	padRightX  = 850.0
	bottomPadY = 295.0
	topPadY    = 705.0
)

// rect is an axis aligned rectangle given by center and full size.
type rect struct {
	x, y, w, h float64
}

// box is a rect in half-extent form, which is what the overlap tests want.
type box struct {
	x, y, hw, hh float64
}

func (r rect) box() box {
	return box{x: r.x, y: r.y, hw: r.w / 2, hh: r.h / 2}
}

func (r rect) mirrored() rect {
	return rect{x: arenaSize - r.x, y: arenaSize - r.y, w: r.w, h: r.h}
}

// overlaps reports strict overlap. Touching edges do not overlap.
func (b box) overlaps(o box) bool {
	return math.Abs(b.x-o.x) < b.hw+o.hw && math.Abs(b.y-o.y) < b.hh+o.hh
}

// touches reports contact within eps on both axes, so resting and edge-on
// contacts count.
func (b box) touches(o box, eps float64) bool {
	return math.Abs(b.x-o.x)-(b.hw+o.hw) <= eps && math.Abs(b.y-o.y)-(b.hh+o.hh) <= eps
}

// restsVertically reports a vertical support contact: horizontal overlap with
// at most eps of vertical gap. This is what makes a player grounded against a
// floor or, for the inverted player, a ceiling.
func (b box) restsVertically(o box, eps float64) bool {
	return math.Abs(b.x-o.x) < b.hw+o.hw && math.Abs(b.y-o.y)-(b.hh+o.hh) <= eps
}

// bottomHalfPlatforms is the bottom player's side of the level. The full
// solid set is these plus their mirrors.
var bottomHalfPlatforms = [...]rect{
	// left power platform
	{x: 150, y: 250, w: 100, h: 100},
	// main floor
	{x: 500, y: 150, w: 800, h: 100},
	// right power platform
	{x: 850, y: 250, w: 100, h: 100},
	// middle hop platforms
	{x: 250, y: 270, w: 40, h: 20},
	{x: 320, y: 230, w: 20, h: 60},
	{x: 400, y: 250, w: 60, h: 20},
	// four stepping squares
	{x: 470, y: 260, w: 20, h: 20},
	{x: 515, y: 250, w: 20, h: 20},
	{x: 560, y: 270, w: 20, h: 20},
	{x: 605, y: 240, w: 20, h: 20},
	// ledge over the lava strip
	{x: 680, y: 220, w: 80, h: 20},
	{x: 760, y: 260, w: 20, h: 20},
}

// bottomHalfLava kills the bottom player's side. The wide low strip also
// catches anyone who walks off the floor, since the arena has no walls.
var bottomHalfLava = [...]rect{
	{x: 500, y: 210, w: 600, h: 20},
	{x: 500, y: 20, w: 2000, h: 40},
}

var (
	platformBoxes = buildMirrored(bottomHalfPlatforms[:])
	lavaBoxes     = buildMirrored(bottomHalfLava[:])
)

func buildMirrored(rects []rect) []box {
	out := make([]box, 0, 2*len(rects))
	for _, r := range rects {
		out = append(out, r.box())
	}
	for _, r := range rects {
		out = append(out, r.mirrored().box())
	}
	return out
}

// PadSide says which of a pad's two slots it currently occupies.
type PadSide uint8

const (
	PadLeft PadSide = iota
	PadRight
)

func (s PadSide) String() string {
	if s == PadLeft {
		return "left"
	}
	return "right"
}

func padBox(side PadSide, y float64) box {
	x := padLeftX
	if side == PadRight {
		x = padRightX
	}
	return rect{x: x, y: y, w: padWidth, h: padHeight}.box()
}
