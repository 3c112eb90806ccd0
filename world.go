package netcode

// World is the deterministic simulation under synchronization. The sync core
// owns the call order: commands for a tick are applied, then Step advances
// exactly one fixed timestep. Snapshots taken after identical command
// sequences from identical states must be byte identical; Step must not read
// wall clocks or unseeded randomness. Rollback depends on that completely.
//
// All methods are called from a single goroutine.
type World interface {
	// ApplyCommand stages one player's input for the next Step. A nil
	// payload is the neutral command and must leave input state unchanged.
	ApplyCommand(cmd Command)

	// Step advances the simulation by one fixed tick.
	Step()

	// SnapshotState returns the full encoded simulation state.
	SnapshotState() ([]byte, error)

	// RestoreState replaces the simulation state with a previously
	// snapshotted one.
	RestoreState(state []byte) error
}

// CommandValidator is implemented by worlds that can reject commands before
// they are queued. Rejected commands surface as ErrInvalidCommand.
type CommandValidator interface {
	ValidateCommand(cmd Command) error
}

// DisplayState is an interpolatable view of the world for rendering.
type DisplayState interface {
	// Lerp interpolates from the receiver toward to. t is in [0, 1].
	Lerp(to DisplayState, t float64) DisplayState
}

// DisplayStater is implemented by worlds that expose a render view. A client
// whose world implements it blends rollback corrections over a window
// instead of snapping.
type DisplayStater interface {
	DisplayState() DisplayState
}
