package netcode

import (
	"sort"

	"github.com/aleksa2808/bevy-networked-platformer/protocol"
)

// Version is reported in the handshake.
const Version = "0.3.1"

// Re-exports so most consumers only need to import the root package.
type (
	Tick     = protocol.Tick
	PlayerID = protocol.PlayerID
	Command  = protocol.Command
)

// orderedCommands flattens a drained tick into a slice ordered by player
// slot. Client and server apply commands in this order so replays stay
// deterministic.
func orderedCommands(byPlayer map[protocol.PlayerID]protocol.Command) []Command {
	cmds := make([]Command, 0, len(byPlayer))
	for _, cmd := range byPlayer {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].PlayerID < cmds[j].PlayerID })
	return cmds
}
