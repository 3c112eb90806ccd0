package netcode

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aleksa2808/bevy-networked-platformer/snapstore"
)

// Option augments how a Server or Client is assembled. Options that do not
// apply to the constructed type are ignored, so shared options like
// WithLogger can be passed to either.
type Option struct {
	serverOption func(*Server)
	clientOption func(*Client)
}

// WithLogger replaces the default stderr logger.
func WithLogger(logger zerolog.Logger) Option {
	return Option{
		serverOption: func(s *Server) { s.log = logger },
		clientOption: func(c *Client) { c.log = logger },
	}
}

// WithTickChannel sets the channel that decides when the server ticks. If
// unset, a ticker at the configured timestep is used. Tests can pass in a
// channel they control for fine-grained control over when ticks execute.
func WithTickChannel(ch <-chan time.Time) Option {
	return Option{
		serverOption: func(s *Server) { s.tickChannel = ch },
	}
}

// WithTickDoneChannel sets a channel notified with each completed tick. This
// option is useful in tests when assertions need to be performed at the end
// of a tick.
func WithTickDoneChannel(ch chan<- Tick) Option {
	return Option{
		serverOption: func(s *Server) { s.tickDoneChannel = ch },
	}
}

// WithSnapshotStore sets the archive that broadcast snapshots are also
// written to, and that the server recovers from on start. The default
// discards snapshots.
func WithSnapshotStore(store snapstore.Store) Option {
	return Option{
		serverOption: func(s *Server) { s.store = store },
	}
}

// WithMaxPlayers caps the number of player slots the server hands out.
func WithMaxPlayers(n int) Option {
	return Option{
		serverOption: func(s *Server) { s.maxPlayers = n },
	}
}

func separateOptions(opts []Option) (serverOpts []func(*Server), clientOpts []func(*Client)) {
	for _, opt := range opts {
		if opt.serverOption != nil {
			serverOpts = append(serverOpts, opt.serverOption)
		}
		if opt.clientOption != nil {
			clientOpts = append(clientOpts, opt.clientOption)
		}
	}
	return serverOpts, clientOpts
}
