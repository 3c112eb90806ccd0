// Package transport abstracts the wire between clients and the server. The
// synchronization loops never talk to sockets directly: they poll a Conn for
// whole messages and push whole messages back. Implementations decide how the
// two delivery classes map onto the underlying medium.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once a connection or listener has been closed, either
// locally or by the peer.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a single peer connection carrying framed messages.
//
// SendReliable must deliver in order or fail the connection. SendUnreliable
// may drop, reorder, or duplicate. Both are safe for concurrent use. Poll
// drains every message received since the previous call without blocking; a
// non-nil error is terminal and the connection must be discarded.
type Conn interface {
	SendReliable(msg []byte) error
	SendUnreliable(msg []byte) error
	Poll() ([][]byte, error)
	Close() error
	RemoteAddr() string
}

// Listener accepts inbound connections.
type Listener interface {
	// Accept blocks until a connection arrives, the context is canceled, or
	// the listener is closed.
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// Inbox buffers messages between a transport's read pump and the loop that
// consumes them. Drain hands the accumulated batch to the consumer and resets
// the buffer, so the pump never blocks on a slow tick.
type Inbox struct {
	mu    sync.Mutex
	msgs  [][]byte
	limit int
	err   error
}

// NewInbox creates an inbox holding at most limit undrained messages.
// limit <= 0 means unbounded.
func NewInbox(limit int) *Inbox {
	return &Inbox{limit: limit}
}

// Put appends a message. It reports false when the message was discarded
// because the inbox is full or already failed.
func (in *Inbox) Put(msg []byte) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err != nil {
		return false
	}
	if in.limit > 0 && len(in.msgs) >= in.limit {
		return false
	}
	in.msgs = append(in.msgs, msg)
	return true
}

// Fail records a terminal error. The first error wins; buffered messages stay
// drainable.
func (in *Inbox) Fail(err error) {
	if err == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err == nil {
		in.err = err
	}
}

// Drain returns every buffered message and resets the buffer. Once the inbox
// has failed, the error is returned alongside whatever was still buffered and
// on every call after that.
func (in *Inbox) Drain() ([][]byte, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	msgs := in.msgs
	in.msgs = nil
	return msgs, in.err
}

// Len returns the number of undrained messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs)
}
