// Package memnet is an in-memory transport with a virtual clock. Nothing is
// delivered until the network is advanced, and all latency, jitter, and loss
// come from a seeded generator, so a test can replay the exact same network
// conditions on every run.
package memnet

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aleksa2808/bevy-networked-platformer/transport"
)

// Config shapes the simulated link. The zero value is a perfect network with
// instant delivery.
type Config struct {
	// Latency is the one-way delivery delay.
	Latency time.Duration
	// Jitter is added uniformly in [-Jitter, +Jitter] to each delivery.
	Jitter time.Duration
	// LossRate in [0, 1] drops unreliable messages. Reliable messages are
	// never lost.
	LossRate float64
	// Seed feeds the generator behind jitter and loss rolls.
	Seed int64
}

type pending struct {
	due time.Duration
	seq uint64
	dst *conn
	msg []byte
}

// Network owns the virtual clock shared by every connection made through it.
type Network struct {
	mu        sync.Mutex
	cfg       Config
	rng       *rand.Rand
	now       time.Duration
	seq       uint64
	inflight  []pending
	listeners map[string]*Listener
}

func New(cfg Config) *Network {
	return &Network{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		listeners: make(map[string]*Listener),
	}
}

// Now returns the virtual time elapsed since the network was created.
func (n *Network) Now() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now
}

// Advance moves the virtual clock forward and delivers every in-flight
// message that comes due, in due order.
func (n *Network) Advance(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now += d

	var due, later []pending
	for _, p := range n.inflight {
		if p.due <= n.now {
			due = append(due, p)
		} else {
			later = append(later, p)
		}
	}
	n.inflight = later
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})
	for _, p := range due {
		if p.dst.closed {
			continue
		}
		p.dst.inbox.Put(p.msg)
	}
}

// Listen registers a named endpoint that Dial can reach.
func (n *Network) Listen(addr string) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[addr]; ok {
		return nil, eris.Errorf("memnet: address %q already in use", addr)
	}
	ln := &Listener{
		net:    n,
		addr:   addr,
		accept: make(chan *conn, 16),
		closed: make(chan struct{}),
	}
	n.listeners[addr] = ln
	return ln, nil
}

// Dial connects to a listening endpoint. The handshake is instant; only
// messages pay latency.
func (n *Network) Dial(addr string) (transport.Conn, error) {
	n.mu.Lock()
	ln, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, eris.Errorf("memnet: no listener on %q", addr)
	}

	client := &conn{net: n, inbox: transport.NewInbox(0)}
	server := &conn{net: n, inbox: transport.NewInbox(0)}
	client.peer, server.peer = server, client
	client.addr = fmt.Sprintf("mem://%s#server", addr)
	server.addr = fmt.Sprintf("mem://%s#client", addr)

	select {
	case ln.accept <- server:
	default:
		return nil, eris.Errorf("memnet: accept backlog full on %q", addr)
	}
	return client, nil
}

type Listener struct {
	net       *Network
	addr      string
	accept    chan *conn
	closeOnce sync.Once
	closed    chan struct{}
}

func (ln *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-ln.accept:
		return c, nil
	case <-ln.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ln *Listener) Close() error {
	ln.closeOnce.Do(func() {
		close(ln.closed)
		ln.net.mu.Lock()
		delete(ln.net.listeners, ln.addr)
		ln.net.mu.Unlock()
	})
	return nil
}

func (ln *Listener) Addr() string {
	return "mem://" + ln.addr
}

// conn is one endpoint of a dialed pair. closed and lastReliableDue are
// guarded by the network mutex.
type conn struct {
	net             *Network
	peer            *conn
	inbox           *transport.Inbox
	addr            string
	closed          bool
	lastReliableDue time.Duration
}

func (c *conn) SendReliable(msg []byte) error {
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	due := n.now + n.cfg.Latency + n.jitterLocked()
	// Reliable delivery is FIFO: never due before the previous one.
	if due < c.lastReliableDue {
		due = c.lastReliableDue
	}
	c.lastReliableDue = due
	n.enqueueLocked(due, c.peer, msg)
	return nil
}

func (c *conn) SendUnreliable(msg []byte) error {
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if n.cfg.LossRate > 0 && n.rng.Float64() < n.cfg.LossRate {
		return nil
	}
	n.enqueueLocked(n.now+n.cfg.Latency+n.jitterLocked(), c.peer, msg)
	return nil
}

func (c *conn) Poll() ([][]byte, error) {
	return c.inbox.Drain()
}

// Close tears down both endpoints. The peer learns about it immediately,
// without latency.
func (c *conn) Close() error {
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.peer.closed = true
	c.inbox.Fail(transport.ErrClosed)
	c.peer.inbox.Fail(transport.ErrClosed)
	return nil
}

func (c *conn) RemoteAddr() string {
	return c.addr
}

func (n *Network) enqueueLocked(due time.Duration, dst *conn, msg []byte) {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	n.seq++
	n.inflight = append(n.inflight, pending{due: due, seq: n.seq, dst: dst, msg: cp})
}

func (n *Network) jitterLocked() time.Duration {
	if n.cfg.Jitter <= 0 {
		return 0
	}
	spread := int64(2*n.cfg.Jitter) + 1
	return time.Duration(n.rng.Int63n(spread)) - n.cfg.Jitter
}
