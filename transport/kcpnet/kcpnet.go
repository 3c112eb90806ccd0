// Package kcpnet carries the protocol over KCP, an ARQ layer on UDP tuned
// for latency over throughput. KCP delivers reliably and in order, so the
// unreliable class rides the same session: it keeps its contract (the
// receiver must tolerate drops) while in practice losing nothing.
package kcpnet

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/aleksa2808/bevy-networked-platformer/transport"
)

const (
	// maxFrameSize bounds a single framed message. Snapshots are by far the
	// largest payload and stay well under this.
	maxFrameSize = 1 << 20
	writeTimeout = 5 * time.Second
	inboxLimit   = 4096
)

// Listen starts a KCP listener and its accept loop.
func Listen(addr string, log zerolog.Logger) (*Listener, error) {
	inner, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "kcp listen on %q", addr)
	}
	ln := &Listener{
		inner:  inner,
		log:    log,
		conns:  make(chan transport.Conn, 16),
		closed: make(chan struct{}),
	}
	go ln.acceptLoop()
	return ln, nil
}

type Listener struct {
	inner     *kcp.Listener
	log       zerolog.Logger
	conns     chan transport.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (ln *Listener) acceptLoop() {
	for {
		sess, err := ln.inner.AcceptKCP()
		if err != nil {
			select {
			case <-ln.closed:
			default:
				ln.log.Error().Err(err).Msg("kcp accept failed")
			}
			return
		}
		tuneSession(sess)
		c := newConn(sess, ln.log)
		select {
		case ln.conns <- c:
		case <-ln.closed:
			_ = c.Close()
			return
		}
	}
}

func (ln *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-ln.conns:
		return c, nil
	case <-ln.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ln *Listener) Close() error {
	var err error
	ln.closeOnce.Do(func() {
		close(ln.closed)
		err = ln.inner.Close()
	})
	return err
}

func (ln *Listener) Addr() string {
	return ln.inner.Addr().String()
}

// Dial connects to a KCP server.
func Dial(addr string, log zerolog.Logger) (transport.Conn, error) {
	sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "kcp dial %q", addr)
	}
	tuneSession(sess)
	return newConn(sess, log), nil
}

// tuneSession switches the session into the low latency profile: turbo ARQ
// timing, immediate ACKs, and stream mode since framing is ours.
func tuneSession(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetACKNoDelay(true)
	sess.SetWindowSize(256, 256)
}

type conn struct {
	sess      *kcp.UDPSession
	log       zerolog.Logger
	inbox     *transport.Inbox
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(sess *kcp.UDPSession, log zerolog.Logger) *conn {
	c := &conn{
		sess:  sess,
		log:   log.With().Str("remote", sess.RemoteAddr().String()).Logger(),
		inbox: transport.NewInbox(inboxLimit),
	}
	go c.readPump()
	return c
}

// readPump reads length prefixed frames off the session into the inbox until
// the session dies.
func (c *conn) readPump() {
	var header [4]byte
	for {
		if _, err := io.ReadFull(c.sess, header[:]); err != nil {
			c.fail(err)
			return
		}
		length := binary.BigEndian.Uint32(header[:])
		if length == 0 || length > maxFrameSize {
			c.fail(eris.Errorf("bad frame length %d", length))
			return
		}
		msg := make([]byte, length)
		if _, err := io.ReadFull(c.sess, msg); err != nil {
			c.fail(err)
			return
		}
		if !c.inbox.Put(msg) {
			c.log.Warn().Msg("inbox full, dropping frame")
		}
	}
}

func (c *conn) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || isClosedNetErr(err) {
		err = transport.ErrClosed
	}
	c.inbox.Fail(err)
	_ = c.Close()
}

func (c *conn) send(msg []byte) error {
	if len(msg) == 0 || len(msg) > maxFrameSize {
		return eris.Errorf("bad frame length %d", len(msg))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(msg)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sess.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.sess.Write(header[:]); err != nil {
		return eris.Wrap(err, "write frame header")
	}
	if _, err := c.sess.Write(msg); err != nil {
		return eris.Wrap(err, "write frame body")
	}
	return nil
}

func (c *conn) SendReliable(msg []byte) error   { return c.send(msg) }
func (c *conn) SendUnreliable(msg []byte) error { return c.send(msg) }

func (c *conn) Poll() ([][]byte, error) {
	return c.inbox.Drain()
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.inbox.Fail(transport.ErrClosed)
		err = c.sess.Close()
	})
	return err
}

func (c *conn) RemoteAddr() string {
	return c.sess.RemoteAddr().String()
}

func isClosedNetErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
