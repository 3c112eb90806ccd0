// Package wsnet carries the protocol over WebSocket for clients that cannot
// open a UDP socket, browsers above all. TCP already guarantees order and
// delivery, so as with KCP the unreliable class shares the connection and the
// receiver's drop tolerance simply goes unused.
package wsnet

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/aleksa2808/bevy-networked-platformer/transport"
)

// Path is the endpoint connections are upgraded on.
const Path = "/play"

const (
	writeDeadline = 5 * time.Second
	inboxLimit    = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Game clients connect from anywhere.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Listen serves WebSocket upgrades on addr and hands the upgraded
// connections to Accept.
func Listen(addr string, log zerolog.Logger) (*Listener, error) {
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "ws listen on %q", addr)
	}
	ln := &Listener{
		tcp:    tcp,
		log:    log,
		conns:  make(chan transport.Conn, 16),
		closed: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, ln.handleUpgrade)
	ln.srv = &http.Server{Handler: mux}
	go func() {
		if err := ln.srv.Serve(tcp); err != nil && err != http.ErrServerClosed {
			select {
			case <-ln.closed:
			default:
				log.Error().Err(err).Msg("ws server stopped")
			}
		}
	}()
	return ln, nil
}

type Listener struct {
	tcp       net.Listener
	srv       *http.Server
	log       zerolog.Logger
	conns     chan transport.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (ln *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ln.log.Error().Err(eris.Wrap(err, "")).Msg("websocket upgrade failed")
		return
	}
	c := newConn(ws, ln.log)
	select {
	case ln.conns <- c:
	case <-ln.closed:
		_ = c.Close()
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

// Close stops accepting upgrades. Connections already handed out stay alive
// until closed individually.
func (ln *Listener) Close() error {
	var err error
	ln.closeOnce.Do(func() {
		close(ln.closed)
		err = ln.srv.Close()
	})
	return err
}

func (ln *Listener) Addr() string {
	return ln.tcp.Addr().String()
}

// Dial connects to a WebSocket server. addr may be host:port or a full ws://
// URL.
func Dial(addr string, log zerolog.Logger) (transport.Conn, error) {
	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + addr + Path
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "ws dial %q", url)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return newConn(ws, log), nil
}

type conn struct {
	ws        *websocket.Conn
	log       zerolog.Logger
	inbox     *transport.Inbox
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, log zerolog.Logger) *conn {
	c := &conn{
		ws:    ws,
		log:   log.With().Str("remote", ws.RemoteAddr().String()).Logger(),
		inbox: transport.NewInbox(inboxLimit),
	}
	go c.readPump()
	return c
}

func (c *conn) readPump() {
	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.inbox.Fail(transport.ErrClosed)
			} else {
				c.inbox.Fail(eris.Wrap(err, ""))
			}
			_ = c.Close()
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		if !c.inbox.Put(msg) {
			c.log.Warn().Msg("inbox full, dropping frame")
		}
	}
}

func (c *conn) send(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return eris.Wrap(err, "")
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return eris.Wrap(err, "")
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
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeDeadline),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
