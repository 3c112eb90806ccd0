package memnet_test

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/transport"
	"github.com/aleksa2808/bevy-networked-platformer/transport/memnet"
)

func dialPair(t *testing.T, cfg memnet.Config) (client, server transport.Conn, net *memnet.Network) {
	t.Helper()
	net = memnet.New(cfg)
	ln, err := net.Listen("game")
	assert.NilError(t, err)
	client, err = net.Dial("game")
	assert.NilError(t, err)
	server, err = ln.Accept(context.Background())
	assert.NilError(t, err)
	return client, server, net
}

func TestNothingArrivesBeforeLatencyElapses(t *testing.T) {
	client, server, net := dialPair(t, memnet.Config{Latency: 50 * time.Millisecond})

	assert.NilError(t, client.SendReliable([]byte("hi")))
	net.Advance(49 * time.Millisecond)
	msgs, err := server.Poll()
	assert.NilError(t, err)
	assert.Equal(t, 0, len(msgs))

	net.Advance(1 * time.Millisecond)
	msgs, err = server.Poll()
	assert.NilError(t, err)
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, "hi", string(msgs[0]))
}

func TestReliableKeepsOrderUnderJitter(t *testing.T) {
	client, server, net := dialPair(t, memnet.Config{
		Latency: 20 * time.Millisecond,
		Jitter:  15 * time.Millisecond,
		Seed:    7,
	})

	for _, payload := range []string{"1", "2", "3", "4", "5"} {
		assert.NilError(t, client.SendReliable([]byte(payload)))
	}
	net.Advance(time.Second)

	msgs, err := server.Poll()
	assert.NilError(t, err)
	assert.Equal(t, 5, len(msgs))
	for i, want := range []string{"1", "2", "3", "4", "5"} {
		assert.Equal(t, want, string(msgs[i]))
	}
}

func TestUnreliableDropsAtConfiguredRate(t *testing.T) {
	client, server, net := dialPair(t, memnet.Config{LossRate: 0.5, Seed: 42})

	const sent = 1000
	for i := 0; i < sent; i++ {
		assert.NilError(t, client.SendUnreliable([]byte{byte(i)}))
	}
	net.Advance(time.Second)

	msgs, err := server.Poll()
	assert.NilError(t, err)
	got := len(msgs)
	assert.Check(t, got > 400 && got < 600, "delivered %d of %d at 50%% loss", got, sent)
}

func TestSameSeedSameDeliveries(t *testing.T) {
	run := func() []bool {
		client, server, net := dialPair(t, memnet.Config{LossRate: 0.3, Seed: 99})
		delivered := make([]bool, 0, 50)
		for i := 0; i < 50; i++ {
			assert.NilError(t, client.SendUnreliable([]byte{byte(i)}))
		}
		net.Advance(time.Second)
		msgs, err := server.Poll()
		assert.NilError(t, err)
		seen := make(map[byte]bool)
		for _, m := range msgs {
			seen[m[0]] = true
		}
		for i := 0; i < 50; i++ {
			delivered = append(delivered, seen[byte(i)])
		}
		return delivered
	}

	first := run()
	second := run()
	for i := range first {
		assert.Equal(t, first[i], second[i], "message %d", i)
	}
}

func TestCloseReachesBothEnds(t *testing.T) {
	client, server, net := dialPair(t, memnet.Config{})

	assert.NilError(t, client.SendReliable([]byte("last")))
	net.Advance(0)
	assert.NilError(t, client.Close())

	// Already delivered messages survive the close.
	msgs, err := server.Poll()
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.Equal(t, 1, len(msgs))

	assert.ErrorIs(t, server.SendReliable([]byte("x")), transport.ErrClosed)
	assert.ErrorIs(t, client.SendUnreliable([]byte("x")), transport.ErrClosed)
}

func TestDialWithoutListenerFails(t *testing.T) {
	net := memnet.New(memnet.Config{})
	_, err := net.Dial("nobody")
	assert.ErrorContains(t, err, "no listener")
}
