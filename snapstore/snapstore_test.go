package snapstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/protocol"
	"github.com/aleksa2808/bevy-networked-platformer/snapstore"
)

func newRedisStore(t *testing.T) (*snapstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr(),
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	return snapstore.NewRedisStore(client, "duel", time.Hour), s
}

func TestLatestReturnsMostRecentSave(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for tick := protocol.Tick(10); tick <= 30; tick += 10 {
		err := store.Save(ctx, snapstore.Record{
			Tick:     tick,
			State:    []byte(`{"hp":1}`),
			Checksum: "abc",
			SavedAt:  time.Unix(1700000000, 0).UTC(),
		})
		assert.NilError(t, err)
	}

	rec, err := store.Latest(ctx)
	assert.NilError(t, err)
	assert.Equal(t, protocol.Tick(30), rec.Tick)
	assert.Equal(t, `{"hp":1}`, string(rec.State))
	assert.Equal(t, "abc", rec.Checksum)
}

func TestLatestOnEmptyStore(t *testing.T) {
	store, _ := newRedisStore(t)
	_, err := store.Latest(context.Background())
	assert.ErrorIs(t, eris.Cause(err), snapstore.ErrNoSnapshot)
}

func TestExpiredSnapshotReportsNoSnapshot(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	err := store.Save(ctx, snapstore.Record{Tick: 5, State: []byte(`{}`)})
	assert.NilError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = store.Latest(ctx)
	assert.ErrorIs(t, eris.Cause(err), snapstore.ErrNoSnapshot)
}

func TestNamespacesDoNotCollide(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	a := snapstore.NewRedisStore(client, "match-a", 0)
	b := snapstore.NewRedisStore(client, "match-b", 0)
	ctx := context.Background()

	assert.NilError(t, a.Save(ctx, snapstore.Record{Tick: 1, State: []byte(`{"m":"a"}`)}))
	assert.NilError(t, b.Save(ctx, snapstore.Record{Tick: 2, State: []byte(`{"m":"b"}`)}))

	recA, err := a.Latest(ctx)
	assert.NilError(t, err)
	assert.Equal(t, protocol.Tick(1), recA.Tick)
	recB, err := b.Latest(ctx)
	assert.NilError(t, err)
	assert.Equal(t, protocol.Tick(2), recB.Tick)
}

func TestNopStore(t *testing.T) {
	var store snapstore.NopStore
	ctx := context.Background()
	assert.NilError(t, store.Save(ctx, snapstore.Record{Tick: 1}))
	_, err := store.Latest(ctx)
	assert.ErrorIs(t, eris.Cause(err), snapstore.ErrNoSnapshot)
}
