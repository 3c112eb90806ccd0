// Package snapstore archives authoritative snapshots outside the process.
// The rollback window only covers the recent past; the archive is what lets a
// restarted server resume a match instead of resetting it.
package snapstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/aleksa2808/bevy-networked-platformer/codec"
	"github.com/aleksa2808/bevy-networked-platformer/protocol"
)

// ErrNoSnapshot is returned by Latest when nothing has been archived yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Record is one archived snapshot.
type Record struct {
	Tick     protocol.Tick `json:"tick"`
	State    []byte        `json:"state"`
	Checksum string        `json:"checksum"`
	SavedAt  time.Time     `json:"savedAt"`
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Latest(ctx context.Context) (Record, error)
}

// NopStore discards snapshots. It is the default when no archive is
// configured.
type NopStore struct{}

func (NopStore) Save(context.Context, Record) error { return nil }

func (NopStore) Latest(context.Context) (Record, error) {
	return Record{}, eris.Wrap(ErrNoSnapshot, "")
}

// RedisStore keeps snapshots in redis under a namespace so several matches
// can share one instance.
type RedisStore struct {
	client    redis.Cmdable
	namespace string
	ttl       time.Duration
}

// NewRedisStore creates a store. ttl bounds how long archived snapshots
// live; zero keeps them forever.
func NewRedisStore(client redis.Cmdable, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisStore) snapshotKey(tick protocol.Tick) string {
	return s.namespace + ":snapshot:" + strconv.FormatInt(int64(tick), 10)
}

func (s *RedisStore) latestKey() string {
	return s.namespace + ":snapshot:latest"
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := codec.Encode(rec)
	if err != nil {
		return eris.Wrap(err, "encode snapshot record")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.snapshotKey(rec.Tick), data, s.ttl)
		pipe.Set(ctx, s.latestKey(), int64(rec.Tick), s.ttl)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "archive snapshot")
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context) (Record, error) {
	tickStr, err := s.client.Get(ctx, s.latestKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, eris.Wrap(ErrNoSnapshot, "")
		}
		return Record{}, eris.Wrap(err, "read latest snapshot pointer")
	}
	tick, err := strconv.ParseInt(tickStr, 10, 64)
	if err != nil {
		return Record{}, eris.Wrap(err, "parse latest snapshot pointer")
	}
	data, err := s.client.Get(ctx, s.snapshotKey(protocol.Tick(tick))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The pointer outlived the snapshot it points at.
			return Record{}, eris.Wrap(ErrNoSnapshot, "")
		}
		return Record{}, eris.Wrap(err, "read latest snapshot")
	}
	rec, err := codec.Decode[Record](data)
	if err != nil {
		return Record{}, eris.Wrap(err, "decode snapshot record")
	}
	return rec, nil
}
