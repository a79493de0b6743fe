package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// KeySeparator is the separator of redis key.
	KeySeparator = ":"

	// DefaultKeyPrefix prefixes every key written by RedisStore.
	DefaultKeyPrefix = "keepitup"

	pingNamespace  = "ping"
	nodesNamespace = "nodes"
)

// RedisOptions configures the redis backed store.
type RedisOptions struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string
	// Retention trims points older than this on every write. Zero keeps
	// everything.
	Retention time.Duration
}

// RedisStore keeps one sorted set per node, scored by sample time in
// microseconds, plus an index set of node ids.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      opts.Addrs,
		MasterName: opts.MasterName,
		Username:   opts.Username,
		Password:   opts.Password,
		DB:         opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return NewRedisStoreWithClient(client, opts.KeyPrefix, opts.Retention), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention, now: time.Now}
}

func (s *RedisStore) pingKey(nodeID string) string {
	return s.prefix + KeySeparator + pingNamespace + KeySeparator + nodeID
}

func (s *RedisStore) nodesKey() string {
	return s.prefix + KeySeparator + nodesNamespace
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *RedisStore) Write(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	touched := make(map[string]struct{})
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range points {
			member, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.ZAdd(ctx, s.pingKey(p.NodeID), &redis.Z{Score: score(p.Time), Member: member})
			touched[p.NodeID] = struct{}{}
		}

		ids := make([]interface{}, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
			if s.retention > 0 {
				cutoff := strconv.FormatFloat(score(s.now().Add(-s.retention)), 'f', 0, 64)
				pipe.ZRemRangeByScore(ctx, s.pingKey(id), "-inf", "("+cutoff)
			}
		}
		pipe.SAdd(ctx, s.nodesKey(), ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, nodeID string, since time.Time) ([]Point, error) {
	ids := []string{nodeID}
	if nodeID == "" {
		members, err := s.client.SMembers(ctx, s.nodesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ids = members
	}

	min := strconv.FormatFloat(score(since), 'f', 0, 64)
	var out []Point
	for _, id := range ids {
		members, err := s.client.ZRangeByScore(ctx, s.pingKey(id), &redis.ZRangeBy{
			Min: min,
			Max: "+inf",
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, member := range members {
			var p Point
			if err := json.Unmarshal([]byte(member), &p); err != nil {
				return nil, fmt.Errorf("decode point of %s: %w", id, err)
			}
			if p.Time.After(since) {
				out = append(out, p)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
