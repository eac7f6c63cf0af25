package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisRetries = 8

// ErrContention is returned when optimistic updates keep losing the WATCH race.
var ErrContention = errors.New("counter update contention")

// RedisStore keeps one hash per key and updates it inside WATCH/MULTI, so counters
// are shared safely between instances.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "counter"
	}
	return &RedisStore{client: client, prefix: prefix, maxRetries: defaultRedisRetries}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	values, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("read counter %s: %w", key, err)
	}
	return decodeRecord(values)
}

func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (Record, error) {
	redisKey := s.key(key)

	var next Record
	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		current, found, err := decodeRecord(values)
		if err != nil {
			return err
		}

		next = fn(current, found)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, "count", next.Count, "until", encodeUntil(next.Until))
			if ttl > 0 {
				pipe.PExpire(ctx, redisKey, ttl)
			} else {
				pipe.Persist(ctx, redisKey)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Record{}, fmt.Errorf("update counter %s: %w", key, err)
	}

	return Record{}, fmt.Errorf("update counter %s: %w", key, ErrContention)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete counter %s: %w", key, err)
	}
	return nil
}

func decodeRecord(values map[string]string) (Record, bool, error) {
	if len(values) == 0 {
		return Record{}, false, nil
	}

	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return Record{}, false, fmt.Errorf("decode counter count: %w", err)
	}

	var until time.Time
	if raw := values["until"]; raw != "" && raw != "0" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Record{}, false, fmt.Errorf("decode counter deadline: %w", err)
		}
		until = time.UnixMilli(ms).UTC()
	}

	return Record{Count: count, Until: until}, true, nil
}

func encodeUntil(until time.Time) int64 {
	if until.IsZero() {
		return 0
	}
	return until.UnixMilli()
}
