// Package cache holds the read-path caches of the experiment factory: otter for
// the in-process L1 and Redis for the shared L2, plus the Redis update queue and
// invalidation channel that keep them consistent with Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/validation"
)

// ErrCacheMiss is returned when a key is absent from Redis.
var ErrCacheMiss = errors.New("cache miss")

// SetResult reports what the compare-and-set script did.
type SetResult int

const (
	// SetResultSkipped means the stored version was equal or newer.
	SetResultSkipped SetResult = 0
	// SetResultUpdated means the key was absent or older and has been written.
	SetResultUpdated SetResult = 1
	// SetResultRepaired means the stored value lacked a version prefix and was overwritten.
	SetResultRepaired SetResult = 2
)

func (r SetResult) String() string {
	switch r {
	case SetResultSkipped:
		return "skipped"
	case SetResultUpdated:
		return "updated"
	case SetResultRepaired:
		return "repaired"
	default:
		return "unknown"
	}
}

// setIfNewerScript writes ARGV[2] only when ARGV[1] is newer than the stored version prefix.
var setIfNewerScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
local sep = string.find(current, '|', 1, true)
if not sep or sep > 21 then
	redis.call('SET', KEYS[1], ARGV[2])
	return 2
end
local stored = tonumber(string.sub(current, 1, sep - 1))
if not stored then
	redis.call('SET', KEYS[1], ARGV[2])
	return 2
end
if tonumber(ARGV[1]) > stored then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// RedisCache is the L2 cache and the messaging surface between control plane,
// syncer and data planes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an initialized client (see NewRedisClient).
func NewRedisCache(client *redis.Client) *RedisCache {
	validation.MustNotNil(client, "cache", "redis client")
	return &RedisCache{client: client}
}

// Client exposes the underlying client for health checks and pool monitoring.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// SetExperimentSafely stores exp unless Redis already holds the same or a newer version.
func (c *RedisCache) SetExperimentSafely(ctx context.Context, exp *experiment.Experiment) (SetResult, error) {
	payload, err := json.Marshal(exp)
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to marshal experiment %q: %w", exp.ID, err)
	}

	res, err := setIfNewerScript.Run(ctx, c.client,
		[]string{ExperimentKey(exp.ID)},
		strconv.FormatInt(exp.Version, 10),
		encodeEntry(payload, exp.Version),
	).Int()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to set experiment %q in cache: %w", exp.ID, err)
	}

	return SetResult(res), nil
}

// GetExperiment reads an experiment definition. Returns ErrCacheMiss when absent.
func (c *RedisCache) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	val, err := c.client.Get(ctx, ExperimentKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment %q from cache: %w", id, err)
	}

	var exp experiment.Experiment
	if err := json.Unmarshal([]byte(decodeEntry(val)), &exp); err != nil {
		return nil, fmt.Errorf("failed to decode cached experiment %q: %w", id, err)
	}
	return &exp, nil
}

// DeleteExperiment removes an experiment definition.
func (c *RedisCache) DeleteExperiment(ctx context.Context, id string) error {
	return c.client.Del(ctx, ExperimentKey(id)).Err()
}

// SetAssignment stores a only if the key is absent. Assignments never change, so
// an existing value is always the same record.
func (c *RedisCache) SetAssignment(ctx context.Context, a *experiment.Assignment, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("failed to marshal assignment: %w", err)
	}

	ok, err := c.client.SetNX(ctx, AssignmentKey(a.ExperimentID, a.UserKey), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to cache assignment: %w", err)
	}
	return ok, nil
}

// GetAssignment reads a cached assignment. Returns ErrCacheMiss when absent.
func (c *RedisCache) GetAssignment(ctx context.Context, experimentID, userKey string) (*experiment.Assignment, error) {
	val, err := c.client.Get(ctx, AssignmentKey(experimentID, userKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment from cache: %w", err)
	}

	var a experiment.Assignment
	if err := json.Unmarshal(val, &a); err != nil {
		return nil, fmt.Errorf("failed to decode cached assignment: %w", err)
	}
	return &a, nil
}

// PublishUpdate enqueues an experiment id for the syncer.
func (c *RedisCache) PublishUpdate(ctx context.Context, experimentID string, version int64) error {
	if err := c.client.LPush(ctx, UpdateQueueKey, EncodeQueueMessage(experimentID, version)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue update for %q: %w", experimentID, err)
	}
	return nil
}

// PopUpdate blocks up to timeout for the oldest queued update. ok is false on timeout.
func (c *RedisCache) PopUpdate(ctx context.Context, timeout time.Duration) (id string, version int64, ok bool, err error) {
	res, err := c.client.BRPop(ctx, timeout, UpdateQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to pop update: %w", err)
	}

	// BRPOP returns [key, value]
	id, version = DecodeQueueMessage(res[1])
	return id, version, true, nil
}

// QueueDepth returns the number of pending updates.
func (c *RedisCache) QueueDepth(ctx context.Context) (int64, error) {
	return c.client.LLen(ctx, UpdateQueueKey).Result()
}

// PublishInvalidation tells every data plane to drop its L1 entry for experimentID.
func (c *RedisCache) PublishInvalidation(ctx context.Context, experimentID string) error {
	if err := c.client.Publish(ctx, InvalidationChannel, experimentID).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for %q: %w", experimentID, err)
	}
	return nil
}

// SubscribeInvalidations calls fn for every invalidation message until ctx is done.
// The subscription is confirmed before the function starts waiting.
func (c *RedisCache) SubscribeInvalidations(ctx context.Context, fn func(experimentID string)) error {
	sub := c.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, open := <-ch:
			if !open {
				return errors.New("invalidation channel closed")
			}
			fn(msg.Payload)
		}
	}
}

// MarkHydrated records that Redis holds every experiment. ttl bounds how long the
// marker survives without a refresh; zero means no expiry.
func (c *RedisCache) MarkHydrated(ctx context.Context, ttl time.Duration) error {
	return c.client.Set(ctx, HydrationMarkerKey, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// IsHydrated reports whether the hydration marker is present.
func (c *RedisCache) IsHydrated(ctx context.Context) (bool, error) {
	n, err := c.client.Exists(ctx, HydrationMarkerKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check hydration marker: %w", err)
	}
	return n == 1, nil
}

// HealthCheck verifies the connection to the Redis server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
