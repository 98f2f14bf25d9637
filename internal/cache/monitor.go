package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crenshan/experiment-factory/internal/observability"
)

// RunPoolMonitor publishes go-redis pool statistics every interval until ctx is done.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last redis.PoolStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last = recordPoolStats(client.PoolStats(), last)
		}
	}
}

func recordPoolStats(s *redis.PoolStats, last redis.PoolStats) redis.PoolStats {
	observability.RedisPoolConnections.WithLabelValues("total").Set(float64(s.TotalConns))
	observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns))
	observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(s.StaleConns))

	if s.Hits > last.Hits {
		observability.RedisPoolHits.Add(float64(s.Hits - last.Hits))
	}
	if s.Misses > last.Misses {
		observability.RedisPoolMisses.Add(float64(s.Misses - last.Misses))
	}
	if s.Timeouts > last.Timeouts {
		observability.RedisPoolTimeouts.Add(float64(s.Timeouts - last.Timeouts))
	}

	return *s
}

// RunQueueMonitor publishes the update queue depth every interval until ctx is done.
func RunQueueMonitor(ctx context.Context, c *RedisCache, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := c.QueueDepth(ctx); err == nil {
				observability.RedisQueueDepth.Set(float64(depth))
			}
		}
	}
}
