package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crenshan/experiment-factory/internal/observability"
)

// poolSnapshot holds the cumulative pgxpool counters already exported, so each
// tick adds only the delta to the Prometheus counters.
type poolSnapshot struct {
	acquireCount    int64
	acquireDuration time.Duration
	waitCount       int64
}

// RunPoolMonitor publishes pool statistics every interval until ctx is done.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last poolSnapshot
	last = recordPoolStats(pool.Stat(), last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last = recordPoolStats(pool.Stat(), last)
		}
	}
}

func recordPoolStats(s *pgxpool.Stat, last poolSnapshot) poolSnapshot {
	observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(s.MaxConns()))
	observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(s.TotalConns()))
	observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns()))
	observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(s.AcquiredConns()))

	next := poolSnapshot{
		acquireCount:    s.AcquireCount(),
		acquireDuration: s.AcquireDuration(),
		waitCount:       s.EmptyAcquireCount(),
	}

	if d := next.acquireCount - last.acquireCount; d > 0 {
		observability.DatabasePoolAcquireCount.Add(float64(d))
	}
	if d := next.acquireDuration - last.acquireDuration; d > 0 {
		observability.DatabasePoolAcquireDuration.Add(d.Seconds())
	}
	if d := next.waitCount - last.waitCount; d > 0 {
		observability.DatabasePoolWaitCount.Add(float64(d))
	}

	return next
}
