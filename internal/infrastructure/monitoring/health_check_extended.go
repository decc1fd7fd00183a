package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddSessionCapacityCheck reports unhealthy once the session store is full,
// since further sessions would evict live ones.
func (h *HealthChecker) AddSessionCapacityCheck(active func() int, capacity int) {
	h.AddCheck("sessions", func(ctx context.Context) error {
		if n := active(); n >= capacity {
			return fmt.Errorf("session store full (%d/%d)", n, capacity)
		}
		return nil
	}, time.Second)
}
