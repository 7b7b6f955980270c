package utils

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthStatus represents current status of external services.
type HealthStatus struct {
	Storage   string    `json:"storage"`
	Mongo     *bool     `json:"mongo,omitempty"`
	Redis     []bool    `json:"redis,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// HealthMonitor keeps the latest snapshot of dependency health.
type HealthMonitor struct {
	mu      sync.RWMutex
	current HealthStatus
	redis   []*redis.Client
	mongo   *mongo.Client
}

// NewHealthMonitor watches the given clients; either may be empty.
func NewHealthMonitor(storage string, redisClients []*redis.Client, mongoClient *mongo.Client) *HealthMonitor {
	return &HealthMonitor{
		current: HealthStatus{Storage: storage, CheckedAt: time.Now()},
		redis:   redisClients,
		mongo:   mongoClient,
	}
}

// Status returns latest stored health snapshot.
func (h *HealthMonitor) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Check pings every dependency once and stores the result.
func (h *HealthMonitor) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := HealthStatus{Storage: h.current.Storage, CheckedAt: time.Now()}
	for _, client := range h.redis {
		status.Redis = append(status.Redis, client.Ping(ctx).Err() == nil)
	}
	if h.mongo != nil {
		ok := h.mongo.Ping(ctx, nil) == nil
		status.Mongo = &ok
	}

	h.mu.Lock()
	h.current = status
	h.mu.Unlock()
	return status
}

// Start performs periodic health checks until ctx is cancelled.
func (h *HealthMonitor) Start(ctx context.Context, every time.Duration) {
	go func() {
		h.Check(ctx)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()
}
