package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"imageprocessor/dto"
)

const (
	resultKeyPrefix = "task:result:"
	resultTTL       = 10 * time.Minute
)

// ResultCache keeps projections of terminal tasks in Redis. Only completed
// and failed tasks are cached: their projection never changes, so a hit can
// be served without touching the store.
type ResultCache struct {
	client *redis.Client
}

func Connect(addr string) (*ResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &ResultCache{client: client}, nil
}

func (c *ResultCache) Get(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	data, err := c.client.Get(ctx, resultKeyPrefix+taskID).Result()
	if err != nil {
		return nil, err
	}
	var resp dto.TaskResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ResultCache) Set(ctx context.Context, taskID string, resp *dto.TaskResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultKeyPrefix+taskID, data, resultTTL).Err()
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}
