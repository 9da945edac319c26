package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// InvalidatePatient drops the cached views for one patient after a payment
// status change. Best-effort: a miss or failure only delays cache refresh.
func (c *Client) InvalidatePatient(ctx context.Context, patientID string) error {
	keys := []string{
		fmt.Sprintf("patient:%s:orders", patientID),
		fmt.Sprintf("patient:%s:summary", patientID),
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// MarkWebhookSeen records a (provider, transaction id) pair with a TTL and
// reports whether this delivery is the first one. Advisory fast-path for
// redelivery suppression; the state machine remains the authority.
func (c *Client) MarkWebhookSeen(ctx context.Context, provider, txID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("webhook:%s:%s", provider, txID)
	return c.rdb.SetNX(ctx, key, "1", ttl).Result()
}
