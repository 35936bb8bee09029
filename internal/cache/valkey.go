package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const availabilityKeyPrefix = "availability:event:"

type Config struct {
	Addr            string
	Password        string
	DB              int
	AvailabilityTTL time.Duration
}

// ValkeyClient keeps short-lived availability snapshots and backs the rate limiter.
// Capacity decisions never read from it.
type ValkeyClient struct {
	client *redis.Client
	ttl    time.Duration
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return NewValkeyClientFrom(rdb, cfg.AvailabilityTTL), nil
}

// NewValkeyClientFrom wraps an existing client, used by tests with redismock.
func NewValkeyClientFrom(rdb *redis.Client, ttl time.Duration) *ValkeyClient {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &ValkeyClient{client: rdb, ttl: ttl}
}

// Redis exposes the underlying client for the rate limiter.
func (v *ValkeyClient) Redis() *redis.Client {
	return v.client
}

func availabilityKey(eventID int64) string {
	return availabilityKeyPrefix + strconv.FormatInt(eventID, 10)
}

// GetAvailability returns the cached snapshot for an event, or ok=false on a miss.
func (v *ValkeyClient) GetAvailability(ctx context.Context, eventID int64) ([]byte, bool, error) {
	data, err := v.client.Get(ctx, availabilityKey(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache lookup error: %w", err)
	}
	return data, true, nil
}

func (v *ValkeyClient) SetAvailability(ctx context.Context, eventID int64, data []byte) error {
	if err := v.client.Set(ctx, availabilityKey(eventID), data, v.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache availability: %w", err)
	}
	return nil
}

// InvalidateAvailability drops snapshots for the given events.
func (v *ValkeyClient) InvalidateAvailability(ctx context.Context, eventIDs ...int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	keys := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		keys[i] = availabilityKey(id)
	}
	if err := v.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate availability: %w", err)
	}
	return nil
}

func (v *ValkeyClient) HealthCheck(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}

func (v *ValkeyClient) Close() error {
	return v.client.Close()
}
