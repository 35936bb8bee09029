package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

type LeaseConfig struct {
	Addr     string
	Password string
	Key      string
}

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = rueidis.NewLuaScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lease is a single-holder lock in Redis so that only one reaper instance sweeps at a time.
type Lease struct {
	client rueidis.Client
	key    string
	owner  string
}

func NewLease(cfg LeaseConfig) (*Lease, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect lease client: %w", err)
	}

	return &Lease{
		client: client,
		key:    cfg.Key,
		owner:  uuid.New().String(),
	}, nil
}

// Acquire tries to take the lease for ttl. It returns false when another holder owns it.
func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	cmd := l.client.B().Set().Key(l.key).Value(l.owner).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	err := l.client.Do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	return true, nil
}

// Release gives the lease up if this instance still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Exec(ctx, l.client, []string{l.key}, []string{l.owner}).Error(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

func (l *Lease) Close() {
	l.client.Close()
}
