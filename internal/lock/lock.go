// Package lock guards a sync window against overlapping runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/gradersync/internal/model"
)

// ErrLocked is returned when another run already holds the window.
var ErrLocked = errors.New("window is locked by another run")

// Locker acquires an exclusive hold on a window. The returned release func
// must be called once the run is over.
type Locker interface {
	Acquire(ctx context.Context, w model.Window) (release func(context.Context) error, err error)
	Close() error
}

// Key returns the redis key guarding a window.
func Key(w model.Window) string {
	return fmt.Sprintf("gradersync:lock:%d:%d", w.Start.Unix(), w.End.Unix())
}

// Release only deletes the key when it still holds our token, so a run whose
// lock expired cannot drop a lock taken by a later run.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker connects to redis and verifies the connection.
func NewRedisLocker(redisURL string, ttl time.Duration) (Locker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisLocker{client: client, ttl: ttl}, nil
}

// Acquire sets the window key with NX and the configured TTL.
func (l *redisLocker) Acquire(ctx context.Context, w model.Window) (func(context.Context) error, error) {
	key := Key(w)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

func (l *redisLocker) Close() error {
	return l.client.Close()
}

type noopLocker struct{}

// NoOp returns a Locker that always succeeds, used when redis is disabled.
func NoOp() Locker { return noopLocker{} }

func (noopLocker) Acquire(context.Context, model.Window) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

func (noopLocker) Close() error { return nil }
