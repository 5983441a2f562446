package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStateLocked is returned by Claim when another process owns the document.
var ErrStateLocked = errors.New("storage: state document is owned by another process")

// Claimer is implemented by backends that can keep a second process from
// writing the same document. release gives the document up.
type Claimer interface {
	Claim(ctx context.Context) (release func(), err error)
}

// Claim takes an exclusive lock file next to the state file. The lock dies
// with the process.
func (b *FileBackend) Claim(_ context.Context) (func(), error) {
	lock := flock.New(b.Path() + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock state file: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked", ErrStateLocked, lock.Path())
	}
	return func() { _ = lock.Unlock() }, nil
}

// stateLockKey derives the advisory lock key guarding a namespace's document.
func stateLockKey(namespace string) int64 {
	h := fnv.New64a()
	h.Write([]byte("pricealerts/state/" + namespace))
	return int64(h.Sum64())
}

// Claim holds a session advisory lock for the namespace until release.
func (b *PostgresBackend) Claim(ctx context.Context) (func(), error) {
	unlock, acquired, err := b.TryAdvisoryLock(ctx, stateLockKey(b.namespace))
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("%w: namespace %q", ErrStateLocked, b.namespace)
	}
	return unlock, nil
}

const (
	redisClaimTTL     = 30 * time.Second
	redisClaimRefresh = 10 * time.Second
)

var (
	refreshClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Claim sets an owner key beside the document and keeps it alive until release.
func (b *RedisBackend) Claim(ctx context.Context) (func(), error) {
	ownerKey := b.key + ":owner"
	token := uuid.NewString()

	ok, err := b.client.SetNX(ctx, ownerKey, token, redisClaimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis claim %s: %w", ownerKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", ErrStateLocked, ownerKey)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(redisClaimRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = refreshClaimScript.Run(rctx, b.client, []string{ownerKey}, token, redisClaimTTL.Milliseconds()).Err()
				cancel()
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseClaimScript.Run(rctx, b.client, []string{ownerKey}, token).Err()
	}, nil
}

var (
	_ Claimer = (*FileBackend)(nil)
	_ Claimer = (*PostgresBackend)(nil)
	_ Claimer = (*RedisBackend)(nil)
)
