package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/leadbot/internal/reliability"
)

// KeyLocker is an in-process per-key mutex. Entries are dropped once no
// goroutine holds or waits on them.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*keyLock)}
}

func (k *KeyLocker) Lock(ctx context.Context, id string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(id, l)
		})
	}, nil
}

func (k *KeyLocker) release(id string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}

// ErrLockHeld is returned by TryLock when another holder owns the key.
var ErrLockHeld = errors.New("session lock held")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker coordinates writers across processes with a token lock.
type RedisLocker struct {
	client   *redis.Client
	lease    time.Duration
	minDelay time.Duration
	maxDelay time.Duration
}

// NewRedisLocker returns a locker whose locks expire after lease if never released.
func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisLocker{
		client:   client,
		lease:    lease,
		minDelay: 10 * time.Millisecond,
		maxDelay: 200 * time.Millisecond,
	}
}

// TryLock makes a single acquisition attempt.
func (r *RedisLocker) TryLock(ctx context.Context, id string) (func(), error) {
	key := keyPrefix + id + ":lock"
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release regardless.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, r.client, []string{key}, token).Err()
		})
	}, nil
}

// Lock polls TryLock with capped backoff until it succeeds or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, id string) (func(), error) {
	for attempt := 0; ; attempt++ {
		unlock, err := r.TryLock(ctx, id)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		delay := reliability.ExponentialBackoff(attempt, r.minDelay, r.maxDelay)
		if err := reliability.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}
