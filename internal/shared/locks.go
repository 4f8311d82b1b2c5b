package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CustomerLockKey builds redis keys for per-customer posting critical
// sections.
func CustomerLockKey(customerID int64) string {
	return fmt.Sprintf("finance:customer:%d:lock", customerID)
}

// CustomerLocker serializes payment postings per customer. Postings
// for different customers may proceed concurrently.
type CustomerLocker interface {
	Lock(ctx context.Context, customerID int64) (unlock func(), err error)
}

// MutexLocker is the in-process locker used by a single-instance
// deployment and by tests.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewMutexLocker constructs a MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[int64]*sync.Mutex)}
}

func (l *MutexLocker) forCustomer(customerID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[customerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[customerID] = m
	}
	return m
}

// Lock acquires the customer mutex. The context is checked before
// blocking; once acquired, unlock must be called exactly once.
func (l *MutexLocker) Lock(ctx context.Context, customerID int64) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := l.forCustomer(customerID)
	m.Lock()
	return m.Unlock, nil
}

// ErrLockNotAcquired indicates the redis lock is held elsewhere and
// could not be obtained within the configured window.
var ErrLockNotAcquired = errors.New("customer posting lock not acquired")

// RedisLocker serializes postings across instances via SET NX with a
// TTL. Intended for multi-instance deployments; the TTL bounds the
// damage of a crashed holder.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
}

// NewRedisLocker constructs a RedisLocker with sane defaults.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond, maxWait: 5 * time.Second}
}

// Lock polls SET NX until acquired, the wait window elapses, or ctx is
// done. Unlock deletes the key.
func (l *RedisLocker) Lock(ctx context.Context, customerID int64) (func(), error) {
	key := CustomerLockKey(customerID)
	deadline := time.Now().Add(l.maxWait)
	for {
		ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			return nil, Wrap(KindStoreUnavailable, err, "acquire customer lock")
		}
		if ok {
			return func() {
				delCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = l.client.Del(delCtx, key).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
