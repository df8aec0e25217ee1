package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/agenthands/genesis/internal/apperr"
)

// KeyedMutex is an in-process Locker. Different keys never contend.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyLock{}}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, apperr.Wrap(apperr.CodeCancelled, ctx.Err(), "waiting for lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

var errLockBusy = errors.New("lock held elsewhere")

// RedisLocker is a Locker shared by every server process. Locks expire after
// TTL so a crashed holder cannot wedge a hero forever. A live holder renews
// its lock every TTL/3 until it unlocks.
type RedisLocker struct {
	client   redisClient
	TTL      time.Duration
	Poll     time.Duration
	NewToken func() string
}

func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, TTL: ttl, Poll: 100 * time.Millisecond, NewToken: uuid.NewString}
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := r.NewToken()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := r.client.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errLockBusy
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.Poll)),
		backoff.WithMaxElapsedTime(r.TTL),
	)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, apperr.Wrap(apperr.CodeCancelled, ctx.Err(), "waiting for lock %s", key)
	case errors.Is(err, errLockBusy):
		return nil, apperr.Wrap(apperr.CodeExternalTimeout, err, "lock %s", key)
	default:
		return nil, apperr.Wrap(apperr.CodeExternalUnavailable, err, "lock %s", key)
	}

	stop, done := make(chan struct{}), make(chan struct{})
	go r.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// release even when the caller's context is already done
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.client.Eval(relCtx, releaseScript, []string{key}, token).Err()
		})
	}, nil
}

// renew extends the lock until stop closes. It gives up once the key holds
// another token; episode saves are fenced in the store, so a run that lost
// its lock cannot deliver.
func (r *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := r.TTL / 3
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := r.client.Eval(ctx, renewScript, []string{key}, token, r.TTL.Milliseconds()).Int64()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}
