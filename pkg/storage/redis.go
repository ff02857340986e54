package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps github.com/redis/go-redis/v9 to implement Adapter and
// PubSub. Grounded on
// Generativebots-ocx-backend-go-svc/internal/infra/redis_adapter.go's
// GoRedisAdapter, generalized with TTL-aware Set options, GETEX, and
// the counter/scan operations the KV contract needs beyond that
// adapter's event-bus use case.
type Redis struct {
	rdb *redis.Client
}

// RedisOptions configures the connection. Mirrors the fields the
// grounding adapter sets explicitly rather than leaving them at
// go-redis defaults.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewRedis connects to addr and pings it to verify connectivity before
// returning, exactly as the grounding adapter does.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 3 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 20
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: redis ping failed (%s): %v", ErrConnection, opts.Addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	var cmd *redis.BoolCmd
	switch {
	case opts.IfNotExists:
		cmd = r.rdb.SetNX(ctx, key, value, opts.TTL)
	case opts.IfExists:
		cmd = r.rdb.SetXX(ctx, key, value, opts.TTL)
	default:
		if err := r.rdb.Set(ctx, key, value, opts.TTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
		return nil
	}
	ok, err := cmd.Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if !ok {
		return ErrConditionFailed
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return n > 0, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return n > 0, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return ok, nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := r.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if d == -2*time.Second {
		return 0, false, nil
	}
	if d == -1*time.Second {
		return 0, true, nil
	}
	return d, true, nil
}

func (r *Redis) IncrBy(ctx context.Context, key string, amount int64) (int64, error) {
	n, err := r.rdb.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return n, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) { return r.IncrBy(ctx, key, 1) }
func (r *Redis) Decr(ctx context.Context, key string) (int64, error) { return r.IncrBy(ctx, key, -1) }

func (r *Redis) MGet(ctx context.Context, keys []string) ([]Value, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	out := make([]Value, len(keys))
	for i, k := range keys {
		if res[i] == nil {
			out[i] = Value{Key: k}
			continue
		}
		s, ok := res[i].(string)
		if !ok {
			continue
		}
		out[i] = Value{Key: k, Value: []byte(s), OK: true}
	}
	return out, nil
}

func (r *Redis) MDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return int(n), nil
}

func (r *Redis) Scan(ctx context.Context, pattern string) (func() (string, bool), error) {
	if pattern == "" {
		pattern = "*"
	}
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	return func() (string, bool) {
		if !iter.Next(ctx) {
			return "", false
		}
		return iter.Val(), true
	}, nil
}

// GetAndExtend uses native Redis GETEX, a single-round-trip
// get+refresh-ttl primitive — the grounding adapter doesn't need this
// (it has no notion of sliding expiry), but the teacher's session
// manager reasoning ("extend on read") generalizes directly onto it.
func (r *Redis) GetAndExtend(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	var cmd *redis.StringCmd
	if ttl > 0 {
		cmd = r.rdb.GetEx(ctx, key, ttl)
	} else {
		cmd = r.rdb.GetEx(ctx, key, redis.KeepTTL)
	}
	val, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return val, true, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Publish(ctx context.Context, channel string, msg []byte) (int, error) {
	n, err := r.rdb.Publish(ctx, channel, msg).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return int(n), nil
}

// Subscribe registers handler for messages on channel, dispatching
// them from a background goroutine, exactly as the grounding adapter's
// Subscribe does: wait for subscription confirmation, then range over
// the channel until Close/unsubscribe.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := r.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("%w: subscribe to %s: %v", ErrConnection, channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}

var (
	_ Adapter = (*Redis)(nil)
	_ PubSub  = (*Redis)(nil)
)
