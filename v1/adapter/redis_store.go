package adapter

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisStore implements Store using a Redis backend.
type RedisStore[T any] struct {
	client  *redis.Client
	timeout time.Duration
	prefix  string
	codec   Codec
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
	prefix  string
	codec   Codec
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithPrefix namespaces every key, so several caches can share a database.
func WithPrefix(p string) RedisOption {
	return func(o *redisStoreOptions) {
		o.prefix = p
	}
}

// WithCodec replaces the default JSONCodec.
func WithCodec(c Codec) RedisOption {
	return func(o *redisStoreOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore[T any](client *redis.Client, opts ...RedisOption) *RedisStore[T] {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[T]{client: client, timeout: o.timeout, prefix: o.prefix, codec: o.codec}
}

func mapRedisErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return ghErrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return ghErrors.ErrConnectionClosed
	default:
		return err
	}
}

// Get implements Store.Get.
func (s *RedisStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapRedisErr(err)
	}
	var v T
	if err := s.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Store.Set. Values are stored without expiry.
func (s *RedisStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(cctx, s.prefix+key, data, 0).Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *RedisStore[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, s.prefix+key).Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// Keys implements Store.Keys using SCAN over the store prefix. The prefix is
// stripped from the returned keys.
func (s *RedisStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(cctx, cursor, globEscape(s.prefix)+"*", 100).Result()
		if err != nil {
			return nil, mapRedisErr(err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

// globEscape quotes the characters SCAN MATCH treats as pattern syntax.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Batch implements Batcher.Batch using a Redis transaction pipeline.
// Operations apply in the order they were queued.
func (s *RedisStore[T]) Batch(ctx context.Context) (Batch[T], error) {
	return &redisBatch[T]{s: s}, nil
}

type redisBatch[T any] struct {
	s   *RedisStore[T]
	ops []batchOp[T]
}

func (b *redisBatch[T]) Set(ctx context.Context, key string, value T) error {
	b.ops = append(b.ops, batchOp[T]{key: key, value: value})
	return nil
}

func (b *redisBatch[T]) Delete(ctx context.Context, key string) error {
	b.ops = append(b.ops, batchOp[T]{key: key, delete: true})
	return nil
}

func (b *redisBatch[T]) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	if len(b.ops) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, b.s.timeout)
	defer cancel()
	pipe := b.s.client.TxPipeline()
	for _, op := range b.ops {
		if op.delete {
			pipe.Del(cctx, b.s.prefix+op.key)
			continue
		}
		data, err := b.s.codec.Marshal(op.value)
		if err != nil {
			return err
		}
		pipe.Set(cctx, b.s.prefix+op.key, data, 0)
	}
	if _, err := pipe.Exec(cctx); err != nil {
		return mapRedisErr(err)
	}
	return nil
}
