package adapter

import (
	"context"
	"fmt"
	"log/slog"

	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
	"github.com/mirkobrombin/go-groundhog/v1/procache"
)

// StoreCompute returns a compute function that reads key from store. On a
// miss it calls fallback, writes the result back to the store and returns
// it, so an expensive lookup is paid once across sessions. With a nil
// fallback a miss yields errors.ErrKeyNotFound.
func StoreCompute[T any](store Store[T], key string, fallback procache.ComputeFunc[T]) procache.ComputeFunc[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		v, ok, err := store.Get(ctx, key)
		if err != nil {
			return zero, fmt.Errorf("load %q: %w", key, err)
		}
		if ok {
			return v, nil
		}
		if fallback == nil {
			return zero, fmt.Errorf("%w: %q not in store", ghErrors.ErrKeyNotFound, key)
		}
		v, err = fallback(ctx)
		if err != nil {
			return zero, err
		}
		if err := store.Set(ctx, key, v); err != nil {
			// the value is still good for this session
			slog.Warn("groundhog: persisting computed value failed", "key", key, "error", err)
		}
		return v, nil
	}
}

// Snapshotter exposes the entries of a cache. *procache.ProcessCache
// satisfies it.
type Snapshotter[T any] interface {
	Entry(key string) (procache.CacheEntry[T], bool)
}

// Persist writes the populated values of keys from cache to store. Keys that
// are missing or unpopulated are skipped. Stores implementing Batcher get a
// single batch. It returns the number of keys written.
func Persist[T any](ctx context.Context, cache Snapshotter[T], store Store[T], keys ...string) (int, error) {
	vals := make(map[string]T, len(keys))
	for _, k := range keys {
		e, ok := cache.Entry(k)
		if !ok || !e.Populated {
			continue
		}
		vals[k] = e.Value
	}
	if len(vals) == 0 {
		return 0, nil
	}

	if batcher, ok := store.(Batcher[T]); ok {
		b, err := batcher.Batch(ctx)
		if err != nil {
			return 0, err
		}
		for k, v := range vals {
			if err := b.Set(ctx, k, v); err != nil {
				return 0, err
			}
		}
		if err := b.Commit(ctx); err != nil {
			return 0, err
		}
		return len(vals), nil
	}

	n := 0
	for k, v := range vals {
		if err := store.Set(ctx, k, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
