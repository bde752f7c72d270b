package adapter

import (
	"context"
	"slices"
	"sync"
)

// Store abstracts storage that outlives the process, used to carry cached
// values across sessions.
//
// T represents the type of values stored in the adapter.
type Store[T any] interface {
	// Get retrieves the value for a key from the storage.
	// The boolean return indicates whether the key was found.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for a key into the storage.
	Set(ctx context.Context, key string, value T) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns the list of keys available in the store.
	Keys(ctx context.Context) ([]string, error)
}

// Batch allows grouping multiple operations before committing them to the
// underlying storage.
type Batch[T any] interface {
	Set(ctx context.Context, key string, value T) error
	Delete(ctx context.Context, key string) error
	Commit(ctx context.Context) error
}

// Batcher is implemented by stores that support batch operations.
type Batcher[T any] interface {
	Batch(ctx context.Context) (Batch[T], error)
}

// InMemoryStore is a simple Store implementation backed by a map. Its
// content lives as long as the value itself, which makes it a stand-in for
// persistent storage in tests and single-process setups.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T)}
}

// Get implements Store.Get.
func (s *InMemoryStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, false, err
	}
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok, nil
}

// Set implements Store.Set.
func (s *InMemoryStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Keys implements Store.Keys. Keys are returned sorted.
func (s *InMemoryStore[T]) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.Sort(keys)
	return keys, nil
}

// batchOp is a queued Set or Delete.
type batchOp[T any] struct {
	key    string
	value  T
	delete bool
}

// Batch implements Batcher.Batch. Operations apply in the order they were
// queued.
func (s *InMemoryStore[T]) Batch(ctx context.Context) (Batch[T], error) {
	return &inMemoryBatch[T]{s: s}, nil
}

type inMemoryBatch[T any] struct {
	s   *InMemoryStore[T]
	ops []batchOp[T]
}

func (b *inMemoryBatch[T]) Set(ctx context.Context, key string, value T) error {
	b.ops = append(b.ops, batchOp[T]{key: key, value: value})
	return nil
}

func (b *inMemoryBatch[T]) Delete(ctx context.Context, key string) error {
	b.ops = append(b.ops, batchOp[T]{key: key, delete: true})
	return nil
}

func (b *inMemoryBatch[T]) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.s.items, op.key)
			continue
		}
		b.s.items[op.key] = op.value
	}
	return nil
}
