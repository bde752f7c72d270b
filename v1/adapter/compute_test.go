package adapter_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mirkobrombin/go-groundhog/v1/adapter"
	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
	"github.com/mirkobrombin/go-groundhog/v1/procache"
)

func TestStoreComputeAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewInMemoryStore[string]()
	var lookups atomic.Int32
	lookup := func(context.Context) (string, error) {
		lookups.Add(1)
		return "org-42", nil
	}
	seed := procache.Seed[string]{Compute: map[string]procache.ComputeFunc[string]{
		"org_id": adapter.StoreCompute[string](store, "org_id", lookup),
	}}

	// first session pays for the lookup and persists the result
	first := procache.New(seed)
	if v, err := first.Get(ctx, "org_id"); err != nil || v != "org-42" {
		t.Fatalf("expected org-42, got %q err %v", v, err)
	}

	// a fresh process finds it in the store
	second := procache.New(seed)
	if v, err := second.Get(ctx, "org_id"); err != nil || v != "org-42" {
		t.Fatalf("expected org-42, got %q err %v", v, err)
	}
	if n := lookups.Load(); n != 1 {
		t.Fatalf("expected a single remote lookup, got %d", n)
	}
}

func TestStoreComputeMissWithoutFallback(t *testing.T) {
	store := adapter.NewInMemoryStore[int]()
	fn := adapter.StoreCompute[int](store, "n", nil)
	if _, err := fn(context.Background()); !errors.Is(err, ghErrors.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestStoreComputeFallbackError(t *testing.T) {
	store := adapter.NewInMemoryStore[int]()
	boom := errors.New("boom")
	fn := adapter.StoreCompute[int](store, "n", func(context.Context) (int, error) { return 0, boom })
	if _, err := fn(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), "n"); ok {
		t.Fatal("failed fallback must not be persisted")
	}
}

// plainStore hides the Batcher implementation of the wrapped store.
type plainStore[T any] struct {
	adapter.Store[T]
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	c := procache.New(procache.Seed[int]{
		Values:  map[string]int{"a": 1},
		Compute: map[string]procache.ComputeFunc[int]{"lazy": func(context.Context) (int, error) { return 9, nil }},
	})
	c.Set(ctx, "b", 2)

	for name, store := range map[string]adapter.Store[int]{
		"batch": adapter.NewInMemoryStore[int](),
		"plain": plainStore[int]{adapter.NewInMemoryStore[int]()},
	} {
		t.Run(name, func(t *testing.T) {
			n, err := adapter.Persist[int](ctx, c, store, "a", "b", "lazy", "missing")
			if err != nil {
				t.Fatalf("Persist: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected 2 keys written, got %d", n)
			}
			if v, ok, _ := store.Get(ctx, "b"); !ok || v != 2 {
				t.Fatalf("expected b=2, got %v ok=%v", v, ok)
			}
			if _, ok, _ := store.Get(ctx, "lazy"); ok {
				t.Fatal("unpopulated entries must not be persisted")
			}
		})
	}
}
