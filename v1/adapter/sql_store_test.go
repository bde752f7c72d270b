package adapter_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/mirkobrombin/go-groundhog/v1/adapter"
	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
)

func newSQLStore[T any](t *testing.T, opts ...adapter.SQLOption) *adapter.SQLStore[T] {
	t.Helper()
	db, err := adapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := adapter.NewSQLStore[T](context.Background(), db, opts...)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	return s
}

func TestSQLStoreGetSetDeleteKeys(t *testing.T) {
	s := newSQLStore[[]string](t)
	ctx := context.Background()
	if _, ok, err := s.Get(ctx, "favorite"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "favorite", []string{"a", "b", "c"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "favorite", []string{"j", "f", "b"}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	_ = s.Set(ctx, "another", []string{"x"})
	v, ok, err := s.Get(ctx, "favorite")
	if err != nil || !ok || !slices.Equal(v, []string{"j", "f", "b"}) {
		t.Fatalf("expected [j f b], got %v ok=%v err=%v", v, ok, err)
	}
	keys, err := s.Keys(ctx)
	if err != nil || !slices.Equal(keys, []string{"another", "favorite"}) {
		t.Fatalf("unexpected keys %v err %v", keys, err)
	}
	if err := s.Delete(ctx, "favorite"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "favorite"); ok {
		t.Fatal("expected favorite deleted")
	}
}

func TestSQLStoreBatch(t *testing.T) {
	s := newSQLStore[int](t, adapter.WithSQLCodec(adapter.JSONCodec{}))
	ctx := context.Background()
	_ = s.Set(ctx, "old", 1)
	b, err := s.Batch(ctx)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	_ = b.Set(ctx, "a", 1)
	_ = b.Set(ctx, "b", 2)
	_ = b.Delete(ctx, "old")
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	keys, _ := s.Keys(ctx)
	if !slices.Equal(keys, []string{"a", "b"}) {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestSQLStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	ctx := context.Background()

	db, err := adapter.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := adapter.NewSQLStore[string](ctx, db)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	if err := s.Set(ctx, "remote_id", "r-9"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = db.Close()

	db, err = adapter.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	s, err = adapter.NewSQLStore[string](ctx, db)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	if v, ok, err := s.Get(ctx, "remote_id"); err != nil || !ok || v != "r-9" {
		t.Fatalf("expected r-9 after reopen, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestSQLStoreInvalidTableName(t *testing.T) {
	db, err := adapter.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := adapter.NewSQLStore[int](context.Background(), db, adapter.WithSQLTableName("kv; DROP")); err == nil {
		t.Fatal("expected error for invalid table name")
	}
}

func TestSQLStoreExpiredContext(t *testing.T) {
	s := newSQLStore[int](t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if err := s.Set(ctx, "n", 1); !errors.Is(err, ghErrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSQLStoreBatchOrder(t *testing.T) {
	checkBatchOrder(t, newSQLStore[string](t))
}
