package procache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mirkobrombin/go-groundhog/v1/syncbus"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReloaderPropagatesAcrossCaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := syncbus.NewInMemoryBus()

	c1 := New(Seed[int]{Values: map[string]int{"n": 1}})
	c2 := New(Seed[int]{Values: map[string]int{"n": 1}})
	r1 := NewReloader(c1, bus)
	r2 := NewReloader(c2, bus)
	if err := r1.Start(ctx); err != nil {
		t.Fatalf("start r1: %v", err)
	}
	defer r1.Stop()
	if err := r2.Start(ctx); err != nil {
		t.Fatalf("start r2: %v", err)
	}
	defer r2.Stop()

	c1.Set(ctx, "n", 10)
	c2.Set(ctx, "n", 20)

	if err := r1.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v, _ := c1.Get(ctx, "n"); v != 1 {
		t.Fatalf("expected local reset, got %d", v)
	}
	waitFor(t, func() bool {
		v, _ := c2.Get(ctx, "n")
		return v == 1
	})
	if r2.Received() != 1 {
		t.Fatalf("expected r2 to receive 1 reload, got %d", r2.Received())
	}

	// the publisher skips its own event
	time.Sleep(20 * time.Millisecond)
	if m := c1.Metrics(); m.Resets != 1 {
		t.Fatalf("expected one local reset, got %d", m.Resets)
	}
	if r1.Received() != 0 {
		t.Fatalf("expected r1 to ignore its own event, got %d", r1.Received())
	}
}

func TestReloaderStartTwice(t *testing.T) {
	r := NewReloader(New(Seed[int]{}), syncbus.NewInMemoryBus(), WithTopic("custom"))
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()
	if err := r.Start(ctx); !errors.Is(err, ErrReloaderRunning) {
		t.Fatalf("expected ErrReloaderRunning, got %v", err)
	}
}

func TestReloaderStopIsIdempotent(t *testing.T) {
	r := NewReloader(New(Seed[int]{}), syncbus.NewInMemoryBus())
	r.Stop()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Stop()
	r.Stop()
}

type failingBus struct {
	*syncbus.InMemoryBus
}

func (failingBus) Publish(context.Context, string, ...syncbus.PublishOption) error {
	return errors.New("bus down")
}

func TestReloaderResetsLocallyWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	c := New(Seed[int]{Values: map[string]int{"n": 1}})
	r := NewReloader(c, failingBus{syncbus.NewInMemoryBus()})
	c.Set(ctx, "n", 2)
	if err := r.Reload(ctx); err == nil {
		t.Fatal("expected publish error")
	}
	if v, _ := c.Get(ctx, "n"); v != 1 {
		t.Fatalf("expected local reset despite publish error, got %d", v)
	}
}

func TestReloaderRestartsAfterContextCanceled(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	c := New(Seed[int]{Values: map[string]int{"n": 1}})
	r := NewReloader(c, bus)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	var err error
	waitFor(t, func() bool {
		err = r.Start(context.Background())
		return !errors.Is(err, ErrReloaderRunning)
	})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer r.Stop()

	c.Set(context.Background(), "n", 7)
	if err := bus.Publish(context.Background(), DefaultReloadTopic, syncbus.WithOrigin("peer")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool {
		v, _ := c.Get(context.Background(), "n")
		return v == 1
	})
}
