package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func newNATSBus(t *testing.T) *NATSBus {
	t.Helper()
	addr := os.Getenv("GROUNDHOG_TEST_NATS_ADDR")

	var conn *nats.Conn
	var s *server.Server
	var err error

	if addr != "" {
		t.Logf("NATSBus: using real NATS at %s", addr)
		conn, err = nats.Connect(addr)
	} else {
		s = natsserver.RunRandClientPortServer()
		conn, err = nats.Connect(s.ClientURL())
	}
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return NewNATSBus(conn)
}

func TestNATSBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus := newNATSBus(t)
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "groundhog.reload")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "groundhog.reload", WithOrigin("n1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case evt := <-ch:
		if evt.Origin != "n1" || evt.Topic != "groundhog.reload" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}
	metrics := bus.Metrics()
	if metrics.Published != 1 {
		t.Fatalf("expected published 1 got %d", metrics.Published)
	}
	if metrics.Delivered != 1 {
		t.Fatalf("expected delivered 1 got %d", metrics.Delivered)
	}
}

func TestNATSBusContextBasedUnsubscribe(t *testing.T) {
	bus := newNATSBus(t)
	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(subCtx, "groundhog.reload")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unsubscribe")
	}
	bus.mu.Lock()
	_, still := bus.subs["groundhog.reload"]
	bus.mu.Unlock()
	if still {
		t.Fatal("expected subscription removed")
	}
}

func TestNATSBusSkipsPublishAlreadyInFlight(t *testing.T) {
	bus := newNATSBus(t)
	ctx := context.Background()

	bus.mu.Lock()
	bus.pending[pendingKey("groundhog.reload", "n1")] = struct{}{}
	bus.mu.Unlock()
	if err := bus.Publish(ctx, "groundhog.reload", WithOrigin("n1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if p := bus.Metrics().Published; p != 0 {
		t.Fatalf("expected in-flight publish to absorb the call, published %d", p)
	}

	bus.mu.Lock()
	delete(bus.pending, pendingKey("groundhog.reload", "n1"))
	bus.mu.Unlock()
	if err := bus.Publish(ctx, "groundhog.reload", WithOrigin("n1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if p := bus.Metrics().Published; p != 1 {
		t.Fatalf("expected published 1 got %d", p)
	}
}
