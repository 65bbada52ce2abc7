package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-proofcast/internal/bus/memory"
	memorydir "github.com/goliatone/go-proofcast/internal/directory/memory"
	"github.com/goliatone/go-proofcast/internal/registry"
	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
)

func newTestStack(t *testing.T, cfg Config) (*Gateway, *memory.Bus) {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { b.Close() })

	reg, err := registry.New(b)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	dir := memorydir.New(
		directory.Site{ID: "s1", Domain: "one.example.com", Status: directory.StatusVerified},
		directory.Site{ID: "s2", Domain: "two.example.com", Status: directory.StatusVerified},
		directory.Site{ID: "sandbox-1", Status: directory.StatusPending, Sandbox: true},
		directory.Site{ID: "pending-1", Status: directory.StatusPending},
		directory.Site{ID: "disabled-1", Status: directory.StatusDisabled},
	)
	gw, err := New(Dependencies{Registry: reg, Directory: dir, Config: cfg})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw, b
}

func TestConnectLifecycle(t *testing.T) {
	gw, b := newTestStack(t, Config{})
	ctx := context.Background()

	conn, err := gw.Connect(ctx, "s1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if conn.State() != domain.StateOpen {
		t.Fatalf("expected open state, got %s", conn.State())
	}
	if conn.Channel() != domain.ChannelFor("s1") {
		t.Fatalf("unexpected channel %s", conn.Channel())
	}
	if got := b.SubscriberCount(conn.Channel()); got != 1 {
		t.Fatalf("expected bus subscription, got %d", got)
	}

	// The connected control frame is queued during the handshake.
	select {
	case frame := <-conn.send:
		if string(frame) == "" || conn.State() != domain.StateOpen {
			t.Fatal("empty connected frame")
		}
	default:
		t.Fatal("no connected frame queued")
	}

	gw.Release(conn)
	if conn.State() != domain.StateClosed {
		t.Fatalf("expected closed state, got %s", conn.State())
	}
	if got := b.SubscriberCount(conn.Channel()); got != 0 {
		t.Fatalf("bus subscription must be released, got %d", got)
	}
	if got := gw.ConnectionCount(); got != 0 {
		t.Fatalf("gateway still tracks %d connections", got)
	}
}

func TestConnectAuthorization(t *testing.T) {
	gw, b := newTestStack(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name       string
		identifier string
		wantErr    error
	}{
		{"unknown site", "missing", domain.ErrNotFound},
		{"pending site", "pending-1", domain.ErrForbidden},
		{"disabled site", "disabled-1", domain.ErrForbidden},
		{"empty identifier", "", domain.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := gw.Connect(ctx, tc.identifier); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// Rejected handshakes never subscribe to the bus.
	for _, siteID := range []string{"missing", "pending-1", "disabled-1"} {
		if got := b.SubscriberCount(domain.ChannelFor(siteID)); got != 0 {
			t.Fatalf("rejected handshake for %s left a bus subscription", siteID)
		}
	}
}

func TestSandboxConnectsThroughSamePath(t *testing.T) {
	gw, _ := newTestStack(t, Config{})
	conn, err := gw.Connect(context.Background(), "sandbox-1")
	if err != nil {
		t.Fatalf("sandbox connect: %v", err)
	}
	if !conn.Sandbox() {
		t.Fatal("expected sandbox flag on connection")
	}
	gw.Release(conn)
}

func TestDeliverOverflowClosesConnection(t *testing.T) {
	gw, b := newTestStack(t, Config{SendBuffer: 1})
	ctx := context.Background()

	conn, err := gw.Connect(ctx, "s1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer gw.Release(conn)

	// The connected frame already occupies the single buffer slot; the next
	// delivery overflows and must close this connection only.
	if ok := conn.Deliver([]byte(`{"id":"n1"}`)); ok {
		t.Fatal("expected overflow to report failure")
	}
	if conn.State() != domain.StateClosed {
		t.Fatalf("expected closed after overflow, got %s", conn.State())
	}
	_ = b
}

func TestShutdownStopsAcceptingAndClosesConnections(t *testing.T) {
	gw, _ := newTestStack(t, Config{ShutdownGrace: 50 * time.Millisecond})
	ctx := context.Background()

	conn, err := gw.Connect(ctx, "s1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := gw.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if conn.State() != domain.StateClosed {
		t.Fatalf("expected closed after shutdown, got %s", conn.State())
	}
	if _, err := gw.Connect(ctx, "s1"); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected shutting down error, got %v", err)
	}
}
