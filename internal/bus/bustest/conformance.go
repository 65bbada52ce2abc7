// Package bustest holds the conformance suite every bus implementation must
// pass. The broker-backed bus and the in-process bus run the exact same
// assertions so they cannot drift behaviorally.
package bustest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	pubsub "github.com/goliatone/go-proofcast/pkg/interfaces/bus"
)

// Factory builds a fresh bus for a test case. The returned cleanup runs when
// the case finishes.
type Factory func(t *testing.T) (pubsub.Bus, func())

const waitTimeout = 2 * time.Second

// Run exercises the shared bus contract against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("DeliversToSubscriber", func(t *testing.T) { testDeliversToSubscriber(t, factory) })
	t.Run("ChannelIsolation", func(t *testing.T) { testChannelIsolation(t, factory) })
	t.Run("PublishOrder", func(t *testing.T) { testPublishOrder(t, factory) })
	t.Run("NoReplayForLateSubscribers", func(t *testing.T) { testNoReplay(t, factory) })
	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) { testUnsubscribe(t, factory) })
	t.Run("MultipleSubscribersEachReceive", func(t *testing.T) { testMultipleSubscribers(t, factory) })
}

// testChannel returns a unique channel name so suite runs never interfere,
// even against a shared broker.
func testChannel(prefix string) string {
	return fmt.Sprintf("bustest:%s:%s", prefix, uuid.NewString())
}

type recorder struct {
	mu       sync.Mutex
	payloads []string
	signal   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 64)}
}

func (r *recorder) handler(ctx context.Context, channel string, payload []byte) {
	r.mu.Lock()
	r.payloads = append(r.payloads, string(payload))
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func (r *recorder) waitFor(t *testing.T, count int) []string {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		if got := r.snapshot(); len(got) >= count {
			return got
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, have %v", count, r.snapshot())
		}
	}
}

func testDeliversToSubscriber(t *testing.T, factory Factory) {
	b, cleanup := factory(t)
	defer cleanup()
	ctx := context.Background()
	channel := testChannel("deliver")

	rec := newRecorder()
	sub, err := b.Subscribe(ctx, channel, rec.handler)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if sub.Channel() != channel {
		t.Fatalf("subscription channel mismatch: %s", sub.Channel())
	}

	delivered, err := b.Publish(ctx, channel, []byte(`{"id":"n1"}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if delivered < 1 {
		t.Fatalf("expected at least one delivery, got %d", delivered)
	}

	got := rec.waitFor(t, 1)
	if got[0] != `{"id":"n1"}` {
		t.Fatalf("unexpected payload: %s", got[0])
	}
}

func testChannelIsolation(t *testing.T, factory Factory) {
	b, cleanup := factory(t)
	defer cleanup()
	ctx := context.Background()
	channelA := testChannel("isolation-a")
	channelB := testChannel("isolation-b")

	recA := newRecorder()
	recB := newRecorder()
	subA, err := b.Subscribe(ctx, channelA, recA.handler)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer subA.Unsubscribe()
	subB, err := b.Subscribe(ctx, channelB, recB.handler)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer subB.Unsubscribe()

	if _, err := b.Publish(ctx, channelA, []byte("for-a")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	recA.waitFor(t, 1)
	// Give a leaked cross-channel delivery time to show up before asserting.
	time.Sleep(50 * time.Millisecond)
	if got := recB.snapshot(); len(got) != 0 {
		t.Fatalf("channel b observed channel a traffic: %v", got)
	}
}

func testPublishOrder(t *testing.T, factory Factory) {
	b, cleanup := factory(t)
	defer cleanup()
	ctx := context.Background()
	channel := testChannel("order")

	rec := newRecorder()
	sub, err := b.Subscribe(ctx, channel, rec.handler)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, channel, []byte(fmt.Sprintf("msg-%02d", i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	got := rec.waitFor(t, n)
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("msg-%02d", i)
		if got[i] != want {
			t.Fatalf("out of order at %d: got %s want %s (full: %v)", i, got[i], want, got)
		}
	}
}

func testNoReplay(t *testing.T, factory Factory) {
	b, cleanup := factory(t)
	defer cleanup()
	ctx := context.Background()
	channel := testChannel("noreplay")

	delivered, err := b.Publish(ctx, channel, []byte("before-anyone"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("expected zero deliveries with no subscribers, got %d", delivered)
	}

	rec := newRecorder()
	sub, err := b.Subscribe(ctx, channel, rec.handler)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("late subscriber replayed earlier publish: %v", got)
	}
}

func testUnsubscribe(t *testing.T, factory Factory) {
	b, cleanup := factory(t)
	defer cleanup()
	ctx := context.Background()
	channel := testChannel("unsub")

	rec := newRecorder()
	sub, err := b.Subscribe(ctx, channel, rec.handler)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := b.Publish(ctx, channel, []byte("first")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	rec.waitFor(t, 1)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Unsubscribe is idempotent.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}

	delivered, err := b.Publish(ctx, channel, []byte("second"))
	if err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("expected zero deliveries after unsubscribe, got %d", delivered)
	}

	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("subscriber received messages after unsubscribe: %v", got)
	}
}

func testMultipleSubscribers(t *testing.T, factory Factory) {
	b, cleanup := factory(t)
	defer cleanup()
	ctx := context.Background()
	channel := testChannel("multi")

	recA := newRecorder()
	recB := newRecorder()
	subA, err := b.Subscribe(ctx, channel, recA.handler)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer subA.Unsubscribe()
	subB, err := b.Subscribe(ctx, channel, recB.handler)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer subB.Unsubscribe()

	delivered, err := b.Publish(ctx, channel, []byte("shared"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if delivered < 1 {
		t.Fatalf("expected delivery, got %d", delivered)
	}

	if got := recA.waitFor(t, 1); got[0] != "shared" {
		t.Fatalf("subscriber a payload: %v", got)
	}
	if got := recB.waitFor(t, 1); got[0] != "shared" {
		t.Fatalf("subscriber b payload: %v", got)
	}
}
