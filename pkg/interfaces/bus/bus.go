package bus

import "context"

// Handler receives messages published to a subscribed channel. Handlers are
// invoked in publish order for a given channel and subscription.
type Handler func(ctx context.Context, channel string, payload []byte)

// Subscription is the handle returned by Subscribe. Unsubscribe is idempotent.
type Subscription interface {
	Channel() string
	Unsubscribe() error
}

// Bus is the publish/subscribe contract shared by the broker-backed and the
// in-process implementations. Semantics are fire-and-forget: a publish with
// zero current subscribers delivers to nobody and is never queued for later.
// Messages published to one channel from a single process arrive at each
// subscriber in publish order; there is no cross-channel ordering.
type Bus interface {
	// Publish hands the payload to the bus and reports how many subscribers
	// it was delivered to. "Published" never means "delivered".
	Publish(ctx context.Context, channel string, payload []byte) (int, error)
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	Close() error
}

// Nop bus drops publishes and registers nothing.
type Nop struct{}

var _ Bus = (*Nop)(nil)

func (n *Nop) Publish(ctx context.Context, channel string, payload []byte) (int, error) {
	return 0, nil
}

func (n *Nop) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	return nopSubscription{channel: channel}, nil
}

func (n *Nop) Close() error { return nil }

type nopSubscription struct {
	channel string
}

func (s nopSubscription) Channel() string    { return s.channel }
func (s nopSubscription) Unsubscribe() error { return nil }
