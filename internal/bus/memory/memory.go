// Package memory provides the in-process bus used for local runs and tests.
// Dispatch is keyed strictly by channel name so listeners never observe
// traffic from other tenants' channels.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

const defaultQueueSize = 256

// Bus is an in-memory publish/subscribe implementation of the bus contract.
// Each subscriber drains its own buffered queue on a dedicated goroutine, so
// a slow handler delays only its own subscription.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[uint64]*subscription
	nextID   uint64
	closed   bool

	queueSize int
	logger    logger.Logger
}

// Option configures the in-memory bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber queue depth.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

var _ bus.Bus = (*Bus)(nil)

// New constructs an in-memory bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		channels:  make(map[string]map[uint64]*subscription),
		queueSize: defaultQueueSize,
		logger:    &logger.Nop{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

var ErrClosed = errors.New("memory bus: closed")

// Publish enqueues the payload for every current subscriber of the channel
// and returns how many subscribers it reached. Zero subscribers is not an
// error; the message is dropped, never queued for later.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}

	delivered := 0
	for _, sub := range b.channels[channel] {
		if sub.enqueue(payload) {
			delivered++
		} else {
			b.logger.Warn("memory bus: dropping message for slow subscriber",
				logger.F("channel", channel))
		}
	}
	return delivered, nil
}

// Subscribe registers a handler for the channel. The handler observes
// messages in publish order until Unsubscribe.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.Handler) (bus.Subscription, error) {
	if handler == nil {
		return nil, errors.New("memory bus: handler is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	id := b.nextID
	b.nextID++
	sub := &subscription{
		bus:     b,
		id:      id,
		channel: channel,
		handler: handler,
		queue:   make(chan []byte, b.queueSize),
		done:    make(chan struct{}),
	}
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[uint64]*subscription)
	}
	b.channels[channel][id] = sub

	go sub.run()
	return sub, nil
}

// Close tears down every subscription. Subsequent publishes fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0)
	for _, channelSubs := range b.channels {
		for _, sub := range channelSubs {
			subs = append(subs, sub)
		}
	}
	b.channels = make(map[string]map[uint64]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// SubscriberCount reports the live subscriptions for a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

type subscription struct {
	bus     *Bus
	id      uint64
	channel string
	handler bus.Handler

	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	if subs, ok := s.bus.channels[s.channel]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.channels, s.channel)
		}
	}
	s.bus.mu.Unlock()

	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- payload:
		return true
	default:
		return false
	}
}

func (s *subscription) run() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			// Drain nothing further; pending messages are dropped with the
			// subscription, matching best-effort semantics.
			return
		case payload := <-s.queue:
			s.handler(ctx, s.channel, payload)
		}
	}
}
