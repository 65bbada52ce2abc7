// Package redisbus implements the bus contract on top of Redis pub/sub.
//
// One pooled client serves the whole process. All tenant channels are
// multiplexed as logical subscriptions over a single PubSub connection, so
// opening a streaming connection never opens a new broker connection.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

const (
	defaultQueueSize        = 256
	defaultSubscribeTimeout = 5 * time.Second
)

// Config holds broker connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Bus is a Redis-backed publish/subscribe implementation.
type Bus struct {
	client    redis.UniversalClient
	ownClient bool
	pubsub    *redis.PubSub

	mu       sync.Mutex
	subs     map[string]map[uint64]*subscription
	awaiting map[string][]chan struct{}
	nextID   uint64
	closed   bool

	queueSize        int
	subscribeTimeout time.Duration
	logger           logger.Logger
	done             chan struct{}
}

// Option configures the bus.
type Option func(*Bus)

// WithClient injects an existing client; the bus will not close it.
func WithClient(client redis.UniversalClient) Option {
	return func(b *Bus) {
		if client != nil {
			b.client = client
			b.ownClient = false
		}
	}
}

// WithQueueSize overrides the per-subscriber queue depth.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithSubscribeTimeout bounds how long Subscribe waits for broker
// confirmation.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.subscribeTimeout = d
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

var ErrClosed = errors.New("redis bus: closed")

// New connects to the broker and starts the shared receive loop.
func New(cfg Config, opts ...Option) (*Bus, error) {
	b := &Bus{
		ownClient:        true,
		subs:             make(map[string]map[uint64]*subscription),
		awaiting:         make(map[string][]chan struct{}),
		queueSize:        defaultQueueSize,
		subscribeTimeout: defaultSubscribeTimeout,
		logger:           &logger.Nop{},
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redis bus: addr is required")
		}
		b.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	// Subscribe with no channels yields a connection we attach logical
	// subscriptions to later.
	b.pubsub = b.client.Subscribe(context.Background())
	go b.receiveLoop()
	return b, nil
}

// Publish sends the payload to the channel. The return value is the broker's
// receiver count: zero when nobody is subscribed anywhere. With subscriptions
// multiplexed per process, the count reflects processes, not local handlers.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) (int, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}
	n, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis bus: publish %s: %w", channel, err)
	}
	return int(n), nil
}

// Subscribe attaches a handler to the channel, issuing the broker SUBSCRIBE
// only for the first local handler. It returns once the broker confirms the
// subscription, so a following publish is guaranteed to be observable.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.Handler) (bus.Subscription, error) {
	if handler == nil {
		return nil, errors.New("redis bus: handler is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
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
		stopped: make(chan struct{}),
	}

	first := b.subs[channel] == nil
	if first {
		b.subs[channel] = make(map[uint64]*subscription)
	}
	b.subs[channel][id] = sub

	var confirmed chan struct{}
	if first {
		confirmed = make(chan struct{})
		b.awaiting[channel] = append(b.awaiting[channel], confirmed)
	}
	b.mu.Unlock()

	go sub.run()

	if first {
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			sub.remove()
			return nil, fmt.Errorf("redis bus: subscribe %s: %w", channel, err)
		}
		select {
		case <-confirmed:
		case <-ctx.Done():
			sub.remove()
			return nil, ctx.Err()
		case <-time.After(b.subscribeTimeout):
			sub.remove()
			return nil, fmt.Errorf("redis bus: subscribe %s: confirmation timeout", channel)
		}
	}
	return sub, nil
}

// Close tears down the pubsub connection and, when owned, the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0)
	for _, channelSubs := range b.subs {
		for _, sub := range channelSubs {
			subs = append(subs, sub)
		}
	}
	b.subs = make(map[string]map[uint64]*subscription)
	b.mu.Unlock()

	close(b.done)
	for _, sub := range subs {
		sub.stop()
	}

	err := b.pubsub.Close()
	if b.ownClient {
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Ping verifies broker reachability; surfaced through the process health
// check.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// receiveLoop is the single reader of the shared pubsub connection. It keys
// dispatch strictly by the message's channel name.
func (b *Bus) receiveLoop() {
	ctx := context.Background()
	for {
		msg, err := b.pubsub.Receive(ctx)
		if err != nil {
			select {
			case <-b.done:
				return
			default:
			}
			b.logger.Warn("redis bus: receive failed", logger.F("error", err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				b.confirm(m.Channel)
			}
		case *redis.Message:
			b.dispatch(m.Channel, []byte(m.Payload))
		}
	}
}

func (b *Bus) confirm(channel string) {
	b.mu.Lock()
	waiters := b.awaiting[channel]
	delete(b.awaiting, channel)
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (b *Bus) dispatch(channel string, payload []byte) {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for _, sub := range b.subs[channel] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.enqueue(payload) {
			b.logger.Warn("redis bus: dropping message for slow subscriber",
				logger.F("channel", channel))
		}
	}
}

type subscription struct {
	bus     *Bus
	id      uint64
	channel string
	handler bus.Handler

	queue   chan []byte
	stopped chan struct{}
	once    sync.Once
}

func (s *subscription) Channel() string { return s.channel }

// Unsubscribe removes the handler; the broker UNSUBSCRIBE goes out only when
// the last local handler for the channel is gone.
func (s *subscription) Unsubscribe() error {
	last := s.remove()
	s.stop()
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), s.bus.subscribeTimeout)
		defer cancel()
		if err := s.bus.pubsub.Unsubscribe(ctx, s.channel); err != nil {
			return fmt.Errorf("redis bus: unsubscribe %s: %w", s.channel, err)
		}
	}
	return nil
}

// remove takes the subscription out of the registry and reports whether it
// was the channel's last one.
func (s *subscription) remove() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs, ok := s.bus.subs[s.channel]
	if !ok {
		return false
	}
	if _, ok := subs[s.id]; !ok {
		return false
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(s.bus.subs, s.channel)
		return true
	}
	return false
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *subscription) enqueue(payload []byte) bool {
	select {
	case <-s.stopped:
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
		case <-s.stopped:
			return
		case payload := <-s.queue:
			s.handler(ctx, s.channel, payload)
		}
	}
}
