// Package registry tracks which live connections belong to which channel and
// holds the bus subscription for a channel only while at least one local
// connection needs it.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	pubsub "github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

const shardCount = 32

// Conn is the registry's view of a streaming connection. Deliver hands the
// payload to the connection's bounded outbound buffer and must never block;
// it reports false when the buffer is full, in which case the connection is
// expected to close itself.
type Conn interface {
	ID() string
	Channel() string
	Deliver(payload []byte) bool
}

// Registry maps channels to local connections with refcounted bus
// subscriptions: the first connection on a channel triggers the bus
// subscribe, removing the last one releases it.
type Registry struct {
	bus    pubsub.Bus
	logger logger.Logger
	shards [shardCount]shard
}

type shard struct {
	mu       sync.RWMutex
	channels map[string]*entry
}

type entry struct {
	conns map[string]Conn

	subOnce sync.Once
	ready   chan struct{}
	sub     pubsub.Subscription
	subErr  error
}

// Option configures the registry.
type Option func(*Registry)

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New constructs a registry over the given bus.
func New(b pubsub.Bus, opts ...Option) (*Registry, error) {
	if b == nil {
		return nil, fmt.Errorf("registry: bus is required")
	}
	r := &Registry{
		bus:    b,
		logger: &logger.Nop{},
	}
	for i := range r.shards {
		r.shards[i].channels = make(map[string]*entry)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Add registers the connection under its channel. The first connection for a
// channel establishes the bus subscription; Add returns only after that
// subscription is live, so events published afterwards will fan out.
func (r *Registry) Add(ctx context.Context, conn Conn) error {
	if conn == nil {
		return fmt.Errorf("registry: conn is required")
	}
	channel := conn.Channel()
	sh := r.shard(channel)

	sh.mu.Lock()
	e, ok := sh.channels[channel]
	if !ok {
		e = &entry{
			conns: make(map[string]Conn),
			ready: make(chan struct{}),
		}
		sh.channels[channel] = e
	}
	e.conns[conn.ID()] = conn
	sh.mu.Unlock()

	e.subOnce.Do(func() {
		e.sub, e.subErr = r.bus.Subscribe(ctx, channel, r.fanout)
		close(e.ready)
	})

	select {
	case <-e.ready:
	case <-ctx.Done():
		r.Remove(conn)
		return ctx.Err()
	}
	if e.subErr != nil {
		r.Remove(conn)
		return fmt.Errorf("registry: subscribe %s: %w", channel, e.subErr)
	}
	return nil
}

// Remove drops the connection; when it was the channel's last, the bus
// subscription is released.
func (r *Registry) Remove(conn Conn) {
	if conn == nil {
		return
	}
	channel := conn.Channel()
	sh := r.shard(channel)

	sh.mu.Lock()
	e, ok := sh.channels[channel]
	if !ok {
		sh.mu.Unlock()
		return
	}
	delete(e.conns, conn.ID())
	var sub pubsub.Subscription
	if len(e.conns) == 0 {
		sub = e.sub
		delete(sh.channels, channel)
	}
	sh.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("registry: release subscription failed",
				logger.F("channel", channel), logger.F("error", err))
		}
	}
}

// fanout is the bus handler: it snapshots the channel's connections under a
// read lock, then delivers with no lock held so one connection's write path
// never blocks another's.
func (r *Registry) fanout(ctx context.Context, channel string, payload []byte) {
	sh := r.shard(channel)

	sh.mu.RLock()
	e, ok := sh.channels[channel]
	if !ok {
		sh.mu.RUnlock()
		return
	}
	targets := make([]Conn, 0, len(e.conns))
	for _, conn := range e.conns {
		targets = append(targets, conn)
	}
	sh.mu.RUnlock()

	for _, conn := range targets {
		if !conn.Deliver(payload) {
			r.logger.Warn("registry: connection buffer overflow",
				logger.F("channel", channel), logger.F("conn_id", conn.ID()))
		}
	}
}

// Count reports the live connections for a channel.
func (r *Registry) Count(channel string) int {
	sh := r.shard(channel)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if e, ok := sh.channels[channel]; ok {
		return len(e.conns)
	}
	return 0
}

// TotalConnections reports the live connections across all channels.
func (r *Registry) TotalConnections() int {
	total := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, e := range sh.channels {
			total += len(e.conns)
		}
		sh.mu.RUnlock()
	}
	return total
}

func (r *Registry) shard(channel string) *shard {
	h := fnv.New32a()
	h.Write([]byte(channel))
	return &r.shards[h.Sum32()%shardCount]
}
