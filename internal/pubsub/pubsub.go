// Package pubsub is an in-process publish/subscribe bus with named topics.
//
// Delivery is at-most-once: a subscriber whose buffer is full when an event is
// published loses that event. Nothing is kept for subscribers that arrive later.
package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("pubsub: bus closed")

// DefaultBufferSize is the number of undelivered events a subscriber may hold.
const DefaultBufferSize = 64

type subscriber struct {
	ch   chan any
	done chan struct{} // closed when the subscription ends
}

// Bus fans out published values to the current subscribers of a topic.
// Create one per process with New and Close it on shutdown.
type Bus struct {
	logger  logr.Logger
	bufSize int

	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	closed bool
}

// New returns an open bus. bufSize <= 0 uses DefaultBufferSize.
func New(logger logr.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		logger:  logger.WithName("pubsub"),
		bufSize: bufSize,
		topics:  make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers for topic. The returned channel receives every value
// published from now on, and is closed when ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan any, error) {
	sub := &subscriber{ch: make(chan any, b.bufSize), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[*subscriber]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	n := len(subs)
	b.mu.Unlock()

	b.logger.V(1).Info("subscribed", "topic", topic, "subscribers", n)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(topic, sub)
		case <-sub.done:
		}
	}()
	return sub.ch, nil
}

func (b *Bus) unsubscribe(topic string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	if _, ok := subs[sub]; !ok {
		return // already removed by Close
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
	close(sub.done)
	close(sub.ch)
	b.logger.V(1).Info("unsubscribed", "topic", topic, "subscribers", len(subs))
}

// Publish sends v to every current subscriber of topic without blocking and
// returns how many received it.
func (b *Bus) Publish(topic string, v any) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var delivered, dropped int
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- v:
			delivered++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Info("dropped event for slow subscribers", "topic", topic, "dropped", dropped)
	}
	b.logger.V(1).Info("published", "topic", topic, "delivered", delivered)
	return delivered
}

// Subscribers returns the number of current subscribers of topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription. Publish after Close delivers nothing.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			close(sub.done)
			close(sub.ch)
		}
	}
	b.topics = make(map[string]map[*subscriber]struct{})
	return nil
}

// Shutdown closes the bus; it lets the DI container end it with the process.
func (b *Bus) Shutdown() error {
	return b.Close()
}
