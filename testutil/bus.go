// Package testutil provides an in-memory message bus so every package's unit
// tests run without a broker.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBus is a simple in-memory bus for testing. It matches the
// transport.Bus method set (request/reply, publish/subscribe, KV) and is
// thread-safe for concurrent use from multiple goroutines.
type MockBus struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]*mockSub
	handlers      map[string]func(context.Context, []byte) []byte
	kv            map[string]map[string][]byte
	publishErr    error
	closed        bool
	nextSubID     int
}

type mockSub struct {
	id      int
	handler func(context.Context, []byte)
}

// NewMockBus creates a new in-memory bus.
func NewMockBus() *MockBus {
	return &MockBus{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]*mockSub),
		handlers:      make(map[string]func(context.Context, []byte) []byte),
		kv:            make(map[string]map[string][]byte),
	}
}

// FailPublishes makes subsequent Publish calls return the given error.
// Pass nil to restore normal delivery.
func (b *MockBus) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Request sends a request to the registered handler for the subject.
func (b *MockBus) Request(
	ctx context.Context, subject string, data []byte, _ time.Duration,
) ([]byte, error) {
	b.mu.RLock()
	handler, ok := b.handlers[subject]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("bus is closed")
	}
	if !ok {
		return nil, fmt.Errorf("request timeout: no responder on %s", subject)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return handler(ctx, data), nil
}

// Publish publishes a message to a subject.
func (b *MockBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}

	b.messages[subject] = append(b.messages[subject], data)

	// Copy handlers to avoid holding the lock during callbacks
	var handlers []func(context.Context, []byte)
	for _, sub := range b.subscriptions[subject] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.Unlock()

	// Call handlers outside the lock to prevent deadlock
	for _, handler := range handlers {
		handler(ctx, data)
	}
	return nil
}

// Subscribe creates a subscription to a subject.
func (b *MockBus) Subscribe(
	_ context.Context, subject string, handler func(context.Context, []byte),
) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	b.nextSubID++
	sub := &mockSub{id: b.nextSubID, handler: handler}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)

	id := sub.id
	return func() { b.unsubscribe(subject, id) }, nil
}

func (b *MockBus) unsubscribe(subject string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[subject]
	for i, sub := range subs {
		if sub.id == id {
			b.subscriptions[subject] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// RegisterHandler registers a request handler for a subject.
func (b *MockBus) RegisterHandler(
	_ context.Context, subject string, handler func(context.Context, []byte) []byte,
) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	b.handlers[subject] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, subject)
	}, nil
}

// KVPut stores a value in a named bucket.
func (b *MockBus) KVPut(_ context.Context, bucket, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	if b.kv[bucket] == nil {
		b.kv[bucket] = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.kv[bucket][key] = stored
	return nil
}

// KVGet retrieves a value from a named bucket.
func (b *MockBus) KVGet(_ context.Context, bucket, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	values, ok := b.kv[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s not found", bucket)
	}
	value, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in bucket %s", key, bucket)
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Messages returns all messages published to a subject, oldest first.
func (b *MockBus) Messages(subject string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// MessageCount returns the number of messages published to a subject.
func (b *MockBus) MessageCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages[subject])
}

// SubscriberCount returns the number of live subscriptions on a subject.
func (b *MockBus) SubscriberCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[subject])
}

// Close marks the bus closed; further operations fail.
func (b *MockBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
