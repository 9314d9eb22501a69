// Package transport provides the message-passing channels SceneSync is built
// on: a NATS-backed bus client plus the three channel disciplines layered on
// top of it (request/reply control, push metadata upload, publish/subscribe
// scene broadcast).
package transport

import (
	"context"
	"time"
)

// Bus is the message-passing surface the channels are built on. The
// NATS-backed Client implements it in production; testutil provides an
// in-memory implementation for unit tests.
//
// Subscribe returns a cancel function. Cancellation is idempotent and
// non-blocking; after it returns no further handler invocations start.
type Bus interface {
	// Request sends one request and blocks until exactly one reply,
	// timeout, or context cancellation.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Publish sends a message without awaiting acknowledgement.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for all messages on a subject.
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (cancel func(), err error)

	// RegisterHandler registers a request handler on a subject. The handler's
	// return value is sent as the reply.
	RegisterHandler(ctx context.Context, subject string, handler func(context.Context, []byte) []byte) (cancel func(), err error)

	// KVPut stores a value in a named bucket, creating the bucket on first use.
	KVPut(ctx context.Context, bucket, key string, value []byte) error

	// KVGet retrieves a value from a named bucket. Missing keys and missing
	// buckets both report errors.ErrKeyNotFound semantics via a non-nil error.
	KVGet(ctx context.Context, bucket, key string) ([]byte, error)
}
