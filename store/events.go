package store

import (
	"sync"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
)

// Listener receives store change notifications, one method per mutation
// kind. Arguments are copies taken while the store mutex was still held;
// listeners may retain them freely. Embed BaseListener to implement only the
// methods of interest.
type Listener interface {
	StoreReset(programmes *ProgrammeStore, items []message.InputItem)

	ProgrammeAdded(index int, programme Programme)
	ProgrammeRemoved(index int)
	ProgrammeUpdated(index int, programme Programme)
	ProgrammeSelected(index int, programme Programme)
	ProgrammeMoved(from, to int)

	ProgrammeItemAdded(programmeIndex int, element ProgrammeElement)
	ProgrammeItemRemoved(programmeIndex int, id connection.ID)
	ProgrammeItemUpdated(programmeIndex int, element ProgrammeElement)
	ProgrammeItemMoved(programmeIndex, from, to int)

	AutoModeChanged(enabled bool)

	InputAdded(item message.InputItem)
	InputRemoved(id connection.ID)
	InputUpdated(item message.InputItem)
}

// BaseListener is a no-op Listener for embedding.
type BaseListener struct{}

func (BaseListener) StoreReset(*ProgrammeStore, []message.InputItem)   {}
func (BaseListener) ProgrammeAdded(int, Programme)                     {}
func (BaseListener) ProgrammeRemoved(int)                              {}
func (BaseListener) ProgrammeUpdated(int, Programme)                   {}
func (BaseListener) ProgrammeSelected(int, Programme)                  {}
func (BaseListener) ProgrammeMoved(int, int)                           {}
func (BaseListener) ProgrammeItemAdded(int, ProgrammeElement)          {}
func (BaseListener) ProgrammeItemRemoved(int, connection.ID)           {}
func (BaseListener) ProgrammeItemUpdated(int, ProgrammeElement)        {}
func (BaseListener) ProgrammeItemMoved(int, int, int)                  {}
func (BaseListener) AutoModeChanged(bool)                              {}
func (BaseListener) InputAdded(message.InputItem)                      {}
func (BaseListener) InputRemoved(connection.ID)                        {}
func (BaseListener) InputUpdated(message.InputItem)                    {}

// Subscription is the handle returned by AddUIListener/AddBackendListener.
// Cancel unsubscribes; it is idempotent and safe to call concurrently with
// store mutations.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the listener. After Cancel returns no further
// notifications are delivered through this subscription.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Dispatcher moves listener notifications onto an execution context. The
// store hands it one closure per mutation per listener group, in mutation
// order; a dispatcher must preserve that order.
type Dispatcher interface {
	Dispatch(fn func())
	Close()
}

// InlineDispatcher runs notifications synchronously on the mutating
// goroutine, after the store mutex is released.
type InlineDispatcher struct{}

// Dispatch runs fn immediately.
func (InlineDispatcher) Dispatch(fn func()) { fn() }

// Close is a no-op.
func (InlineDispatcher) Close() {}

// QueueDispatcher runs notifications on a single consumer goroutine fed by
// an unbounded queue, so slow listeners never stall store mutations.
// Shutdown closes the queue and joins the consumer.
type QueueDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueueDispatcher starts the consumer goroutine.
func NewQueueDispatcher() *QueueDispatcher {
	d := &QueueDispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues fn. Calls after Close are dropped.
func (d *QueueDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *QueueDispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		<-d.wake
	}
}

// Close drains outstanding notifications and stops the consumer. Idempotent.
func (d *QueueDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
