package transport

import (
	"context"
	"sync"
	"time"

	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/metric"
)

// DefaultSendInterval is the minimum spacing between metadata resends while
// the payload stays dirty.
const DefaultSendInterval = 100 * time.Millisecond

// MetadataSender is the push half of the metadata upload channel. Rapid
// mutations coalesce into a dirty flag: the first change sends immediately,
// further changes are folded into at most one resend per send interval, and
// the timer stops once a send succeeds with nothing dirty. A failed send
// re-arms the dirty flag so the next tick retries without caller
// intervention.
type MetadataSender struct {
	bus      Bus
	subject  string
	interval time.Duration
	logger   Logger
	metrics  *metric.Metrics

	mu           sync.Mutex
	item         message.InputItem
	hasItem      bool
	dirty        bool
	timer        *time.Timer
	timerRunning bool
	stopped      bool
}

// NewMetadataSender creates a sender publishing to the given subject.
func NewMetadataSender(bus Bus, subject string) *MetadataSender {
	return &MetadataSender{
		bus:      bus,
		subject:  subject,
		interval: DefaultSendInterval,
		logger:   &defaultLogger{},
	}
}

// SetInterval overrides the send interval. Only effective before first use.
func (ms *MetadataSender) SetInterval(d time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if d > 0 {
		ms.interval = d
	}
}

// SetLogger overrides the sender logger.
func (ms *MetadataSender) SetLogger(l Logger) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if l != nil {
		ms.logger = l
	}
}

// SetMetrics attaches send outcome counters.
func (ms *MetadataSender) SetMetrics(m *metric.Metrics) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.metrics = m
}

// SetItem stores the latest item state, marks it dirty, and triggers a send.
func (ms *MetadataSender) SetItem(item message.InputItem) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.stopped {
		return
	}
	ms.item = item
	ms.hasItem = true
	ms.dirty = true
	ms.triggerSendLocked()
}

// TriggerSend re-marks the current item dirty and schedules a send. Used
// when the coordinator asks for a refresh after a reconnect.
func (ms *MetadataSender) TriggerSend() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.stopped || !ms.hasItem {
		return
	}
	ms.dirty = true
	ms.triggerSendLocked()
}

// Dirty reports whether an unsent change is pending.
func (ms *MetadataSender) Dirty() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.dirty
}

// triggerSendLocked sends immediately when no resend timer is pending;
// otherwise the running timer will pick the change up on its next tick.
func (ms *MetadataSender) triggerSendLocked() {
	if ms.timerRunning {
		return
	}
	ms.sendLocked()
	ms.armTimerLocked()
}

// sendLocked publishes the current item. Failure keeps the dirty flag set so
// the timer retries; there is no retry bound (at-least-once under eventual
// connectivity).
func (ms *MetadataSender) sendLocked() {
	data, err := message.MarshalItem(ms.item)
	if err != nil {
		ms.logger.Errorf("MetadataSender: marshal item: %v", err)
		return
	}

	if err := ms.bus.Publish(context.Background(), ms.subject, data); err != nil {
		ms.logger.Debugf("MetadataSender: send failed, staying dirty: %v", err)
		ms.metrics.RecordMetadataSend("error")
		return
	}
	ms.dirty = false
	ms.metrics.RecordMetadataSend("ok")
}

func (ms *MetadataSender) armTimerLocked() {
	ms.timerRunning = true
	ms.timer = time.AfterFunc(ms.interval, ms.tick)
}

func (ms *MetadataSender) tick() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.stopped {
		ms.timerRunning = false
		return
	}
	if !ms.dirty {
		// Nothing pending: stop the timer until the next change
		ms.timerRunning = false
		return
	}
	ms.sendLocked()
	ms.armTimerLocked()
}

// Stop halts the resend timer. Idempotent and safe from a teardown path.
func (ms *MetadataSender) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.stopped = true
	if ms.timer != nil {
		ms.timer.Stop()
	}
	ms.timerRunning = false
}

// ItemHandler consumes one decoded metadata upload.
type ItemHandler func(item message.InputItem)

// MetadataReceiver is the pull half of the metadata upload channel: it
// subscribes to one input's metadata subject and hands decoded items to a
// handler. Malformed payloads are logged and skipped; the subscription stays
// armed.
type MetadataReceiver struct {
	bus     Bus
	subject string
	logger  Logger

	cancel func()
}

// NewMetadataReceiver creates a receiver for the given subject.
func NewMetadataReceiver(bus Bus, subject string) *MetadataReceiver {
	return &MetadataReceiver{
		bus:     bus,
		subject: subject,
		logger:  &defaultLogger{},
	}
}

// SetLogger overrides the receiver logger.
func (mr *MetadataReceiver) SetLogger(l Logger) {
	if l != nil {
		mr.logger = l
	}
}

// Start begins receiving. It returns immediately; items arrive on the bus's
// background threads.
func (mr *MetadataReceiver) Start(ctx context.Context, handler ItemHandler) error {
	cancel, err := mr.bus.Subscribe(ctx, mr.subject, func(_ context.Context, data []byte) {
		item, err := message.UnmarshalItem(data)
		if err != nil {
			mr.logger.Errorf("MetadataReceiver: drop payload: %v", err)
			return
		}
		handler(item)
	})
	if err != nil {
		return errors.Wrap(err, "MetadataReceiver", "Start", "subscribe")
	}
	mr.cancel = cancel
	return nil
}

// Stop cancels the subscription. Idempotent and safe from teardown.
func (mr *MetadataReceiver) Stop() {
	if mr.cancel != nil {
		mr.cancel()
	}
}
