package transport

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/testutil"
)

const testMetadataSubject = "scenesync.test.metadata"

func testItem(routing int) message.InputItem {
	return message.InputItem{
		ID:       connection.NewID(),
		Name:     "item",
		Routing:  routing,
		Metadata: &message.ObjectMetadata{Azimuth: 15, Distance: 1, Gain: 1},
	}
}

func TestMetadataSender_SendsImmediately(t *testing.T) {
	bus := testutil.NewMockBus()
	sender := NewMetadataSender(bus, testMetadataSubject)
	defer sender.Stop()

	sender.SetItem(testItem(0))

	require.Equal(t, 1, bus.MessageCount(testMetadataSubject))
	assert.False(t, sender.Dirty())

	got, err := message.UnmarshalItem(bus.Messages(testMetadataSubject)[0])
	require.NoError(t, err)
	assert.Equal(t, 0, got.Routing)
}

func TestMetadataSender_CoalescesRapidMutations(t *testing.T) {
	bus := testutil.NewMockBus()
	sender := NewMetadataSender(bus, testMetadataSubject)
	sender.SetInterval(40 * time.Millisecond)
	defer sender.Stop()

	// First change sends immediately; the burst that follows coalesces into
	// the timer tick.
	for i := 0; i < 10; i++ {
		sender.SetItem(testItem(i))
	}
	assert.Equal(t, 1, bus.MessageCount(testMetadataSubject))
	assert.True(t, sender.Dirty())

	// After one interval the latest state goes out once.
	require.Eventually(t, func() bool {
		return bus.MessageCount(testMetadataSubject) == 2
	}, time.Second, 5*time.Millisecond)

	msgs := bus.Messages(testMetadataSubject)
	got, err := message.UnmarshalItem(msgs[len(msgs)-1])
	require.NoError(t, err)
	assert.Equal(t, 9, got.Routing, "tick must send the latest coalesced state")
	assert.False(t, sender.Dirty())

	// Timer stops once clean: no further sends.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 2, bus.MessageCount(testMetadataSubject))
}

func TestMetadataSender_RetriesAfterSendFailure(t *testing.T) {
	// Scenario: a send failure re-dirties the payload and a later timer tick
	// resends without caller intervention.
	bus := testutil.NewMockBus()
	sender := NewMetadataSender(bus, testMetadataSubject)
	sender.SetInterval(20 * time.Millisecond)
	defer sender.Stop()

	bus.FailPublishes(stderrors.New("pipe broken"))
	sender.SetItem(testItem(3))

	assert.Equal(t, 0, bus.MessageCount(testMetadataSubject))
	assert.True(t, sender.Dirty(), "failed send must re-arm the dirty flag")

	bus.FailPublishes(nil)

	require.Eventually(t, func() bool {
		return bus.MessageCount(testMetadataSubject) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, sender.Dirty())
}

func TestMetadataSender_TriggerSendResendsCurrent(t *testing.T) {
	bus := testutil.NewMockBus()
	sender := NewMetadataSender(bus, testMetadataSubject)
	defer sender.Stop()

	// Nothing to resend before any item is set
	sender.TriggerSend()
	assert.Equal(t, 0, bus.MessageCount(testMetadataSubject))

	sender.SetItem(testItem(1))
	require.Eventually(t, func() bool { return !sender.Dirty() }, time.Second, 5*time.Millisecond)
	count := bus.MessageCount(testMetadataSubject)

	sender.TriggerSend()
	require.Eventually(t, func() bool {
		return bus.MessageCount(testMetadataSubject) > count
	}, time.Second, 5*time.Millisecond)
}

func TestMetadataSender_StopIsIdempotent(t *testing.T) {
	bus := testutil.NewMockBus()
	sender := NewMetadataSender(bus, testMetadataSubject)

	sender.SetItem(testItem(0))
	sender.Stop()
	sender.Stop() // destructor path may stop again

	count := bus.MessageCount(testMetadataSubject)
	sender.SetItem(testItem(1))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, bus.MessageCount(testMetadataSubject), "stopped sender must not send")
}

func TestMetadataReceiver_DeliversDecodedItems(t *testing.T) {
	bus := testutil.NewMockBus()
	receiver := NewMetadataReceiver(bus, testMetadataSubject)

	var mu sync.Mutex
	var received []message.InputItem
	require.NoError(t, receiver.Start(context.Background(), func(item message.InputItem) {
		mu.Lock()
		received = append(received, item)
		mu.Unlock()
	}))
	defer receiver.Stop()

	sent := testItem(7)
	data, err := message.MarshalItem(sent)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), testMetadataSubject, data))

	// Malformed payloads are dropped, subscription stays armed
	require.NoError(t, bus.Publish(context.Background(), testMetadataSubject, []byte("junk")))
	require.NoError(t, bus.Publish(context.Background(), testMetadataSubject, data))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, sent, received[0])
}

func TestMetadataReceiver_StopCancelsDelivery(t *testing.T) {
	bus := testutil.NewMockBus()
	receiver := NewMetadataReceiver(bus, testMetadataSubject)

	delivered := 0
	require.NoError(t, receiver.Start(context.Background(), func(message.InputItem) {
		delivered++
	}))

	receiver.Stop()
	receiver.Stop() // idempotent

	data, err := message.MarshalItem(testItem(0))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), testMetadataSubject, data))
	assert.Equal(t, 0, delivered)
}
