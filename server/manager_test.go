package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/testutil"
	"github.com/c360/scenesync/transport"
)

const (
	testControlSubject = "scenesync.test.control"
	testMetadataPrefix = "scenesync.test.metadata"
	testSceneSubject   = "scenesync.test.scene"
)

type firedEvent struct {
	event Event
	id    connection.ID
}

func newTestManager(t *testing.T) (*Manager, *transport.ControlChannel, *[]firedEvent) {
	t.Helper()

	bus := testutil.NewMockBus()
	manager := NewManager(ManagerConfig{
		Bus:            bus,
		ControlSubject: testControlSubject,
		MetadataPrefix: testMetadataPrefix,
		SceneSubject:   testSceneSubject,
	})

	events := &[]firedEvent{}
	manager.SetEventCallback(func(event Event, id connection.ID) {
		*events = append(*events, firedEvent{event, id})
	})

	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)

	return manager, transport.NewControlChannel(bus, testControlSubject), events
}

func register(t *testing.T, channel *transport.ControlChannel, connType connection.Type) connection.ID {
	t.Helper()
	resp, err := channel.Request(context.Background(), &message.NewConnection{
		ConnectionType:  connType,
		ProtocolVersion: connection.ProtocolVersion,
	})
	require.NoError(t, err)
	ncr := resp.(*message.NewConnectionResponse)
	require.True(t, ncr.OK())
	require.True(t, ncr.ID.Valid())
	return ncr.ID
}

// TestInputLifecycle covers the full input path: register, activate with
// ObjectDetails, close. Exactly one added event, then one removed event.
func TestInputLifecycle(t *testing.T) {
	manager, channel, events := newTestManager(t)

	id := register(t, channel, connection.TypeInput)
	assert.Empty(t, *events, "identity alone is not an addition")

	resp, err := channel.Request(context.Background(), &message.ObjectDetails{ID: id})
	require.NoError(t, err)
	details := resp.(*message.ConnectionDetailsResponse)
	require.True(t, details.OK())
	assert.Equal(t, id, details.ID)
	assert.Equal(t, testMetadataPrefix+"."+id.String(), details.MetadataEndpoint)

	require.Len(t, *events, 1)
	assert.Equal(t, firedEvent{EventInputAdded, id}, (*events)[0])

	resp, err = channel.Request(context.Background(), &message.CloseConnection{ID: id})
	require.NoError(t, err)
	require.True(t, resp.(*message.CloseConnectionResponse).OK())

	require.Len(t, *events, 2)
	assert.Equal(t, firedEvent{EventInputRemoved, id}, (*events)[1])
	assert.False(t, manager.Registry().Has(id))
}

func TestMonitoringLifecycle(t *testing.T) {
	_, channel, events := newTestManager(t)

	id := register(t, channel, connection.TypeMonitoring)

	resp, err := channel.Request(context.Background(), &message.MonitoringConnectionDetails{ID: id})
	require.NoError(t, err)
	details := resp.(*message.MonitoringConnectionDetailsResponse)
	require.True(t, details.OK())
	assert.Equal(t, testSceneSubject, details.SceneEndpoint)

	require.Len(t, *events, 1)
	assert.Equal(t, firedEvent{EventMonitoringAdded, id}, (*events)[0])
}

// TestRoleMismatch covers issuing MonitoringConnectionDetails against an
// Input's id: an unknown-error response, no event, state preserved.
func TestRoleMismatch(t *testing.T) {
	manager, channel, events := newTestManager(t)

	inputID := register(t, channel, connection.TypeInput)
	monitoringID := register(t, channel, connection.TypeMonitoring)

	resp, err := channel.Request(context.Background(), &message.MonitoringConnectionDetails{ID: inputID})
	require.NoError(t, err)
	require.NotNil(t, resp.Err())
	assert.Equal(t, errors.KindUnknownError, resp.Err().ErrorKind)
	assert.NotEmpty(t, resp.Err().Description)
	assert.Empty(t, *events, "violation must not fire events")

	// Registry state untouched: both connections still New and activatable
	entry, ok := manager.Registry().Get(inputID)
	require.True(t, ok)
	assert.Equal(t, connection.StateNew, entry.State)

	resp, err = channel.Request(context.Background(), &message.MonitoringConnectionDetails{ID: monitoringID})
	require.NoError(t, err)
	assert.True(t, resp.(*message.MonitoringConnectionDetailsResponse).OK())
}

func TestProtocolVersionMismatchAbortsHandshake(t *testing.T) {
	manager, channel, events := newTestManager(t)

	resp, err := channel.Request(context.Background(), &message.NewConnection{
		ConnectionType:  connection.TypeInput,
		ProtocolVersion: connection.ProtocolVersion + 1,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Err())
	assert.Equal(t, errors.KindProtocolVersionMismatch, resp.Err().ErrorKind)

	// No partial state was created
	assert.Equal(t, 0, manager.Registry().Len())
	assert.Empty(t, *events)
}

func TestReconnectionReusesID(t *testing.T) {
	bus := testutil.NewMockBus()
	manager := NewManager(ManagerConfig{
		Bus:            bus,
		ControlSubject: testControlSubject,
		MetadataPrefix: testMetadataPrefix,
		SceneSubject:   testSceneSubject,
	})
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	channel := transport.NewControlChannel(bus, testControlSubject)

	id := register(t, channel, connection.TypeInput)
	_, err := channel.Request(context.Background(), &message.CloseConnection{ID: id})
	require.NoError(t, err)

	// Reconnect with the old id as hint: it is free again, so it is honored
	resp, err := channel.Request(context.Background(), &message.NewConnection{
		ConnectionType:  connection.TypeInput,
		ProtocolVersion: connection.ProtocolVersion,
		RequestedID:     id,
	})
	require.NoError(t, err)
	assert.Equal(t, id, resp.(*message.NewConnectionResponse).ID)
}

func TestCloseUnknownID(t *testing.T) {
	_, channel, events := newTestManager(t)

	resp, err := channel.Request(context.Background(), &message.CloseConnection{ID: connection.NewID()})
	require.NoError(t, err)
	require.NotNil(t, resp.Err())
	assert.Equal(t, errors.KindUnknownError, resp.Err().ErrorKind)
	assert.Empty(t, *events)
}

func TestObjectDetailsTwiceRejected(t *testing.T) {
	_, channel, events := newTestManager(t)

	id := register(t, channel, connection.TypeInput)

	resp, err := channel.Request(context.Background(), &message.ObjectDetails{ID: id})
	require.NoError(t, err)
	require.True(t, resp.(*message.ConnectionDetailsResponse).OK())

	resp, err = channel.Request(context.Background(), &message.ObjectDetails{ID: id})
	require.NoError(t, err)
	require.NotNil(t, resp.Err())
	assert.Equal(t, errors.KindUnknownError, resp.Err().ErrorKind)

	assert.Len(t, *events, 1, "added event fires exactly once")
}

func TestItemPropertiesForwarded(t *testing.T) {
	manager, channel, _ := newTestManager(t)

	var gotID connection.ID
	var gotName *string
	var gotColour *uint32
	manager.SetPropertiesCallback(func(id connection.ID, name *string, colour *uint32) {
		gotID, gotName, gotColour = id, name, colour
	})

	id := register(t, channel, connection.TypeInput)

	name := "Dialogue"
	resp, err := channel.Request(context.Background(), &message.ItemPropertiesChanged{ID: id, Name: &name})
	require.NoError(t, err)
	require.True(t, resp.(*message.GenericResponse).OK())

	assert.Equal(t, id, gotID)
	require.NotNil(t, gotName)
	assert.Equal(t, "Dialogue", *gotName)
	assert.Nil(t, gotColour)
}

func TestItemPropertiesUnknownID(t *testing.T) {
	manager, channel, _ := newTestManager(t)

	called := false
	manager.SetPropertiesCallback(func(connection.ID, *string, *uint32) { called = true })

	resp, err := channel.Request(context.Background(), &message.ItemPropertiesChanged{ID: connection.NewID()})
	require.NoError(t, err)
	require.NotNil(t, resp.Err())
	assert.Equal(t, errors.KindUnknownError, resp.Err().ErrorKind)
	assert.False(t, called)
}
