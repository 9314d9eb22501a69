package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/server"
	"github.com/c360/scenesync/testutil"
)

const (
	testControlSubject = "scenesync.control"
	testMetadataPrefix = "scenesync.metadata"
	testSceneSubject   = "scenesync.scene"
)

func newTestServer(t *testing.T, bus *testutil.MockBus) *server.Manager {
	t.Helper()
	mgr := server.NewManager(server.ManagerConfig{
		Bus:            bus,
		ControlSubject: testControlSubject,
		MetadataPrefix: testMetadataPrefix,
		SceneSubject:   testSceneSubject,
	})
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestInputHandshake(t *testing.T) {
	bus := testutil.NewMockBus()
	mgr := newTestServer(t, bus)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	assert.Equal(t, StateInit, hs.State())

	var gotID connection.ID
	var gotEndpoint string
	hs.OnConnected(func(id connection.ID, endpoint string) {
		gotID = id
		gotEndpoint = endpoint
	})

	require.NoError(t, hs.Connect(context.Background()))

	assert.Equal(t, StateConnected, hs.State())
	assert.True(t, hs.Connected())
	assert.True(t, gotID.Valid())
	assert.Equal(t, gotID, hs.ID())
	assert.Equal(t, testMetadataPrefix+"."+gotID.String(), gotEndpoint)
	assert.Equal(t, gotEndpoint, hs.Endpoint())
	assert.True(t, mgr.Registry().Has(gotID))
}

func TestMonitoringHandshake(t *testing.T) {
	bus := testutil.NewMockBus()
	newTestServer(t, bus)

	hs := NewHandshake(bus, testControlSubject, connection.TypeMonitoring)
	require.NoError(t, hs.Connect(context.Background()))

	assert.Equal(t, StateConnected, hs.State())
	assert.Equal(t, testSceneSubject, hs.Endpoint())
}

func TestHandshakeAdoptsAssignedID(t *testing.T) {
	bus := testutil.NewMockBus()
	mgr := newTestServer(t, bus)

	// Occupy an id so the hint collides and the coordinator assigns a
	// fresh one.
	taken := mgr.Registry().Add(connection.TypeInput, connection.Nil)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	hs.mu.Lock()
	hs.id = taken
	hs.mu.Unlock()

	require.NoError(t, hs.Connect(context.Background()))
	assert.NotEqual(t, taken, hs.ID())
	assert.True(t, hs.ID().Valid())
}

func TestReconnectReusesIDAsHint(t *testing.T) {
	bus := testutil.NewMockBus()
	mgr := newTestServer(t, bus)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	require.NoError(t, hs.Connect(context.Background()))
	first := hs.ID()

	// Transport drop: the coordinator forgets us, the client re-runs the
	// handshake offering its old id.
	disconnected := false
	hs.OnDisconnected(func() { disconnected = true })
	mgr.Registry().Remove(first)
	hs.HandleDisconnect()

	assert.True(t, disconnected)
	assert.False(t, hs.Connected())
	assert.Equal(t, StateInit, hs.State())

	require.NoError(t, hs.Connect(context.Background()))
	assert.Equal(t, first, hs.ID())
	assert.True(t, mgr.Registry().Has(first))
}

func TestHandshakeNoCoordinator(t *testing.T) {
	bus := testutil.NewMockBus()

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	err := hs.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, hs.State())
	assert.False(t, hs.Connected())
	assert.True(t, errors.IsTransient(err))
}

func TestHandshakeDetailRejectionIsFatal(t *testing.T) {
	bus := testutil.NewMockBus()
	mgr := newTestServer(t, bus)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	require.NoError(t, hs.Connect(context.Background()))
	id := hs.ID()

	// A second detail negotiation for an already-active id is a protocol
	// violation: the attempt fails, server state is untouched.
	_, _, err := hs.negotiateDetails(context.Background(), id)
	require.Error(t, err)
	assert.True(t, mgr.Registry().Has(id))
}

func TestCloseNotifiesCoordinator(t *testing.T) {
	bus := testutil.NewMockBus()
	mgr := newTestServer(t, bus)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	require.NoError(t, hs.Connect(context.Background()))
	id := hs.ID()

	hs.Close(context.Background())
	assert.False(t, hs.Connected())
	assert.False(t, mgr.Registry().Has(id))

	// Closing again is a no-op.
	hs.Close(context.Background())
}

func TestProtocolVersionRejected(t *testing.T) {
	bus := testutil.NewMockBus()

	// A coordinator from a different protocol generation refuses the
	// identity request outright.
	_, err := bus.RegisterHandler(context.Background(), testControlSubject,
		func(_ context.Context, _ []byte) []byte {
			frame, _ := message.Encode(&message.NewConnectionResponse{
				Status: message.Status{
					ErrorKind:   errors.KindProtocolVersionMismatch,
					Description: "unsupported protocol version",
				},
			})
			return frame
		})
	require.NoError(t, err)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	err = hs.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, hs.State())
	assert.True(t, errors.IsFatal(err))
}

func TestUnexpectedReplyKind(t *testing.T) {
	bus := testutil.NewMockBus()

	// A coordinator that answers identity requests with the wrong response
	// variant.
	_, err := bus.RegisterHandler(context.Background(), testControlSubject,
		func(_ context.Context, _ []byte) []byte {
			frame, _ := message.Encode(&message.CloseConnectionResponse{})
			return frame
		})
	require.NoError(t, err)

	hs := NewHandshake(bus, testControlSubject, connection.TypeInput)
	err = hs.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, hs.State())
}
