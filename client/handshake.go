// Package client implements the plugin-instance side of the connection
// protocol: the two-step handshake state machine that negotiates an identity
// and a streaming endpoint with the scene coordinator, and re-runs itself on
// reconnection.
package client

import (
	"context"
	"sync"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/metric"
	"github.com/c360/scenesync/transport"
)

// HandshakeState is the client-side connection state.
type HandshakeState int

// Handshake states. Error is terminal for one attempt; the owning component
// decides whether to retry with a fresh Connect call.
const (
	StateInit HandshakeState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the string representation of HandshakeState
func (s HandshakeState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectedCallback fires when the handshake completes, carrying the
// assigned id and the streaming endpoint to attach to.
type ConnectedCallback func(id connection.ID, endpoint string)

// DisconnectedCallback fires on transport-level connection loss.
type DisconnectedCallback func()

// Handshake drives the Init -> Connecting -> Connected protocol for one
// plugin instance. It keeps the last assigned id across attempts and offers
// it as a reconnection hint only: the coordinator's answer always wins.
type Handshake struct {
	channel *transport.ControlChannel
	role    connection.Type
	logger  transport.Logger
	metrics *metric.Metrics

	onConnected    ConnectedCallback
	onDisconnected DisconnectedCallback

	mu        sync.Mutex
	state     HandshakeState
	id        connection.ID
	endpoint  string
	connected bool
}

// NewHandshake creates a handshake for the given role over the control
// subject.
func NewHandshake(bus transport.Bus, controlSubject string, role connection.Type) *Handshake {
	return &Handshake{
		channel: transport.NewControlChannel(bus, controlSubject),
		role:    role,
		logger:  noopLogger{},
		state:   StateInit,
	}
}

// SetLogger overrides the handshake logger.
func (h *Handshake) SetLogger(l transport.Logger) {
	if l != nil {
		h.logger = l
	}
}

// SetMetrics attaches handshake outcome counters.
func (h *Handshake) SetMetrics(m *metric.Metrics) {
	h.metrics = m
}

// OnConnected registers the connected callback. Must be set before Connect.
func (h *Handshake) OnConnected(cb ConnectedCallback) {
	h.onConnected = cb
}

// OnDisconnected registers the disconnected callback.
func (h *Handshake) OnDisconnected(cb DisconnectedCallback) {
	h.onDisconnected = cb
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ID returns the last id assigned by the coordinator, or Nil before the
// first successful identity step.
func (h *Handshake) ID() connection.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// Endpoint returns the streaming endpoint from the last completed handshake.
func (h *Handshake) Endpoint() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endpoint
}

// Connected reports whether the handshake currently holds a live connection.
func (h *Handshake) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Connect runs the whole handshake from Init. On success the connected
// callback fires with (id, endpoint). Any failure is fatal for this attempt:
// the state machine parks in Error and Connect returns the cause; a new
// Connect call starts over, reusing the last known id as a hint.
func (h *Handshake) Connect(ctx context.Context) error {
	h.mu.Lock()
	h.state = StateInit
	h.connected = false
	hint := h.id
	h.mu.Unlock()

	// Step one: identity negotiation
	resp, err := h.channel.Request(ctx, &message.NewConnection{
		ConnectionType:  h.role,
		ProtocolVersion: connection.ProtocolVersion,
		RequestedID:     hint,
	})
	if err != nil {
		return h.fail(errors.Wrap(err, "Handshake", "Connect", "identity negotiation"))
	}
	identity, ok := resp.(*message.NewConnectionResponse)
	if !ok {
		return h.fail(errors.WrapInvalid(
			errors.ErrUnexpectedResponse, "Handshake", "Connect", "identity negotiation"))
	}
	if st := identity.Err(); st != nil {
		if st.ErrorKind == errors.KindProtocolVersionMismatch {
			return h.fail(errors.WrapFatal(
				errors.ErrProtocolVersionMismatch, "Handshake", "Connect", "identity negotiation"))
		}
		return h.fail(errors.Wrap(st, "Handshake", "Connect", "identity negotiation"))
	}

	// Adopt the assigned id even when it differs from the hint
	h.mu.Lock()
	h.id = identity.ID
	h.state = StateConnecting
	h.mu.Unlock()

	// Step two: detail negotiation for our role
	id, endpoint, err := h.negotiateDetails(ctx, identity.ID)
	if err != nil {
		return h.fail(err)
	}

	h.mu.Lock()
	h.id = id
	h.endpoint = endpoint
	h.state = StateConnected
	h.connected = true
	h.mu.Unlock()

	h.logger.Debugf("Handshake: %s connected as %s, streaming via %s", h.role, id, endpoint)
	h.metrics.RecordHandshake(h.role.String(), "ok")

	if h.onConnected != nil {
		h.onConnected(id, endpoint)
	}
	return nil
}

func (h *Handshake) negotiateDetails(
	ctx context.Context, id connection.ID,
) (connection.ID, string, error) {
	switch h.role {
	case connection.TypeInput:
		resp, err := h.channel.Request(ctx, &message.ObjectDetails{ID: id})
		if err != nil {
			return connection.Nil, "", errors.Wrap(err, "Handshake", "Connect", "detail negotiation")
		}
		details, ok := resp.(*message.ConnectionDetailsResponse)
		if !ok {
			return connection.Nil, "", errors.WrapInvalid(
				errors.ErrUnexpectedResponse, "Handshake", "Connect", "detail negotiation")
		}
		if st := details.Err(); st != nil {
			return connection.Nil, "", errors.Wrap(st, "Handshake", "Connect", "detail negotiation")
		}
		return details.ID, details.MetadataEndpoint, nil

	case connection.TypeMonitoring:
		resp, err := h.channel.Request(ctx, &message.MonitoringConnectionDetails{ID: id})
		if err != nil {
			return connection.Nil, "", errors.Wrap(err, "Handshake", "Connect", "detail negotiation")
		}
		details, ok := resp.(*message.MonitoringConnectionDetailsResponse)
		if !ok {
			return connection.Nil, "", errors.WrapInvalid(
				errors.ErrUnexpectedResponse, "Handshake", "Connect", "detail negotiation")
		}
		if st := details.Err(); st != nil {
			return connection.Nil, "", errors.Wrap(st, "Handshake", "Connect", "detail negotiation")
		}
		return details.ID, details.SceneEndpoint, nil

	default:
		return connection.Nil, "", errors.WrapInvalid(
			errors.ErrInvalidData, "Handshake", "Connect", "role check")
	}
}

// HandleDisconnect records a transport-level connection loss: connected
// drops, the disconnected callback fires, and the next Connect re-runs the
// whole handshake with the last id as hint only.
func (h *Handshake) HandleDisconnect() {
	h.mu.Lock()
	wasConnected := h.connected
	h.connected = false
	h.state = StateInit
	h.mu.Unlock()

	if wasConnected {
		h.logger.Printf("Handshake: %s connection lost", h.role)
	}
	if h.onDisconnected != nil {
		h.onDisconnected()
	}
}

// Close announces an orderly departure to the coordinator. Best effort: a
// coordinator that is already gone cannot acknowledge, and that is fine.
func (h *Handshake) Close(ctx context.Context) {
	h.mu.Lock()
	id := h.id
	wasConnected := h.connected
	h.connected = false
	h.state = StateInit
	h.mu.Unlock()

	if !wasConnected || !id.Valid() {
		return
	}
	if _, err := h.channel.Request(ctx, &message.CloseConnection{ID: id}); err != nil {
		h.logger.Debugf("Handshake: close notification failed: %v", err)
	}
}

func (h *Handshake) fail(err error) error {
	h.mu.Lock()
	h.state = StateError
	h.connected = false
	h.mu.Unlock()
	h.metrics.RecordHandshake(h.role.String(), "error")
	h.logger.Errorf("Handshake: %v", err)
	return err
}

// noopLogger discards everything; used when no logger is injected.
type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
func (noopLogger) Errorf(string, ...any) {}
func (noopLogger) Debugf(string, ...any) {}
