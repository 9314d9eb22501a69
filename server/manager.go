package server

import (
	"context"
	"fmt"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/metric"
	"github.com/c360/scenesync/transport"
)

// Event identifies a connection lifecycle notification.
type Event uint8

// Connection lifecycle events
const (
	EventInputAdded Event = iota + 1
	EventInputRemoved
	EventMonitoringAdded
	EventMonitoringRemoved
)

// String returns the string representation of Event
func (e Event) String() string {
	switch e {
	case EventInputAdded:
		return "input_added"
	case EventInputRemoved:
		return "input_removed"
	case EventMonitoringAdded:
		return "monitoring_added"
	case EventMonitoringRemoved:
		return "monitoring_removed"
	default:
		return "unknown"
	}
}

// EventCallback receives connection lifecycle events. It is invoked
// synchronously inside the request handler that caused the event; callers
// needing asynchrony hop to their own execution context.
type EventCallback func(event Event, id connection.ID)

// PropertiesCallback receives item property edits forwarded from the control
// channel. Nil fields were not present in the request.
type PropertiesCallback func(id connection.ID, name *string, colour *uint32)

// Manager serves the control endpoint: identity negotiation, detail
// negotiation, connection teardown, and property forwarding. It owns the
// Registry and is the only writer to it.
type Manager struct {
	registry *Registry
	server   *transport.ControlServer
	logger   transport.Logger
	metrics  *metric.Metrics

	metadataPrefix string
	sceneSubject   string

	callback   EventCallback
	properties PropertiesCallback
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Bus            transport.Bus
	ControlSubject string
	// MetadataPrefix is the subject prefix for per-input metadata upload
	// endpoints; the connection id is appended.
	MetadataPrefix string
	// SceneSubject is the broadcast endpoint handed to monitoring instances.
	SceneSubject string
	Logger       transport.Logger
	Metrics      *metric.Metrics
}

// NewManager creates a manager serving the given control subject.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	srv := transport.NewControlServer(cfg.Bus, cfg.ControlSubject)
	srv.SetLogger(logger)
	srv.SetMetrics(cfg.Metrics)
	return &Manager{
		registry:       NewRegistry(),
		server:         srv,
		logger:         logger,
		metrics:        cfg.Metrics,
		metadataPrefix: cfg.MetadataPrefix,
		sceneSubject:   cfg.SceneSubject,
	}
}

// Registry returns the manager's connection registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetEventCallback registers the single connection event callback. It must
// be set before Start.
func (m *Manager) SetEventCallback(cb EventCallback) {
	m.callback = cb
}

// SetPropertiesCallback registers the item property forwarding hook.
func (m *Manager) SetPropertiesCallback(cb PropertiesCallback) {
	m.properties = cb
}

// Start begins serving control requests.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.server.Serve(ctx, m.handle); err != nil {
		return errors.Wrap(err, "Manager", "Start", "serve control subject")
	}
	return nil
}

// Stop stops serving. Idempotent.
func (m *Manager) Stop() {
	m.server.Stop()
}

// MetadataEndpoint returns the upload subject for one input connection.
func (m *Manager) MetadataEndpoint(id connection.ID) string {
	return m.metadataPrefix + "." + id.String()
}

// handle dispatches one decoded request. Violations never corrupt registry
// state; they come back as error-status responses.
func (m *Manager) handle(_ context.Context, req message.Request) message.Response {
	switch r := req.(type) {
	case *message.NewConnection:
		return m.handleNewConnection(r)
	case *message.ObjectDetails:
		return m.handleObjectDetails(r)
	case *message.MonitoringConnectionDetails:
		return m.handleMonitoringDetails(r)
	case *message.CloseConnection:
		return m.handleCloseConnection(r)
	case *message.ItemPropertiesChanged:
		return m.handleItemProperties(r)
	default:
		// Unreachable: DecodeRequest only yields the closed request set
		m.metrics.RecordRequest("unknown", "error")
		return &message.GenericResponse{Status: message.Failed(errors.Unknown("unhandled request kind"))}
	}
}

// handleNewConnection performs identity negotiation. The assigned id alone
// does not make the connection part of the scene: no event fires until
// detail negotiation completes.
func (m *Manager) handleNewConnection(r *message.NewConnection) message.Response {
	if r.ProtocolVersion != connection.ProtocolVersion {
		m.logger.Errorf("Manager: reject %s peer speaking protocol v%d (want v%d)",
			r.ConnectionType, r.ProtocolVersion, connection.ProtocolVersion)
		m.metrics.RecordRequest(message.KindNewConnection.String(), "error")
		return &message.NewConnectionResponse{Status: message.Status{
			ErrorKind: errors.KindProtocolVersionMismatch,
			Description: fmt.Sprintf("coordinator speaks protocol v%d, peer sent v%d",
				connection.ProtocolVersion, r.ProtocolVersion),
		}}
	}

	id := m.registry.Add(r.ConnectionType, r.RequestedID)
	m.logger.Debugf("Manager: assigned %s to %s connection", id, r.ConnectionType)
	m.metrics.RecordRequest(message.KindNewConnection.String(), "ok")
	return &message.NewConnectionResponse{ID: id}
}

func (m *Manager) handleObjectDetails(r *message.ObjectDetails) message.Response {
	if err := m.registry.Activate(r.ID, connection.TypeInput); err != nil {
		m.logger.Errorf("Manager: object details for %s rejected: %v", r.ID, err)
		m.metrics.RecordRequest(message.KindObjectDetails.String(), "error")
		return &message.ConnectionDetailsResponse{Status: message.Failed(err)}
	}

	m.metrics.RecordRequest(message.KindObjectDetails.String(), "ok")
	m.metrics.RecordConnectionAdded(connection.TypeInput.String())
	m.fire(EventInputAdded, r.ID)

	return &message.ConnectionDetailsResponse{
		ID:               r.ID,
		MetadataEndpoint: m.MetadataEndpoint(r.ID),
	}
}

func (m *Manager) handleMonitoringDetails(r *message.MonitoringConnectionDetails) message.Response {
	if err := m.registry.Activate(r.ID, connection.TypeMonitoring); err != nil {
		m.logger.Errorf("Manager: monitoring details for %s rejected: %v", r.ID, err)
		m.metrics.RecordRequest(message.KindMonitoringConnectionDetails.String(), "error")
		return &message.MonitoringConnectionDetailsResponse{Status: message.Failed(err)}
	}

	m.metrics.RecordRequest(message.KindMonitoringConnectionDetails.String(), "ok")
	m.metrics.RecordConnectionAdded(connection.TypeMonitoring.String())
	m.fire(EventMonitoringAdded, r.ID)

	return &message.MonitoringConnectionDetailsResponse{
		ID:            r.ID,
		SceneEndpoint: m.sceneSubject,
	}
}

func (m *Manager) handleCloseConnection(r *message.CloseConnection) message.Response {
	entry, ok := m.registry.Get(r.ID)
	if !ok {
		m.metrics.RecordRequest(message.KindCloseConnection.String(), "error")
		return &message.CloseConnectionResponse{Status: message.Failed(
			errors.Unknown(fmt.Sprintf("unknown connection id %s", r.ID)))}
	}

	m.registry.Remove(r.ID)
	m.logger.Debugf("Manager: closed %s connection %s", entry.Type, r.ID)
	m.metrics.RecordRequest(message.KindCloseConnection.String(), "ok")

	// Only activated connections were announced, but removal fires for both:
	// downstream listeners treat removal of an unannounced id as a no-op.
	switch entry.Type {
	case connection.TypeInput:
		if entry.State == connection.StateActive {
			m.metrics.RecordConnectionRemoved(connection.TypeInput.String())
		}
		m.fire(EventInputRemoved, r.ID)
	case connection.TypeMonitoring:
		if entry.State == connection.StateActive {
			m.metrics.RecordConnectionRemoved(connection.TypeMonitoring.String())
		}
		m.fire(EventMonitoringRemoved, r.ID)
	}

	return &message.CloseConnectionResponse{ID: r.ID}
}

func (m *Manager) handleItemProperties(r *message.ItemPropertiesChanged) message.Response {
	if !m.registry.Has(r.ID) {
		m.metrics.RecordRequest(message.KindItemPropertiesChanged.String(), "error")
		return &message.GenericResponse{Status: message.Failed(
			errors.Unknown(fmt.Sprintf("unknown connection id %s", r.ID)))}
	}

	if m.properties != nil {
		m.properties(r.ID, r.Name, r.Colour)
	}
	m.metrics.RecordRequest(message.KindItemPropertiesChanged.String(), "ok")
	return &message.GenericResponse{}
}

func (m *Manager) fire(event Event, id connection.ID) {
	if m.callback != nil {
		m.callback(event, id)
	}
}

// noopLogger discards everything; used when no logger is injected.
type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
func (noopLogger) Errorf(string, ...any) {}
func (noopLogger) Debugf(string, ...any) {}
