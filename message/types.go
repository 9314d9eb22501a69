// Package message defines the closed set of control-protocol messages
// exchanged between scene coordinator and plugin instances, the metadata and
// scene payloads carried on the streaming channels, and the binary envelope
// codec that frames them.
//
// Design principles:
//   - Closed sums: requests and responses are sealed interfaces matched
//     exhaustively at the single decode and handle sites.
//   - Total decoding: a frame either decodes to a complete message or yields
//     a typed error; no partial fills, no panics.
//   - Round-trip law: Decode(Encode(m)) == m for every constructible message.
package message

import (
	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
)

// Kind identifies a control-protocol message variant. Values are part of the
// wire format and must not be reordered.
type Kind uint8

// Control-protocol message kinds
const (
	KindNewConnection Kind = iota + 1
	KindCloseConnection
	KindObjectDetails
	KindMonitoringConnectionDetails
	KindItemPropertiesChanged
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNewConnection:
		return "new_connection"
	case KindCloseConnection:
		return "close_connection"
	case KindObjectDetails:
		return "object_details"
	case KindMonitoringConnectionDetails:
		return "monitoring_connection_details"
	case KindItemPropertiesChanged:
		return "item_properties_changed"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k >= KindNewConnection && k <= KindItemPropertiesChanged
}

// Message is the sealed interface over every control-protocol message.
type Message interface {
	Kind() Kind
	isMessage()
}

// Request is the sealed interface over client-originated messages.
type Request interface {
	Message
	isRequest()
}

// Response is the sealed interface over coordinator replies. Every response
// wraps either its success payload or an error kind with description.
type Response interface {
	Message
	Err() *Status
}

// Status carries the error half of a response. A zero Status means success.
type Status struct {
	ErrorKind   errors.Kind `json:"error_kind"`
	Description string      `json:"description,omitempty"`
}

// OK reports whether the response succeeded.
func (s Status) OK() bool {
	return s.ErrorKind == errors.KindNoError
}

// Err returns nil on success, or the status itself as an error source.
func (s *Status) Err() *Status {
	if s.ErrorKind == errors.KindNoError {
		return nil
	}
	return s
}

// Error implements the error interface for failed statuses.
func (s *Status) Error() string {
	if s.Description != "" {
		return s.ErrorKind.String() + ": " + s.Description
	}
	return s.ErrorKind.String()
}

// Failed builds an error Status from any error, preserving its wire kind.
func Failed(err error) Status {
	return Status{ErrorKind: errors.KindOf(err), Description: err.Error()}
}

// NewConnection is the first handshake step: identity negotiation.
// RequestedID is a reconnection hint only; the coordinator may assign a
// different id.
type NewConnection struct {
	ConnectionType  connection.Type `json:"connection_type"`
	ProtocolVersion uint32          `json:"protocol_version"`
	RequestedID     connection.ID   `json:"requested_id"`
}

// Kind implements Message
func (*NewConnection) Kind() Kind { return KindNewConnection }

// CloseConnection removes a connection from the registry.
type CloseConnection struct {
	ID connection.ID `json:"id"`
}

// Kind implements Message
func (*CloseConnection) Kind() Kind { return KindCloseConnection }

// ObjectDetails is the second handshake step for input instances.
type ObjectDetails struct {
	ID connection.ID `json:"id"`
}

// Kind implements Message
func (*ObjectDetails) Kind() Kind { return KindObjectDetails }

// MonitoringConnectionDetails is the second handshake step for monitoring
// instances.
type MonitoringConnectionDetails struct {
	ID connection.ID `json:"id"`
}

// Kind implements Message
func (*MonitoringConnectionDetails) Kind() Kind { return KindMonitoringConnectionDetails }

// ItemPropertiesChanged is a housekeeping RPC updating user-editable item
// properties. Nil fields are left untouched.
type ItemPropertiesChanged struct {
	ID     connection.ID `json:"id"`
	Name   *string       `json:"name,omitempty"`
	Colour *uint32       `json:"colour,omitempty"`
}

// Kind implements Message
func (*ItemPropertiesChanged) Kind() Kind { return KindItemPropertiesChanged }

// NewConnectionResponse returns the assigned connection id.
type NewConnectionResponse struct {
	Status
	ID connection.ID `json:"id"`
}

// Kind implements Message
func (*NewConnectionResponse) Kind() Kind { return KindNewConnection }

// CloseConnectionResponse acknowledges a close.
type CloseConnectionResponse struct {
	Status
	ID connection.ID `json:"id"`
}

// Kind implements Message
func (*CloseConnectionResponse) Kind() Kind { return KindCloseConnection }

// ConnectionDetailsResponse returns the metadata stream endpoint an input
// publishes to.
type ConnectionDetailsResponse struct {
	Status
	ID               connection.ID `json:"id"`
	MetadataEndpoint string        `json:"metadata_endpoint"`
}

// Kind implements Message
func (*ConnectionDetailsResponse) Kind() Kind { return KindObjectDetails }

// MonitoringConnectionDetailsResponse returns the scene stream endpoint a
// monitoring instance subscribes to.
type MonitoringConnectionDetailsResponse struct {
	Status
	ID            connection.ID `json:"id"`
	SceneEndpoint string        `json:"scene_endpoint"`
}

// Kind implements Message
func (*MonitoringConnectionDetailsResponse) Kind() Kind { return KindMonitoringConnectionDetails }

// GenericResponse carries only a status.
type GenericResponse struct {
	Status
}

// Kind implements Message
func (*GenericResponse) Kind() Kind { return KindItemPropertiesChanged }

func (*NewConnection) isMessage()               {}
func (*CloseConnection) isMessage()             {}
func (*ObjectDetails) isMessage()               {}
func (*MonitoringConnectionDetails) isMessage() {}
func (*ItemPropertiesChanged) isMessage()       {}

func (*NewConnection) isRequest()               {}
func (*CloseConnection) isRequest()             {}
func (*ObjectDetails) isRequest()               {}
func (*MonitoringConnectionDetails) isRequest() {}
func (*ItemPropertiesChanged) isRequest()       {}

func (*NewConnectionResponse) isMessage()               {}
func (*CloseConnectionResponse) isMessage()             {}
func (*ConnectionDetailsResponse) isMessage()           {}
func (*MonitoringConnectionDetailsResponse) isMessage() {}
func (*GenericResponse) isMessage()                     {}
