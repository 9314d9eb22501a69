// Package connection defines the identity types shared by every SceneSync
// component: connection identifiers, connection roles, the registry lifecycle
// state, and the protocol version negotiated on each handshake.
package connection

import (
	"bytes"

	"github.com/google/uuid"
)

// ProtocolVersion is compared on every handshake. A mismatch aborts the
// connection attempt before any state is created.
const ProtocolVersion uint32 = 1

// ID is a 128-bit connection identifier. IDs are generated server-side;
// clients only ever present one as a reconnection hint. The zero value is
// Nil, meaning "unassigned".
type ID struct {
	uuid uuid.UUID
}

// Nil is the distinguished unassigned identifier.
var Nil = ID{}

// NewID generates a fresh random identifier. It is never Nil.
func NewID() ID {
	return ID{uuid: uuid.New()}
}

// ParseID parses the canonical textual form produced by String.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID{uuid: u}, nil
}

// IDFromBytes builds an ID from a 16-byte slice.
func IDFromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, err
	}
	return ID{uuid: u}, nil
}

// Valid reports whether the id is assigned (non-nil).
func (id ID) Valid() bool {
	return id.uuid != uuid.Nil
}

// String returns the canonical textual form.
func (id ID) String() string {
	return id.uuid.String()
}

// Bytes returns the 16-byte big-endian representation.
func (id ID) Bytes() []byte {
	b := id.uuid // copy
	return b[:]
}

// Compare provides a total order over identifiers. It returns -1, 0 or 1.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id.uuid[:], other.uuid[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.uuid.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	id.uuid = u
	return nil
}

// Type identifies the role a connection plays in the scene.
type Type uint8

// Connection roles
const (
	TypeInput Type = iota
	TypeMonitoring
)

// String returns the string representation of Type
func (t Type) String() string {
	switch t {
	case TypeInput:
		return "input"
	case TypeMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// State is the registry lifecycle state of a connection. A connection is
// created New by identity negotiation and becomes Active exactly once, when
// the client completes detail negotiation.
type State uint8

// Connection lifecycle states
const (
	StateNew State = iota
	StateActive
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}
