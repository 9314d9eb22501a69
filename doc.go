// Package scenesync synchronizes object-based audio scene metadata between
// distributed plugin instances and a central coordinator. Input instances
// negotiate an identity over a request/reply control channel, stream their
// item metadata over per-input push channels, and monitoring instances
// receive consolidated scene snapshots over a broadcast channel backed by a
// last-scene cache for late joiners.
//
// The packages divide along the protocol layers: connection and message
// define identities and the wire codec, transport implements the three
// channel disciplines over NATS, server and client implement the two sides
// of the handshake, and store holds the central metadata aggregate with its
// derived scene view, auto-mode ordering and project-load reconciliation.
package scenesync
