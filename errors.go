package asnet

import "errors"

// Errors returned directly by Host operations. Failures scoped to a single
// connection are never returned from Service; they surface as a Disconnect
// event carrying the reason instead, and the rest of the loop keeps running.
var (
	// ErrHostClosed is returned by every operation on a Host after Close.
	ErrHostClosed = errors.New("asnet: host is closed")

	// ErrUnknownPeer is returned when an operation references a connection
	// identifier that is not (or no longer) owned by the Host.
	ErrUnknownPeer = errors.New("asnet: unknown peer")

	// ErrPeerClosed is returned by Send once a peer is draining toward
	// shutdown or already disconnected.
	ErrPeerClosed = errors.New("asnet: peer is closing or closed")

	// ErrEmptyPayload is returned by Send for zero-length payloads, which
	// the wire format does not admit.
	ErrEmptyPayload = errors.New("asnet: empty payload")

	// ErrPacketTooLarge is returned by Send when the payload exceeds the
	// Host's maximum frame length.
	ErrPacketTooLarge = errors.New("asnet: packet exceeds maximum frame length")

	// ErrMalformedFrame reports a protocol violation on the inbound stream:
	// a frame header declaring a zero or over-limit payload length. It is
	// fatal to that connection only.
	ErrMalformedFrame = errors.New("asnet: malformed frame")
)
