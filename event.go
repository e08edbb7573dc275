package asnet

// PeerID identifies one connection managed by a Host. Identifiers are
// assigned monotonically and never reused for the lifetime of the Host, so
// a stale identifier can never alias a newer connection. The zero value is
// never assigned.
type PeerID uint64

// EventKind is the type of an event.
type EventKind int

const (
	// EventConnect indicates a connection was established, either by a
	// completed outbound dial or by accepting an inbound connection.
	EventConnect EventKind = iota

	// EventDisconnect indicates a peer was torn down and will generate no
	// further events. The event carries the reason.
	EventDisconnect

	// EventReceive indicates the remote side delivered a packet. The event
	// carries the payload and the channel it was tagged with.
	EventReceive

	// EventTimeout indicates a peer exceeded the idle deadline. It is
	// immediately followed by the peer's terminal Disconnect event.
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why a peer reached its terminal state.
type DisconnectReason int

const (
	// ReasonRequested: the local application asked for the disconnect.
	ReasonRequested DisconnectReason = iota

	// ReasonRemote: the remote side closed the connection.
	ReasonRemote

	// ReasonError: a socket-level failure killed the connection.
	ReasonError

	// ReasonTimeout: the idle deadline elapsed with no bytes moved.
	ReasonTimeout

	// ReasonConnectFailed: an outbound dial did not complete. The core does
	// not retry; reconnecting is the application's decision.
	ReasonConnectFailed

	// ReasonProtocol: the inbound stream violated the framing protocol.
	ReasonProtocol
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonRemote:
		return "remote"
	case ReasonError:
		return "error"
	case ReasonTimeout:
		return "timeout"
	case ReasonConnectFailed:
		return "connect failed"
	case ReasonProtocol:
		return "protocol violation"
	default:
		return "unknown"
	}
}

// Event is one occurrence on a particular peer. Service returns events in
// the order the underlying network activity was observed; all events from
// one Service call precede all events from the next.
type Event struct {
	Kind EventKind

	// Peer identifies the connection the event happened on.
	Peer PeerID

	// Payload holds the packet bytes of an EventReceive. Ownership passes
	// to the application; the Host keeps no reference.
	Payload []byte

	// Channel is the logical channel tag of an EventReceive.
	Channel byte

	// Reason is set on EventDisconnect.
	Reason DisconnectReason
}
