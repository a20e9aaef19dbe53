package session

// State is the connection lifecycle of a session.
type State string

const (
	StateCreated         State = "CREATED"
	StateAwaitingPairing State = "AWAITING_PAIRING"
	StateConnecting      State = "CONNECTING"
	StateConnected       State = "CONNECTED"
	StateReconnecting    State = "RECONNECTING"
	StateDisconnected    State = "DISCONNECTED" // reconnect budget exhausted
	StateLoggedOut       State = "LOGGED_OUT"
	StateDeleting        State = "DELETING"
	StateDeleted         State = "DELETED"
)

// CloseReason explains why a protocol connection closed.
type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	ReasonConnectionLost
	ReasonConnectFailure
	ReasonPairingTimeout
	ReasonReplaced
	ReasonLoggedOut
)

func (r CloseReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonConnectFailure:
		return "connect_failure"
	case ReasonPairingTimeout:
		return "pairing_timeout"
	case ReasonReplaced:
		return "replaced"
	case ReasonLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// IsLogout reports whether the network revoked the device link.
func (r CloseReason) IsLogout() bool {
	return r == ReasonLoggedOut
}
