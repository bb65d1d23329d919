package session

// ConnectionState tracks the socket lifecycle for one session. Only
// StateConnected permits outbound sends.
type ConnectionState int

const (
	// StateUninitialized is the state before the first connect callback.
	StateUninitialized ConnectionState = iota
	// StateConnected means the socket is up and the conversation is open.
	StateConnected
	// StateDisconnected means the transport dropped; the timeline is kept.
	StateDisconnected
	// StateUserDisconnected means the conversation itself ended: on
	// connect the newest timeline entry was a terminating system message.
	StateUserDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateUserDisconnected:
		return "USER_DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CanSend reports whether outbound actions are permitted in this state.
func (s ConnectionState) CanSend() bool {
	return s == StateConnected
}
