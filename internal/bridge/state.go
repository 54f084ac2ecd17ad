package bridge

// InboundState tracks one inbound message through the bridge:
//
//	Received -> Dropped
//	Received -> Correlated                 (responses)
//	Received -> Dispatched -> Responded | Silent | Dropped (dead letter)
type InboundState int

const (
	InboundReceived InboundState = iota
	InboundDropped
	InboundCorrelated
	InboundDispatched
	InboundResponded
	InboundSilent
)

// String returns the string representation of the state
func (s InboundState) String() string {
	switch s {
	case InboundReceived:
		return "received"
	case InboundDropped:
		return "dropped"
	case InboundCorrelated:
		return "correlated"
	case InboundDispatched:
		return "dispatched"
	case InboundResponded:
		return "responded"
	case InboundSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// Final reports whether the message has left the bridge
func (s InboundState) Final() bool {
	switch s {
	case InboundDropped, InboundCorrelated, InboundResponded, InboundSilent:
		return true
	default:
		return false
	}
}

// Drop reasons
const (
	ReasonForbiddenOrigin = "forbidden_origin"
	ReasonInvalid         = "invalid"
	ReasonUnmatched       = "unmatched_response"
	ReasonDeadLetter      = "dead_letter"
	ReasonClosed          = "closed"
	ReasonRespondFailed   = "respond_failed"
)

// InboundEvent is one transition reported to an inbound observer
type InboundEvent struct {
	Origin    string
	MessageID string
	State     InboundState
	// Reason is set for drops and failed responses
	Reason string
	Err    error
}
