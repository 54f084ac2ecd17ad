package envelope

import (
	"encoding/json"
	"time"
)

// TargetAny addresses every listening context
const TargetAny = "*"

// Status is the outcome carried by a response envelope
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the defined statuses
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusError
}

// Envelope is the unit exchanged between contexts. Envelopes are never
// mutated after encoding; the encoded bytes are what the transport carries.
type Envelope struct {
	ID               string          `json:"id"`
	ResponseToID     string          `json:"responseToId,omitempty"`
	Timestamp        int64           `json:"timestamp"`
	Source           string          `json:"source"`
	Target           string          `json:"target,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	RequiresResponse bool            `json:"requiresResponse,omitempty"`
	IsResponse       bool            `json:"isResponse,omitempty"`
	Status           Status          `json:"status,omitempty"`
}

// ErrorPayload is the payload of a response whose status is error
type ErrorPayload struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Time returns the creation time
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Age returns how long ago the envelope was created relative to now
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.Time())
}

// EncodeOptions controls how a request envelope is built
type EncodeOptions struct {
	RequiresResponse bool
}
