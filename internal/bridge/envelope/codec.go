package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
	"github.com/GriffinCanCode/envbridge/internal/shared/id"
)

// Size and age limits
const (
	DefaultMaxMessageSize = 1 * 1024 * 1024 // 1MB serialized payload ceiling
	DefaultMaxAge         = 60 * time.Second
)

// ErrNullPayload marks a payload that serializes to JSON null: a nil map,
// slice or pointer. Receivers drop such envelopes, so senders refuse them.
var ErrNullPayload = errors.New("payload serializes to null")

var nullJSON = []byte("null")

// api is the std-compatible sonic configuration: sorted map keys, HTML escaping
var api = sonic.ConfigStd

// Codec builds outbound envelopes and validates inbound ones
type Codec struct {
	origin  string
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
	ids     *id.Generator
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithMaxMessageSize sets the serialized payload ceiling in bytes
func WithMaxMessageSize(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithMaxAge sets the oldest inbound message accepted
func WithMaxAge(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator replaces the default message id source
func WithIDGenerator(g *id.Generator) CodecOption {
	return func(c *Codec) {
		if g != nil {
			c.ids = g
		}
	}
}

// NewCodec creates a codec stamping envelopes with the given source origin
func NewCodec(origin string, opts ...CodecOption) *Codec {
	c := &Codec{
		origin:  origin,
		maxSize: DefaultMaxMessageSize,
		maxAge:  DefaultMaxAge,
		now:     time.Now,
		ids:     id.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin returns the source origin stamped on outbound envelopes
func (c *Codec) Origin() string { return c.origin }

// MaxMessageSize returns the payload ceiling in bytes
func (c *Codec) MaxMessageSize() int { return c.maxSize }

// Encode builds a request envelope and its wire bytes
func (c *Codec) Encode(payload any, target string, opts EncodeOptions) (*Envelope, []byte, error) {
	if target == "" {
		return nil, nil, errs.New(errs.KindTargetRequired, "target origin is required")
	}
	body, err := c.encodePayload(payload)
	if err != nil {
		return nil, nil, err
	}

	env := &Envelope{
		ID:               c.ids.NewMessageID().String(),
		Timestamp:        c.now().UnixMilli(),
		Source:           c.origin,
		Target:           target,
		Payload:          body,
		RequiresResponse: opts.RequiresResponse,
	}
	return c.marshal(env)
}

// EncodeResponse builds the response to requestID addressed to the requester
func (c *Codec) EncodeResponse(requestID, to string, status Status, payload any) (*Envelope, []byte, error) {
	if requestID == "" {
		return nil, nil, errs.New(errs.KindInvalidMessage, "response requires the request id")
	}
	if to == "" {
		return nil, nil, errs.New(errs.KindTargetRequired, "response target origin is required")
	}
	if !status.Valid() {
		return nil, nil, errs.Newf(errs.KindInvalidMessage, "unknown status %q", status)
	}
	body, err := c.encodePayload(payload)
	if err != nil {
		return nil, nil, err
	}

	env := &Envelope{
		ID:           c.ids.NewMessageID().String(),
		ResponseToID: requestID,
		Timestamp:    c.now().UnixMilli(),
		Source:       c.origin,
		Target:       to,
		Payload:      body,
		IsResponse:   true,
		Status:       status,
	}
	return c.marshal(env)
}

// Decode validates raw wire bytes. Any failure is KindInvalidMessage.
func (c *Codec) Decode(raw []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errs.New(errs.KindInvalidMessage, "message is not an object")
	}

	var env Envelope
	if err := api.Unmarshal(trimmed, &env); err != nil {
		return nil, errs.Wrap(errs.KindInvalidMessage, err, "malformed envelope")
	}

	switch {
	case env.ID == "":
		return nil, errs.New(errs.KindInvalidMessage, "missing id")
	case env.Timestamp == 0:
		return nil, errs.New(errs.KindInvalidMessage, "missing timestamp").WithMessageID(env.ID)
	case env.Source == "":
		return nil, errs.New(errs.KindInvalidMessage, "missing source").WithMessageID(env.ID)
	case len(env.Payload) == 0 || string(env.Payload) == "null":
		return nil, errs.New(errs.KindInvalidMessage, "missing payload").WithMessageID(env.ID)
	}

	age := env.Age(c.now())
	if age < 0 {
		return nil, errs.Newf(errs.KindInvalidMessage, "timestamp %s in the future", (-age).Round(time.Millisecond)).
			WithMessageID(env.ID)
	}
	if age > c.maxAge {
		return nil, errs.Newf(errs.KindInvalidMessage, "message expired, age %s exceeds %s", age.Round(time.Millisecond), c.maxAge).
			WithMessageID(env.ID)
	}

	if env.IsResponse {
		if env.ResponseToID == "" {
			return nil, errs.New(errs.KindInvalidMessage, "response without responseToId").WithMessageID(env.ID)
		}
		if !env.Status.Valid() {
			return nil, errs.Newf(errs.KindInvalidMessage, "response with status %q", env.Status).WithMessageID(env.ID)
		}
	}
	return &env, nil
}

// DecodeError reads the payload of an error response
func DecodeError(env *Envelope) ErrorPayload {
	var p ErrorPayload
	if err := api.Unmarshal(env.Payload, &p); err != nil {
		p.Message = string(env.Payload)
	}
	return p
}

// encodePayload checks plainness and size before anything reaches a transport
func (c *Codec) encodePayload(payload any) (json.RawMessage, error) {
	if err := checkPlain(payload); err != nil {
		return nil, errs.Wrap(errs.KindInvalidMessage, err, "payload is not a plain structured value")
	}

	// raw payloads go through the same compaction and escaping as the
	// envelope, so the measured length is the length on the wire
	body, err := api.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidMessage, err, "payload could not be serialized")
	}
	if bytes.Equal(body, nullJSON) {
		return nil, errs.Wrap(errs.KindInvalidMessage, ErrNullPayload, "payload is required")
	}

	if len(body) > c.maxSize {
		return nil, errs.Newf(errs.KindMessageTooLarge, "payload is %d bytes, limit %d", len(body), c.maxSize)
	}
	return body, nil
}

func (c *Codec) marshal(env *Envelope) (*Envelope, []byte, error) {
	data, err := api.Marshal(env)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindInvalidMessage, err, "envelope could not be serialized").
			WithMessageID(env.ID)
	}
	return env, data, nil
}
