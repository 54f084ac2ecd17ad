// Package router dispatches inbound requests to message-type handlers.
//
// The message type is the "type" string field of the payload object. A
// handler registered for that type wins over the fallback; with neither, the
// message is a dead letter and is dropped.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envbridge/internal/bridge/envelope"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/monitoring"
)

// Meta describes the message being handled
type Meta struct {
	Source           string
	MessageID        string
	Type             string
	Timestamp        time.Time
	RequiresResponse bool

	respond func(data any) error
}

// Respond answers the current message from a fallback. It is a no-op when the
// sender expects no response or when a response was already sent.
func (m Meta) Respond(data any) error {
	if !m.RequiresResponse || m.respond == nil {
		return nil
	}
	return m.respond(data)
}

// HandlerFunc handles one message type. Its result, or its error, becomes
// the response when the sender asked for one.
type HandlerFunc func(ctx context.Context, payload json.RawMessage, meta Meta) (any, error)

// FallbackFunc receives messages with no specific handler
type FallbackFunc func(ctx context.Context, payload json.RawMessage, meta Meta)

// Responder sends the response envelope for a handled request
type Responder interface {
	Respond(ctx context.Context, meta Meta, result any, failure error) error
}

// Disposition is how an inbound request left the router
type Disposition int

const (
	// DispositionDeadLetter: no handler and no fallback
	DispositionDeadLetter Disposition = iota
	// DispositionResponded: a response envelope was sent
	DispositionResponded
	// DispositionSilent: handled, nothing sent back
	DispositionSilent
	// DispositionRespondFailed: a response was due but could not be sent
	DispositionRespondFailed
)

// String returns the string representation of the disposition
func (d Disposition) String() string {
	switch d {
	case DispositionDeadLetter:
		return "dead-letter"
	case DispositionResponded:
		return "responded"
	case DispositionSilent:
		return "silent"
	case DispositionRespondFailed:
		return "respond-failed"
	default:
		return "unknown"
	}
}

// Router holds the handler registry of one bridge
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback FallbackFunc

	responder Responder
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the diagnostic logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics enables handler error counting
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router that sends responses through responder
func New(responder Responder, opts ...Option) *Router {
	r := &Router{
		handlers:  make(map[string]HandlerFunc),
		responder: responder,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h for typ, replacing any previous handler. A nil h removes it.
func (r *Router) Handle(typ string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, typ)
		return
	}
	r.handlers[typ] = h
}

// Fallback sets the catch-all callback. A nil fn removes it.
func (r *Router) Fallback(fn FallbackFunc) {
	r.mu.Lock()
	r.fallback = fn
	r.mu.Unlock()
}

// Types lists registered message types in sorted order
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// MessageType reads payload.type without decoding the whole payload
func MessageType(payload json.RawMessage) string {
	res := gjson.GetBytes(payload, "type")
	if res.Type != gjson.String {
		return ""
	}
	return res.Str
}

// Dispatch runs the handler for env. It never returns handler failures;
// they become error responses or log entries.
func (r *Router) Dispatch(ctx context.Context, env *envelope.Envelope) Disposition {
	meta := Meta{
		Source:           env.Source,
		MessageID:        env.ID,
		Type:             MessageType(env.Payload),
		Timestamp:        env.Time(),
		RequiresResponse: env.RequiresResponse,
	}

	r.mu.RLock()
	var h HandlerFunc
	if meta.Type != "" {
		h = r.handlers[meta.Type]
	}
	fb := r.fallback
	r.mu.RUnlock()

	switch {
	case h != nil:
		return r.runHandler(ctx, h, env.Payload, meta)
	case fb != nil:
		return r.runFallback(ctx, fb, env.Payload, meta)
	default:
		r.logger.Debug("Dead letter: no handler",
			zap.String("type", meta.Type),
			zap.String("message_id", meta.MessageID),
			zap.String("source", meta.Source),
		)
		return DispositionDeadLetter
	}
}

func (r *Router) runHandler(ctx context.Context, h HandlerFunc, payload json.RawMessage, meta Meta) Disposition {
	result, err := invoke(func() (any, error) { return h(ctx, payload, meta) })
	if err != nil {
		r.metrics.RecordHandlerError(meta.Type)
		if !meta.RequiresResponse {
			r.logger.Debug("Handler failed, no response expected",
				zap.String("type", meta.Type),
				zap.String("message_id", meta.MessageID),
				zap.Error(err),
			)
			return DispositionSilent
		}
		return r.reply(ctx, meta, nil, err)
	}
	if !meta.RequiresResponse {
		return DispositionSilent
	}
	return r.reply(ctx, meta, result, nil)
}

func (r *Router) runFallback(ctx context.Context, fb FallbackFunc, payload json.RawMessage, meta Meta) Disposition {
	var responded atomic.Bool
	var sendErr atomic.Value
	meta.respond = func(data any) error {
		if !responded.CompareAndSwap(false, true) {
			return nil
		}
		err := r.responder.Respond(ctx, meta, data, nil)
		if err != nil {
			sendErr.Store(err)
		}
		return err
	}

	_, err := invoke(func() (any, error) {
		fb(ctx, payload, meta)
		return nil, nil
	})
	if err != nil {
		r.metrics.RecordHandlerError(meta.Type)
		if meta.RequiresResponse && responded.CompareAndSwap(false, true) {
			return r.reply(ctx, meta, nil, err)
		}
		r.logger.Debug("Fallback failed",
			zap.String("message_id", meta.MessageID),
			zap.Error(err),
		)
	}

	switch {
	case !responded.Load():
		return DispositionSilent
	case sendErr.Load() != nil:
		return DispositionRespondFailed
	default:
		return DispositionResponded
	}
}

func (r *Router) reply(ctx context.Context, meta Meta, result any, failure error) Disposition {
	if err := r.responder.Respond(ctx, meta, result, failure); err != nil {
		r.logger.Warn("Failed to send response",
			zap.String("type", meta.Type),
			zap.String("message_id", meta.MessageID),
			zap.String("target", meta.Source),
			zap.Error(err),
		)
		return DispositionRespondFailed
	}
	return DispositionResponded
}

// invoke converts a handler panic into an error
func invoke(fn func() (any, error)) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = fmt.Errorf("handler panic: %w", e)
			} else {
				err = fmt.Errorf("handler panic: %v", rec)
			}
		}
	}()
	return fn()
}
