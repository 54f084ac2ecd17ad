package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/envbridge/internal/bridge/correlation"
	"github.com/GriffinCanCode/envbridge/internal/bridge/envelope"
	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
	"github.com/GriffinCanCode/envbridge/internal/bridge/origin"
	"github.com/GriffinCanCode/envbridge/internal/bridge/router"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envbridge/internal/shared/id"
	"github.com/GriffinCanCode/envbridge/internal/transport"
)

// Bridge is the public entry point of one context
type Bridge struct {
	cfg       Config
	transport transport.Transport
	codec     *envelope.Codec
	policy    *origin.Policy
	table     *correlation.Table
	router    *router.Router

	logger  *logging.Logger
	diag    *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
	ids     *id.Generator
	observe func(InboundEvent)

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ router.Responder = (*Bridge)(nil)

// New creates a bridge and subscribes it to tr
func New(cfg Config, tr transport.Transport, opts ...Option) (*Bridge, error) {
	if cfg.Origin == "" {
		return nil, fmt.Errorf("bridge origin is required")
	}
	if tr == nil {
		return nil, fmt.Errorf("bridge transport is required")
	}
	cfg = cfg.withDefaults()

	b := &Bridge{
		cfg:       cfg,
		transport: tr,
		policy:    origin.NewPolicy(cfg.AllowedOrigins...),
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.logger = b.logger.Named("bridge").With(zap.String("origin", cfg.Origin))
	b.diag = b.logger.Diagnostic(cfg.Debug)

	codecOpts := []envelope.CodecOption{
		envelope.WithMaxMessageSize(cfg.MaxMessageSize),
		envelope.WithMaxAge(cfg.MaxMessageAge),
		envelope.WithClock(b.now),
	}
	if b.ids != nil {
		codecOpts = append(codecOpts, envelope.WithIDGenerator(b.ids))
	}
	b.codec = envelope.NewCodec(cfg.Origin, codecOpts...)
	b.table = correlation.NewTable(
		correlation.WithClock(b.now),
		correlation.WithSettleHook(b.settled),
	)
	b.router = router.New(b, router.WithLogger(b.diag), router.WithMetrics(b.metrics))

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.unsubscribe = tr.Subscribe(b.Receive)

	b.logger.Info("Bridge ready",
		zap.Strings("allowed_origins", b.policy.Patterns()),
		zap.Duration("message_timeout", cfg.MessageTimeout),
		zap.Int("max_message_size", cfg.MaxMessageSize),
		zap.String("security_level", cfg.SecurityLevel),
	)
	return b, nil
}

// Origin returns the origin stamped on outbound envelopes
func (b *Bridge) Origin() string {
	return b.cfg.Origin
}

// Pending returns the number of requests awaiting a response
func (b *Bridge) Pending() int {
	return b.table.Len()
}

// AllowOrigins replaces the allowlist
func (b *Bridge) AllowOrigins(patterns []string) {
	b.policy.Replace(patterns)
	b.logger.Info("Allowed origins replaced", zap.Strings("allowed_origins", patterns))
}

// AddOrigins appends patterns to the allowlist
func (b *Bridge) AddOrigins(patterns ...string) {
	b.policy.Add(patterns...)
}

// AllowedOrigins returns a copy of the allowlist
func (b *Bridge) AllowedOrigins() []string {
	return b.policy.Patterns()
}

// IsAllowed reports whether messages from origin are accepted
func (b *Bridge) IsAllowed(o string) bool {
	return b.policy.IsAllowed(o)
}

// RegisterHandler routes messages whose payload type is typ to h
func (b *Bridge) RegisterHandler(typ string, h router.HandlerFunc) {
	b.router.Handle(typ, h)
}

// OnMessage registers the fallback for messages with no specific handler
func (b *Bridge) OnMessage(fn router.FallbackFunc) {
	b.router.Fallback(fn)
}

// Send encodes payload for target and hands it to the transport. With
// RequiresResponse the returned call settles on the response, a timeout or
// Close; otherwise it is already settled as sent.
//
// Errors detected before anything reaches the transport, and transport post
// failures, are returned directly.
func (b *Bridge) Send(ctx context.Context, payload any, target string, opts SendOptions) (*correlation.Call, error) {
	if b.isClosed() {
		return nil, errs.Closed("")
	}

	env, data, err := b.codec.Encode(payload, target, envelope.EncodeOptions{RequiresResponse: opts.RequiresResponse})
	if err != nil {
		b.diag.Debug("Send rejected", zap.String("target", target), zap.Error(err))
		return nil, err
	}

	var call *correlation.Call
	if opts.RequiresResponse {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = b.cfg.MessageTimeout
		}
		// registered before Post so a same-process reply always finds its entry
		call, err = b.table.Register(env.ID, timeout)
		if err != nil {
			return nil, err
		}
		b.metrics.SetPending(b.table.Len())
	}

	if err := b.transport.Post(ctx, target, data); err != nil {
		failure := errs.Wrap(errs.KindTransportError, err, "post failed").WithMessageID(env.ID)
		if call != nil {
			b.table.Reject(env.ID, failure)
		}
		b.logger.Warn("Failed to post message",
			zap.String("message_id", env.ID),
			zap.String("target", target),
			zap.Error(err),
		)
		return nil, failure
	}

	if call == nil {
		b.metrics.RecordSent("message")
		return correlation.Sent(env.ID), nil
	}
	b.metrics.RecordSent("request")
	return call, nil
}

// Request sends payload expecting a response and waits for it. A timeout of
// zero uses the configured message timeout. When ctx ends first the pending
// entry is rejected with Canceled.
func (b *Bridge) Request(ctx context.Context, payload any, target string, timeout time.Duration) (json.RawMessage, error) {
	call, err := b.Send(ctx, payload, target, SendOptions{RequiresResponse: true, Timeout: timeout})
	if err != nil {
		return nil, err
	}

	reply, err := call.Wait(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrCanceled) {
			b.table.Reject(call.ID(), err)
		}
		return nil, err
	}
	return reply.Payload, nil
}

// Receive is the transport listener. It never returns errors: malformed,
// forbidden and unmatched messages are dropped and only logged in
// diagnostic mode.
func (b *Bridge) Receive(in transport.Inbound) {
	if b.isClosed() {
		b.dropped(in.Origin, "", ReasonClosed, nil)
		return
	}
	b.emit(InboundEvent{Origin: in.Origin, State: InboundReceived})

	if !b.policy.IsAllowed(in.Origin) {
		b.dropped(in.Origin, "", ReasonForbiddenOrigin, nil)
		return
	}

	env, err := b.codec.Decode(in.Data)
	if err != nil {
		var be *errs.Error
		messageID := ""
		if errors.As(err, &be) {
			messageID = be.MessageID
		}
		b.dropped(in.Origin, messageID, ReasonInvalid, err)
		return
	}

	if env.IsResponse {
		b.metrics.RecordReceived("response")
		b.correlate(in.Origin, env)
		return
	}
	b.metrics.RecordReceived("request")
	b.dispatch(in.Origin, env)
}

func (b *Bridge) correlate(from string, env *envelope.Envelope) {
	var matched bool
	if env.Status == envelope.StatusError {
		p := envelope.DecodeError(env)
		matched = b.table.Reject(env.ResponseToID, errs.Remote(env.ResponseToID, p.Message, p.Details))
	} else {
		matched = b.table.Resolve(env.ResponseToID, env.Payload)
	}

	if !matched {
		b.dropped(from, env.ID, ReasonUnmatched, nil)
		return
	}
	b.emit(InboundEvent{Origin: from, MessageID: env.ID, State: InboundCorrelated})
}

func (b *Bridge) dispatch(from string, env *envelope.Envelope) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.dropped(from, env.ID, ReasonClosed, nil)
		return
	}
	b.inflight.Add(1)
	b.mu.RUnlock()

	b.emit(InboundEvent{Origin: from, MessageID: env.ID, State: InboundDispatched})

	go func() {
		defer b.inflight.Done()

		switch b.router.Dispatch(b.ctx, env) {
		case router.DispositionDeadLetter:
			b.dropped(from, env.ID, ReasonDeadLetter, nil)
		case router.DispositionResponded:
			b.emit(InboundEvent{Origin: from, MessageID: env.ID, State: InboundResponded})
		case router.DispositionRespondFailed:
			b.emit(InboundEvent{Origin: from, MessageID: env.ID, State: InboundSilent, Reason: ReasonRespondFailed})
		default:
			b.emit(InboundEvent{Origin: from, MessageID: env.ID, State: InboundSilent})
		}
	}()
}

// Respond sends the response to the message described by meta. A failure
// becomes an error response carrying its message and details. A result that
// cannot be encoded is reported to the requester as an error response.
func (b *Bridge) Respond(ctx context.Context, meta router.Meta, result any, failure error) error {
	var (
		data []byte
		err  error
	)
	if failure != nil {
		data, err = b.encodeFailure(meta, failure)
	} else {
		if result == nil {
			result = map[string]any{}
		}
		_, data, err = b.codec.EncodeResponse(meta.MessageID, meta.Source, envelope.StatusSuccess, result)
		if errors.Is(err, envelope.ErrNullPayload) {
			// a typed nil result answers like a nil one
			_, data, err = b.codec.EncodeResponse(meta.MessageID, meta.Source, envelope.StatusSuccess, map[string]any{})
		}
		if err != nil && !errors.Is(err, errs.ErrTargetRequired) {
			b.diag.Debug("Handler result not encodable",
				zap.String("message_id", meta.MessageID),
				zap.Error(err),
			)
			data, err = b.encodeFailure(meta, err)
		}
	}
	if err != nil {
		return err
	}

	if err := b.transport.Post(ctx, meta.Source, data); err != nil {
		return errs.Wrap(errs.KindTransportError, err, "response post failed").WithMessageID(meta.MessageID)
	}
	b.metrics.RecordSent("response")
	return nil
}

func (b *Bridge) encodeFailure(meta router.Meta, failure error) ([]byte, error) {
	p := envelope.ErrorPayload{Message: failureMessage(failure), Details: errs.DetailsOf(failure)}
	_, data, err := b.codec.EncodeResponse(meta.MessageID, meta.Source, envelope.StatusError, p)
	if err != nil && p.Details != nil {
		// details the codec refuses are dropped, the message still goes out
		p.Details = nil
		_, data, err = b.codec.EncodeResponse(meta.MessageID, meta.Source, envelope.StatusError, p)
	}
	return data, err
}

func failureMessage(err error) string {
	var be *errs.Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}

// Close tears the bridge down. It is idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.unsubscribe()
	rejected := b.table.Close()
	b.cancel()
	b.inflight.Wait()

	b.logger.Info("Bridge closed", zap.Int("rejected_requests", rejected))
	return nil
}

func (b *Bridge) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Bridge) settled(messageID string, state correlation.State, elapsed time.Duration) {
	b.metrics.RecordSettled(state.String(), elapsed)
	b.metrics.SetPending(b.table.Len())
	if state == correlation.StateTimedOut {
		b.diag.Debug("Request timed out",
			zap.String("message_id", messageID),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func (b *Bridge) dropped(from, messageID, reason string, err error) {
	b.metrics.RecordDropped(reason)
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.String("from", from),
	}
	if messageID != "" {
		fields = append(fields, zap.String("message_id", messageID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	b.diag.Debug("Message dropped", fields...)
	b.emit(InboundEvent{Origin: from, MessageID: messageID, State: InboundDropped, Reason: reason, Err: err})
}

func (b *Bridge) emit(ev InboundEvent) {
	if b.observe != nil {
		b.observe(ev)
	}
}
