// Package errs defines the error taxonomy shared by every bridge component.
//
// Synchronous kinds (InvalidMessage, TargetRequired, MessageTooLarge) are
// returned directly by Send. Asynchronous kinds (ResponseTimeout, RemoteError,
// BridgeClosed, Canceled) surface only through a pending call's Wait.
//
// Example Usage:
//
//	if errors.Is(err, errs.ErrResponseTimeout) {
//		var be *errs.Error
//		errors.As(err, &be)
//		logger.Warn("peer too slow", zap.Duration("elapsed", be.Elapsed))
//	}
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a bridge failure
type Kind string

const (
	KindInvalidMessage  Kind = "InvalidMessage"
	KindTargetRequired  Kind = "TargetRequired"
	KindMessageTooLarge Kind = "MessageTooLarge"
	KindResponseTimeout Kind = "ResponseTimeout"
	KindRemoteError     Kind = "RemoteError"
	KindBridgeClosed    Kind = "BridgeClosed"
	KindTransportError  Kind = "TransportError"
	KindCanceled        Kind = "Canceled"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidMessage  = &Error{Kind: KindInvalidMessage}
	ErrTargetRequired  = &Error{Kind: KindTargetRequired}
	ErrMessageTooLarge = &Error{Kind: KindMessageTooLarge}
	ErrResponseTimeout = &Error{Kind: KindResponseTimeout}
	ErrRemoteError     = &Error{Kind: KindRemoteError}
	ErrBridgeClosed    = &Error{Kind: KindBridgeClosed}
	ErrTransport       = &Error{Kind: KindTransportError}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

// Error is the single error type produced by the bridge
type Error struct {
	Kind      Kind
	Message   string
	MessageID string
	Elapsed   time.Duration
	Details   any
	Err       error
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Timeout builds the ResponseTimeout failure for a pending request
func Timeout(messageID string, elapsed time.Duration) *Error {
	return &Error{
		Kind:      KindResponseTimeout,
		Message:   fmt.Sprintf("no response after %s", elapsed.Round(time.Millisecond)),
		MessageID: messageID,
		Elapsed:   elapsed,
	}
}

// Remote builds the failure reported by a peer in an error response
func Remote(messageID, message string, details any) *Error {
	if message == "" {
		message = "remote handler failed"
	}
	return &Error{Kind: KindRemoteError, Message: message, MessageID: messageID, Details: details}
}

// Closed builds the failure delivered to requests pending at teardown
func Closed(messageID string) *Error {
	return &Error{Kind: KindBridgeClosed, Message: "bridge closed", MessageID: messageID}
}

// WithDetails returns a copy carrying details
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessageID returns a copy bound to a message id
func (e *Error) WithMessageID(id string) *Error {
	cp := *e
	cp.MessageID = id
	return &cp
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.MessageID != "" {
		msg += " (message " + e.MessageID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so sentinels compare equal to any error of their kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ErrorDetails exposes Details to the router's error response
func (e *Error) ErrorDetails() any {
	return e.Details
}

// Detailed is implemented by errors that carry structured details for peers
type Detailed interface {
	error
	ErrorDetails() any
}

// KindOf returns the kind of err, or "" when err is not a bridge error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailsOf extracts structured details from err, if any
func DetailsOf(err error) any {
	var d Detailed
	if errors.As(err, &d) {
		return d.ErrorDetails()
	}
	return nil
}
