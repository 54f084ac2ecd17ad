package correlation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
)

// State is the lifecycle stage of an outbound request
type State int

const (
	StatePending State = iota
	StateResolved
	StateRejected
	StateTimedOut
	StateClosed
	// StateSent marks a fire-and-forget message; it never waits for a reply
	StateSent
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed-out"
	case StateClosed:
		return "closed"
	case StateSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Settled reports whether no further transition can happen
func (s State) Settled() bool {
	return s != StatePending
}

// Reply is the fulfilled value of a call
type Reply struct {
	ID      string
	Sent    bool
	Payload json.RawMessage
}

// Decode unmarshals the reply payload into v
func (r Reply) Decode(v any) error {
	return sonic.ConfigStd.Unmarshal(r.Payload, v)
}

// Call is the deferred result of a send. It settles exactly once.
type Call struct {
	id      string
	started time.Time
	done    chan struct{}
	timer   *time.Timer

	mu    sync.Mutex
	state State
	reply Reply
	err   error
}

func newCall(id string, started time.Time) *Call {
	return &Call{
		id:      id,
		started: started,
		done:    make(chan struct{}),
		state:   StatePending,
	}
}

// Sent returns an already-settled call for a message that expects no reply
func Sent(id string) *Call {
	c := newCall(id, time.Now())
	c.settle(StateSent, Reply{ID: id, Sent: true}, nil)
	return c
}

// ID returns the message id the call is correlated by
func (c *Call) ID() string { return c.id }

// Started returns when the request was registered
func (c *Call) Started() time.Time { return c.started }

// Done is closed once the call settles
func (c *Call) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle stage
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the call settles or ctx ends. A ctx ending does not
// settle the call; the table entry stays until its own timeout.
func (c *Call) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return Reply{}, errs.Wrap(errs.KindCanceled, ctx.Err(), "wait abandoned").WithMessageID(c.id)
	}
}

// Result returns the settled outcome without blocking. Before settlement it
// reports the call as still pending.
func (c *Call) Result() (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePending {
		return Reply{}, errs.New(errs.KindInvalidMessage, "call still pending").WithMessageID(c.id)
	}
	return c.reply, c.err
}

// settle is called only by the owner that removed the call from the table
func (c *Call) settle(state State, reply Reply, err error) {
	c.mu.Lock()
	c.state = state
	c.reply = reply
	c.err = err
	c.mu.Unlock()
	close(c.done)
}
