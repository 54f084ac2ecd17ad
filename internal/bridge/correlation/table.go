// Package correlation tracks requests awaiting a response.
//
// Every entry is removed from the table before its call is settled, and every
// settle path starts by removing the entry. Whichever of resolve, reject,
// timeout or close removes the entry first is the only one that settles it;
// the others find nothing and return false.
package correlation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
)

// SettleFunc observes every settlement, e.g. for metrics
type SettleFunc func(id string, state State, elapsed time.Duration)

// Table owns all pending calls of one bridge
type Table struct {
	mu      sync.Mutex
	entries map[string]*Call
	closed  bool

	now      func() time.Time
	onSettle SettleFunc
}

// Option configures a Table
type Option func(*Table)

// WithClock replaces time.Now for elapsed-time reporting
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSettleHook registers an observer for settlements
func WithSettleHook(fn SettleFunc) Option {
	return func(t *Table) {
		t.onSettle = fn
	}
}

// NewTable creates an empty table
func NewTable(opts ...Option) *Table {
	t := &Table{
		entries: make(map[string]*Call),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a pending call for id that times out after timeout
func (t *Table) Register(id string, timeout time.Duration) (*Call, error) {
	if id == "" {
		return nil, errs.New(errs.KindInvalidMessage, "cannot register an empty id")
	}
	if timeout <= 0 {
		return nil, errs.Newf(errs.KindInvalidMessage, "timeout must be positive, got %s", timeout)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errs.Closed(id)
	}
	if _, exists := t.entries[id]; exists {
		return nil, errs.New(errs.KindInvalidMessage, fmt.Sprintf("request %s already pending", id))
	}

	call := newCall(id, t.now())
	call.timer = time.AfterFunc(timeout, func() { t.expire(call) })
	t.entries[id] = call
	return call, nil
}

// Resolve fulfills the call for id. Unknown, settled or timed-out ids are ignored.
func (t *Table) Resolve(id string, payload json.RawMessage) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	t.finish(call, StateResolved, Reply{ID: id, Sent: true, Payload: payload}, nil)
	return true
}

// Reject fails the call for id with err. Unknown ids are ignored.
func (t *Table) Reject(id string, err error) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	t.finish(call, StateRejected, Reply{}, err)
	return true
}

// Close rejects every pending call with BridgeClosed and refuses new ones.
// It returns how many calls were rejected.
func (t *Table) Close() int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	calls := make([]*Call, 0, len(t.entries))
	for id, call := range t.entries {
		call.timer.Stop()
		delete(t.entries, id)
		calls = append(calls, call)
	}
	t.mu.Unlock()

	for _, call := range calls {
		t.finish(call, StateClosed, Reply{}, errs.Closed(call.id))
	}
	return len(calls)
}

// Len returns the number of pending calls
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Has reports whether id is pending
func (t *Table) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// take removes the entry and stops its timer; nil when absent
func (t *Table) take(id string) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	call.timer.Stop()
	return call
}

// expire runs on the timer goroutine
func (t *Table) expire(call *Call) {
	t.mu.Lock()
	current, ok := t.entries[call.id]
	if !ok || current != call {
		t.mu.Unlock()
		return
	}
	delete(t.entries, call.id)
	t.mu.Unlock()

	elapsed := t.now().Sub(call.started)
	t.finish(call, StateTimedOut, Reply{}, errs.Timeout(call.id, elapsed))
}

func (t *Table) finish(call *Call, state State, reply Reply, err error) {
	call.settle(state, reply, err)
	if t.onSettle != nil {
		t.onSettle(call.id, state, t.now().Sub(call.started))
	}
}
