// Package transport defines the one-way channel bridges talk over.
//
// A transport only moves opaque bytes. It attests the sender's origin on
// every inbound message, the way a browser stamps event.origin, and makes no
// promise about delivery or ordering across senders.
//
// Implementations:
//   - memory: in-process network, used by tests and embedded setups
//   - ws: WebSocket relay hub and client
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Post on a closed endpoint
var ErrClosed = errors.New("transport closed")

// Inbound is one message as delivered by a transport
type Inbound struct {
	// Origin is the sender origin as attested by the transport, not as
	// claimed inside the envelope
	Origin string
	Data   []byte
}

// Listener receives inbound messages, one at a time, in delivery order
type Listener func(Inbound)

// Transport is a one-way asynchronous message channel
type Transport interface {
	// Post hands data to the transport addressed to target origin ("*" for any).
	// It must not invoke listeners synchronously.
	Post(ctx context.Context, target string, data []byte) error
	// Subscribe installs the listener; the returned func removes it
	Subscribe(l Listener) (unsubscribe func())
}

// Mailbox is an unbounded FIFO that delivers to a listener on its own goroutine
type Mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Inbound
	listener Listener
	gen      uint64
	detached bool
	closed   bool
	done     chan struct{}
}

// NewMailbox starts the delivery goroutine
func NewMailbox() *Mailbox {
	m := &Mailbox{done: make(chan struct{})}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

// Push enqueues a message; it reports false once the mailbox is closed.
// Messages arriving after the listener unsubscribed are discarded until a
// new listener subscribes.
func (m *Mailbox) Push(in Inbound) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.detached {
		return true
	}
	m.queue = append(m.queue, in)
	m.cond.Signal()
	return true
}

// Subscribe sets the listener. Messages queued before the first listener
// exists wait for it; unsubscribing discards the queue.
func (m *Mailbox) Subscribe(l Listener) func() {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.listener = l
	m.detached = false
	m.cond.Signal()
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.gen == gen {
			m.listener = nil
			m.detached = true
			m.queue = nil
		}
		m.mu.Unlock()
	}
}

// Close stops delivery; queued messages are discarded. A delivery already in
// progress runs to completion.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Done is closed when the delivery goroutine has exited
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Len returns the number of undelivered messages
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for !m.closed && (len(m.queue) == 0 || m.listener == nil) {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		in := m.queue[0]
		m.queue[0] = Inbound{}
		m.queue = m.queue[1:]
		l := m.listener
		m.mu.Unlock()

		l(in)
	}
}
