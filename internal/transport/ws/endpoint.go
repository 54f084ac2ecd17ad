package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/GriffinCanCode/envbridge/internal/transport"
)

// ErrNotJSON is returned when posting bytes a relay frame cannot carry
var ErrNotJSON = errors.New("ws: data is not a JSON document")

// Endpoint is an in-process peer of the hub
type Endpoint struct {
	hub     *Hub
	org     string
	mailbox *transport.Mailbox

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Endpoint)(nil)

func newEndpoint(h *Hub, origin string) *Endpoint {
	return &Endpoint{hub: h, org: origin, mailbox: transport.NewMailbox()}
}

func (e *Endpoint) origin() string { return e.org }

// Origin returns the origin the hub attests for this endpoint
func (e *Endpoint) Origin() string { return e.org }

// Post relays data to the peers registered for target
func (e *Endpoint) Post(ctx context.Context, target string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !json.Valid(data) {
		return ErrNotJSON
	}
	e.hub.route(e, target, data)
	return nil
}

// Subscribe installs the endpoint's listener
func (e *Endpoint) Subscribe(l transport.Listener) func() {
	return e.mailbox.Subscribe(l)
}

func (e *Endpoint) deliver(from string, data []byte) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	return e.mailbox.Push(transport.Inbound{Origin: from, Data: buf})
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.mailbox.Close()
}

// Close detaches the endpoint from the hub
func (e *Endpoint) Close() error {
	e.hub.remove(e)
	e.shutdown()
	return nil
}
