// Package memory provides an in-process transport network.
//
// Every endpoint has an origin and a mailbox. Posting to an origin delivers a
// copy to every endpoint registered under it; posting to "*" delivers to every
// endpoint except the sender. Delivery is asynchronous and FIFO per receiver.
package memory

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/envbridge/internal/transport"
)

const targetAny = "*"

// Tap observes every message routed by the network; returning false drops it
type Tap func(from, to string, data []byte) bool

// Network routes messages between endpoints in the same process
type Network struct {
	mu        sync.RWMutex
	endpoints map[string][]*Endpoint
	tap       Tap
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string][]*Endpoint)}
}

// SetTap installs a hook that can observe or drop traffic
func (n *Network) SetTap(tap Tap) {
	n.mu.Lock()
	n.tap = tap
	n.mu.Unlock()
}

// Connect registers a new endpoint for origin
func (n *Network) Connect(origin string) *Endpoint {
	ep := &Endpoint{
		network: n,
		origin:  origin,
		mailbox: transport.NewMailbox(),
	}
	n.mu.Lock()
	n.endpoints[origin] = append(n.endpoints[origin], ep)
	n.mu.Unlock()
	return ep
}

func (n *Network) route(from *Endpoint, target string, data []byte) {
	n.mu.RLock()
	tap := n.tap
	var receivers []*Endpoint
	if target == targetAny {
		for _, eps := range n.endpoints {
			for _, ep := range eps {
				if ep != from {
					receivers = append(receivers, ep)
				}
			}
		}
	} else {
		receivers = append(receivers, n.endpoints[target]...)
	}
	n.mu.RUnlock()

	for _, ep := range receivers {
		if tap != nil && !tap(from.origin, ep.origin, data) {
			continue
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		ep.mailbox.Push(transport.Inbound{Origin: from.origin, Data: buf})
	}
}

func (n *Network) remove(ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eps := n.endpoints[ep.origin]
	for i, e := range eps {
		if e == ep {
			n.endpoints[ep.origin] = append(eps[:i:i], eps[i+1:]...)
			break
		}
	}
	if len(n.endpoints[ep.origin]) == 0 {
		delete(n.endpoints, ep.origin)
	}
}

// Endpoint is one context's attachment to the network
type Endpoint struct {
	network *Network
	origin  string
	mailbox *transport.Mailbox

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Endpoint)(nil)

// Origin returns the origin the network attests for this endpoint
func (e *Endpoint) Origin() string { return e.origin }

// Post routes data to target. Unroutable targets are silently dropped.
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
	e.network.route(e, target, data)
	return nil
}

// Subscribe installs the endpoint's listener
func (e *Endpoint) Subscribe(l transport.Listener) func() {
	return e.mailbox.Subscribe(l)
}

// Inject delivers data as if it came from origin, bypassing routing.
// Tests use it to simulate forged or replayed traffic.
func (e *Endpoint) Inject(origin string, data []byte) {
	e.mailbox.Push(transport.Inbound{Origin: origin, Data: data})
}

// Close detaches the endpoint and stops delivery
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.network.remove(e)
	e.mailbox.Close()
	return nil
}
