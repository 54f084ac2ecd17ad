/*
Package bridge connects independently rendered contexts over an untrusted
one-way transport.

A Bridge owns an origin allowlist, a handler registry and a table of pending
requests. Nothing is shared between bridges, so several can run in one process.

Outbound:

	Send -> Codec.Encode -> Table.Register (when a response is required) -> Transport.Post

Inbound, on the transport's delivery goroutine:

	Receive -> Policy.IsAllowed -> Codec.Decode
	        -> response: Table.Resolve / Table.Reject
	        -> request:  Router.Dispatch on its own goroutine -> Respond

Handlers run outside the delivery goroutine, so a handler may itself call
Request on the same bridge. Close rejects every pending request with
BridgeClosed, stops their timers and waits for running handlers; it must not be
called from inside a handler. Close unsubscribes but does not close the
transport; mailbox-backed transports discard what arrives afterwards, and the
owner closes the endpoint when it is done with it.

Example Usage:

	net := memory.NewNetwork()
	host, _ := bridge.New(bridge.Config{
		Origin:         "https://host.test",
		AllowedOrigins: []string{"https://*.widgets.test"},
	}, net.Connect("https://host.test"))
	defer host.Close()

	host.RegisterHandler("ping", func(ctx context.Context, _ json.RawMessage, _ router.Meta) (any, error) {
		return map[string]bool{"pong": true}, nil
	})
*/
package bridge
