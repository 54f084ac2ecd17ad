// Package ws relays bridge traffic over WebSocket connections.
//
// The Hub accepts connections whose handshake Origin passes the allowlist and
// routes frames by target origin. The sender's handshake origin, not anything
// inside the frame, is what receivers see as Inbound.Origin.
//
// Frames (Client → Hub):
//   - {"target": "<origin or *>", "data": <envelope>}
//
// Frames (Hub → Client):
//   - {"origin": "<sender origin>", "data": <envelope>}
//
// In-process contexts join the same hub with Attach. Frames from a connection
// over its rate limit, malformed frames and frames with no receiver are dropped.
//
// Example Usage:
//
//	hub := ws.NewHub(policy.IsAllowed, ws.WithLogger(logger))
//	hub.Routes(router, "/bridge")
//	local, _ := hub.Attach("https://host.test")
//	client, _ := ws.Dial(ctx, "ws://localhost:8787/bridge", "https://widget.test")
package ws
