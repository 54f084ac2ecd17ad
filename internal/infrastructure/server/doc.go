// Package server assembles the bridge hub daemon.
//
// One process hosts a WebSocket relay, an in-process host bridge attached to
// it, and the resource registry that bridge serves. Remote contexts connect to
// the relay with their own origin and talk to the host, or to each other,
// through it.
//
// Routes:
//   - GET /bridge: WebSocket upgrade for peer contexts (path configurable)
//   - GET /health: origins, connection count and pending requests
//   - GET /metrics: Prometheus exposition
//
// Host handlers:
//   - ping: answers {"pong": true}
//   - resource.request: serves shared resources from the registry
//   - template.applied, conflict.detected: logged
//
// A change to a shared resource is broadcast as resource.updated.
package server
