// Command bridged runs the bridge hub: a WebSocket relay that lets isolated
// contexts exchange enveloped messages under an origin allowlist, with an
// in-process host bridge that answers ping and resource requests.
//
// Usage:
//
//	bridged [-config bridged.yaml] [-port 8787] [-resources ./resources]
//
// Without -config, settings come from the environment (BRIDGE_ORIGIN,
// BRIDGE_ALLOWED_ORIGINS, PORT, LOG_LEVEL, ...).
package main
