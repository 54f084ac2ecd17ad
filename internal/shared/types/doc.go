// Package types provides the application message types exchanged over a bridge.
//
// The bridge core routes on the payload "type" field only; the shapes below
// are what the resource registry, template engine and conflict detector
// expect to find in the rest of the payload.
//
// Message Types:
//   - ping: liveness probe, answered with {"pong": true}
//   - resource.request: ask a peer for a registered resource
//   - resource.updated: a registered resource changed
//   - template.applied: a template was adapted to the receiving context
//   - conflict.detected: a naming collision between contexts
//
// Example Usage:
//
//	req := types.ResourceRequest{
//	    Type:         types.MessageResourceRequest,
//	    ResourceType: types.ResourceStyle,
//	    ResourceID:   "theme",
//	}
//	raw, err := b.Request(ctx, req, "https://host.example", 0)
package types
