// Package resources provides the resource registry served to peer contexts.
//
// Resources are keyed by type (style, component, script, data) and id, and
// carry access flags. Only shared resources are answered over the bridge;
// read-only resources cannot be replaced once registered.
//
// Components:
//   - Registry: concurrent key-value store with versioning
//   - Handler: answers resource.request messages
//   - Seeder: loads YAML/TOML manifests from a directory tree on startup
//
// Component values that are strings are sanitized as user-generated HTML
// before they are stored.
//
// Example Usage:
//
//	reg := resources.NewRegistry()
//	_, _ = resources.NewSeeder(reg, "./resources", logger).Seed()
//	b.RegisterHandler(types.MessageResourceRequest, resources.Handler(reg))
package resources
