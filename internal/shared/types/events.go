package types

// Message types
const (
	MessagePing             = "ping"
	MessageResourceRequest  = "resource.request"
	MessageResourceUpdated  = "resource.updated"
	MessageTemplateApplied  = "template.applied"
	MessageConflictDetected = "conflict.detected"
)

// ResourceType selects a resource namespace
type ResourceType string

const (
	ResourceStyle     ResourceType = "style"
	ResourceComponent ResourceType = "component"
	ResourceScript    ResourceType = "script"
	ResourceData      ResourceType = "data"
)

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceStyle, ResourceComponent, ResourceScript, ResourceData:
		return true
	default:
		return false
	}
}

// ResourceTypes lists every resource type
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceStyle, ResourceComponent, ResourceScript, ResourceData}
}

// Ping is the liveness probe
type Ping struct {
	Type string `json:"type"`
}

// Pong answers a Ping
type Pong struct {
	Pong bool `json:"pong"`
}

// ResourceRequest asks a peer for one resource
type ResourceRequest struct {
	Type         string       `json:"type"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
}

// ResourceResponse answers a ResourceRequest
type ResourceResponse struct {
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	Found        bool         `json:"found"`
	Value        any          `json:"value"`
	Version      int64        `json:"version,omitempty"`
}

// ResourceUpdated announces a changed resource
type ResourceUpdated struct {
	Type         string       `json:"type"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	Version      int64        `json:"version"`
}

// TemplateApplied reports a template adapted for the receiving context
type TemplateApplied struct {
	Type       string            `json:"type"`
	TemplateID string            `json:"templateId"`
	Target     string            `json:"target"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// ConflictDetected reports a naming collision between contexts
type ConflictDetected struct {
	Type     string   `json:"type"`
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Sources  []string `json:"sources"`
	Resolved bool     `json:"resolved"`
}
