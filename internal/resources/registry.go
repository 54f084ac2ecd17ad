package resources

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/envbridge/internal/shared/types"
)

// Access flags
type Access uint8

const (
	// AccessShared resources may be served to peer contexts
	AccessShared Access = 1 << iota
	// AccessReadOnly resources cannot be replaced or deleted
	AccessReadOnly
)

// Has reports whether all flags in f are set
func (a Access) Has(f Access) bool {
	return a&f == f
}

// Errors
var (
	ErrUnknownType = errors.New("unknown resource type")
	ErrMissingID   = errors.New("resource id is required")
	ErrReadOnly    = errors.New("resource is read-only")
)

// Resource is one registry entry
type Resource struct {
	Type      types.ResourceType
	ID        string
	Value     any
	Access    Access
	Version   int64
	UpdatedAt time.Time
}

type key struct {
	typ types.ResourceType
	id  string
}

// Registry is a concurrent key-value store of resources by type and id
type Registry struct {
	mu       sync.RWMutex
	items    map[key]Resource
	onChange func(Resource)

	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		items:     make(map[key]Resource),
		sanitizer: bluemonday.UGCPolicy(),
		now:       time.Now,
	}
}

// OnChange registers fn to observe every successful Put
func (r *Registry) OnChange(fn func(Resource)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Put stores res, bumping its version. Component markup is sanitized.
func (r *Registry) Put(res Resource) (Resource, error) {
	if !res.Type.Valid() {
		return Resource{}, fmt.Errorf("%w: %q", ErrUnknownType, res.Type)
	}
	if res.ID == "" {
		return Resource{}, ErrMissingID
	}
	if res.Type == types.ResourceComponent {
		if markup, ok := res.Value.(string); ok {
			res.Value = r.sanitizer.Sanitize(markup)
		}
	}

	r.mu.Lock()
	k := key{res.Type, res.ID}
	if prev, ok := r.items[k]; ok {
		if prev.Access.Has(AccessReadOnly) {
			r.mu.Unlock()
			return Resource{}, fmt.Errorf("%w: %s/%s", ErrReadOnly, res.Type, res.ID)
		}
		res.Version = prev.Version + 1
	} else {
		res.Version = 1
	}
	res.UpdatedAt = r.now()
	r.items[k] = res
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(res)
	}
	return res, nil
}

// Get returns the resource for (typ, id)
func (r *Registry) Get(typ types.ResourceType, id string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.items[key{typ, id}]
	return res, ok
}

// Delete removes a resource. Read-only resources are kept.
func (r *Registry) Delete(typ types.ResourceType, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{typ, id}
	res, ok := r.items[k]
	if !ok {
		return nil
	}
	if res.Access.Has(AccessReadOnly) {
		return fmt.Errorf("%w: %s/%s", ErrReadOnly, typ, id)
	}
	delete(r.items, k)
	return nil
}

// List returns resources of typ sorted by id
func (r *Registry) List(typ types.ResourceType) []Resource {
	r.mu.RLock()
	out := make([]Resource, 0)
	for k, res := range r.items {
		if k.typ == typ {
			out = append(out, res)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the total number of resources
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
