package resources

import (
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
	"github.com/GriffinCanCode/envbridge/internal/bridge/router"
	"github.com/GriffinCanCode/envbridge/internal/shared/types"
)

// Handler answers resource.request messages from reg. Only shared resources
// are served; anything else is reported as not found.
func Handler(reg *Registry) router.HandlerFunc {
	return func(_ context.Context, payload json.RawMessage, _ router.Meta) (any, error) {
		var req types.ResourceRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, errs.Wrap(errs.KindInvalidMessage, err, "malformed resource request")
		}
		if !req.ResourceType.Valid() {
			return nil, errs.Newf(errs.KindInvalidMessage, "unknown resource type %q", req.ResourceType).
				WithDetails(map[string]any{"allowed": types.ResourceTypes()})
		}
		if req.ResourceID == "" {
			return nil, errs.New(errs.KindInvalidMessage, "resourceId is required")
		}

		resp := types.ResourceResponse{ResourceType: req.ResourceType, ResourceID: req.ResourceID}
		res, ok := reg.Get(req.ResourceType, req.ResourceID)
		if !ok || !res.Access.Has(AccessShared) {
			return resp, nil
		}
		resp.Found = true
		resp.Value = res.Value
		resp.Version = res.Version
		return resp, nil
	}
}

// Updated builds the resource.updated announcement for res
func Updated(res Resource) types.ResourceUpdated {
	return types.ResourceUpdated{
		Type:         types.MessageResourceUpdated,
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Version:      res.Version,
	}
}
