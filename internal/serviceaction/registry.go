package serviceaction

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
)

// Workflow is one vendor action bound to an Action.
type Workflow interface {
	Name() string
	Call(ctx context.Context) Result
}

// WorkflowFactory builds the workflows of one vendor.
type WorkflowFactory interface {
	Vendor() enums.Vendor
	// Crop is the only crop the vendor accepts.
	Crop() string
	Build(ctx context.Context, action *Action) (Workflow, error)
}

// Registry maps vendors to their factory. It is filled once at startup.
type Registry struct {
	factories map[enums.Vendor]WorkflowFactory
}

func NewRegistry(factories ...WorkflowFactory) (*Registry, error) {
	r := &Registry{factories: make(map[enums.Vendor]WorkflowFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			return nil, fmt.Errorf("workflow factory is nil")
		}
		vendor := f.Vendor()
		if !vendor.IsValid() {
			return nil, fmt.Errorf("workflow factory for unsupported vendor %q", vendor)
		}
		if _, exists := r.factories[vendor]; exists {
			return nil, fmt.Errorf("workflow factory for %q already registered", vendor)
		}
		r.factories[vendor] = f
	}
	return r, nil
}

func (r *Registry) Lookup(vendor enums.Vendor) (WorkflowFactory, error) {
	if f, ok := r.factories[vendor]; ok {
		return f, nil
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeConfiguration, "no workflows registered for vendor %q", vendor)
}
