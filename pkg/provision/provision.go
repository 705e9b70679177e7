// Package provision idempotently ensures the supporting cloud resources a
// deployment needs before an instance can be launched: the named security
// policy and the machine image selection.
package provision

import (
	"context"
	"sort"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/types"
)

// Provisioner ensures supporting cloud resources exist.
type Provisioner struct {
	compute cloud.Compute
}

// NewProvisioner creates a provisioner over the given compute API.
func NewProvisioner(compute cloud.Compute) *Provisioner {
	return &Provisioner{compute: compute}
}

// EnsureSecurityPolicy looks up the named policy and creates it if absent.
// An existing policy is returned as-is; its rules are never widened.
func (p *Provisioner) EnsureSecurityPolicy(ctx context.Context, name string) (string, error) {
	logger := log.WithComponent("provisioner")

	existing, err := p.compute.FindSecurityPolicy(ctx, name)
	if err != nil {
		return "", types.NewDeployError(types.ErrInternal, err, "security policy lookup failed")
	}
	if existing != nil {
		logger.Debug().Str("policy_id", existing.ID).Msg("Security policy already exists")
		return existing.ID, nil
	}

	created, err := p.compute.CreateSecurityPolicy(ctx, name)
	if err != nil {
		return "", types.NewDeployError(types.ErrInternal, err, "security policy creation failed")
	}
	logger.Info().Str("policy_id", created.ID).Str("name", name).Msg("Created security policy")
	return created.ID, nil
}

// ResolveMachineImage picks the machine image for the instance class. An
// explicit override is used verbatim; otherwise the newest available image
// matching the class-appropriate filter wins.
func (p *Provisioner) ResolveMachineImage(ctx context.Context, instanceClass, overrideID string) (string, error) {
	if overrideID != "" {
		return overrideID, nil
	}

	filter := cloud.ImageFilter{GPU: types.GPUInstanceClass(instanceClass)}

	images, err := p.compute.ListMachineImages(ctx, filter)
	if err != nil {
		return "", types.NewDeployError(types.ErrInternal, err, "machine image listing failed")
	}
	if len(images) == 0 {
		return "", types.NewDeployError(types.ErrResourceNotFound, nil,
			"no machine image available for instance class %s", instanceClass)
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].CreatedAt.After(images[j].CreatedAt)
	})

	logger := log.WithComponent("provisioner")
	logger.Debug().
		Str("image_id", images[0].ID).
		Str("image_name", images[0].Name).
		Bool("gpu", filter.GPU).
		Msg("Resolved machine image")
	return images[0].ID, nil
}
