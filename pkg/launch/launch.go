// Package launch creates compute instances and waits for them to become
// reachable: first for the running state, then for a routable public
// address. Both waits are bounded and context-cancellable.
package launch

import (
	"context"
	"time"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/types"
)

const (
	defaultLaunchTimeout  = 5 * time.Minute
	defaultAddressTimeout = 2 * time.Minute
	defaultPollInterval   = 5 * time.Second
)

// Launcher creates and terminates compute instances.
type Launcher struct {
	compute cloud.Compute

	// LaunchTimeout bounds the wait for the running state.
	LaunchTimeout time.Duration

	// AddressTimeout bounds the wait for a routable address after the
	// instance is running.
	AddressTimeout time.Duration

	// PollInterval is the state/address polling cadence.
	PollInterval time.Duration
}

// NewLauncher creates a launcher with default wait budgets.
func NewLauncher(compute cloud.Compute) *Launcher {
	return &Launcher{
		compute:        compute,
		LaunchTimeout:  defaultLaunchTimeout,
		AddressTimeout: defaultAddressTimeout,
		PollInterval:   defaultPollInterval,
	}
}

// Launch creates exactly one instance per spec, waits for it to run, and
// resolves its public address. The returned descriptor is read-only
// afterwards. The instance is left running even when a wait times out;
// cleanup is an explicit Terminate, never implicit.
func (l *Launcher) Launch(ctx context.Context, spec cloud.LaunchSpec) (*types.InstanceDescriptor, error) {
	logger := log.WithComponent("launcher")

	instanceID, err := l.compute.LaunchInstance(ctx, spec)
	if err != nil {
		return nil, types.NewDeployError(types.ErrInternal, err, "instance creation failed")
	}
	launchedAt := time.Now()
	logger.Info().Str("instance_id", instanceID).Str("class", spec.InstanceClass).Msg("Instance launched")

	if err := l.waitRunning(ctx, instanceID); err != nil {
		return nil, err
	}

	address, err := l.waitAddress(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("instance_id", instanceID).Str("address", address).Msg("Instance running")

	return &types.InstanceDescriptor{
		InstanceID:    instanceID,
		PublicAddress: address,
		InstanceClass: spec.InstanceClass,
		LaunchedAt:    launchedAt,
	}, nil
}

// Terminate terminates an instance by id. Idempotent; safe to call for
// instances that are already gone.
func (l *Launcher) Terminate(ctx context.Context, instanceID string) error {
	if err := l.compute.TerminateInstance(ctx, instanceID); err != nil {
		return types.NewDeployError(types.ErrInternal, err, "instance termination failed")
	}
	logger := log.WithComponent("launcher")
	logger.Info().Str("instance_id", instanceID).Msg("Instance terminated")
	return nil
}

func (l *Launcher) waitRunning(ctx context.Context, instanceID string) error {
	deadline := time.Now().Add(l.LaunchTimeout)
	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()

	for {
		state, err := l.compute.InstanceState(ctx, instanceID)
		if err != nil {
			return types.NewDeployError(types.ErrInternal, err, "instance state check failed")
		}
		if state == cloud.InstanceStateRunning {
			return nil
		}

		if time.Now().After(deadline) {
			return types.NewDeployError(types.ErrLaunchTimeout, nil,
				"instance %s did not reach running within %s", instanceID, l.LaunchTimeout)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Launcher) waitAddress(ctx context.Context, instanceID string) (string, error) {
	deadline := time.Now().Add(l.AddressTimeout)
	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()

	for {
		address, err := l.compute.InstanceAddress(ctx, instanceID)
		if err != nil {
			return "", types.NewDeployError(types.ErrInternal, err, "instance address check failed")
		}
		if address != "" {
			return address, nil
		}

		if time.Now().After(deadline) {
			return "", types.NewDeployError(types.ErrAddressUnavailable, nil,
				"instance %s has no routable address after %s", instanceID, l.AddressTimeout)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
