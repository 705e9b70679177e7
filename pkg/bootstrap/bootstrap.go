// Package bootstrap installs the container runtime on a freshly launched
// instance and authenticates it against the image registry.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/types"
)

// Runner executes remote commands; satisfied by remote.Executor.
type Runner interface {
	Run(ctx context.Context, instanceID, command string) (*cloud.CommandResult, error)
}

// Installer prepares the container runtime on an instance.
type Installer struct {
	runner Runner
}

// NewInstaller creates an installer over the given command runner.
func NewInstaller(runner Runner) *Installer {
	return &Installer{runner: runner}
}

// InstallRuntime ensures Docker is installed and its daemon running.
// Idempotent: when the probe finds a live daemon nothing is changed.
// Otherwise the runtime is installed, enabled to start on boot, and the
// enable is verified.
func (i *Installer) InstallRuntime(ctx context.Context, instanceID string) error {
	logger := log.WithComponent("bootstrap")

	_, err := i.runner.Run(ctx, instanceID, "sudo docker info >/dev/null 2>&1")
	if err == nil {
		logger.Info().Str("instance_id", instanceID).Msg("Container runtime already present")
		return nil
	}
	if types.KindOf(err) != types.ErrCommandFailed {
		// Connectivity problems propagate; only a clean "not installed"
		// probe result falls through to installation.
		return err
	}

	if _, err := i.runner.Run(ctx, instanceID, "sudo dnf install -y docker"); err != nil {
		return err
	}
	if _, err := i.runner.Run(ctx, instanceID, "sudo systemctl enable --now docker"); err != nil {
		return err
	}
	if _, err := i.runner.Run(ctx, instanceID, "sudo systemctl is-active docker"); err != nil {
		return types.NewDeployError(types.ErrInternal, err, "runtime did not come up after enable")
	}

	logger.Info().Str("instance_id", instanceID).Msg("Container runtime installed")
	return nil
}

// AuthenticateRegistry logs the remote runtime into the image registry
// using a short-lived token supplied by the caller. Reported as
// ErrRegistryAuthFailed, distinct from a runtime install failure.
func (i *Installer) AuthenticateRegistry(ctx context.Context, instanceID, registryEndpoint, username, token string) error {
	cmd := fmt.Sprintf("echo '%s' | sudo docker login --username %s --password-stdin %s",
		token, username, registryEndpoint)

	if _, err := i.runner.Run(ctx, instanceID, cmd); err != nil {
		if types.KindOf(err) == types.ErrCommandFailed {
			derr := types.AsDeployError(err)
			return &types.DeployError{
				Kind:    types.ErrRegistryAuthFailed,
				Message: fmt.Sprintf("registry login against %s failed", registryEndpoint),
				Stdout:  derr.Stdout,
				Stderr:  derr.Stderr,
			}
		}
		return err
	}

	logger := log.WithComponent("bootstrap")
	logger.Info().
		Str("instance_id", instanceID).
		Str("registry", registryEndpoint).
		Msg("Registry authentication configured")
	return nil
}
