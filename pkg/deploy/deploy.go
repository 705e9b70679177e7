// Package deploy pulls the target image on a prepared instance and
// (re)starts the named container. Deployments replace: any prior container
// with the same logical name is forcibly removed before the new one starts.
package deploy

import (
	"context"
	"fmt"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/types"
)

// DefaultWorkspacePath is the host path mounted into every deployed
// container.
const DefaultWorkspacePath = "/opt/dockhand/workspace"

// Runner executes remote commands; satisfied by remote.Executor.
type Runner interface {
	Run(ctx context.Context, instanceID, command string) (*cloud.CommandResult, error)
}

// Deployer replaces the running container on an instance.
type Deployer struct {
	runner Runner

	// WorkspacePath is the host directory mounted at /workspace inside
	// the container.
	WorkspacePath string
}

// NewDeployer creates a deployer over the given command runner.
func NewDeployer(runner Runner) *Deployer {
	return &Deployer{runner: runner, WorkspacePath: DefaultWorkspacePath}
}

// Deploy pulls imageRef and starts it as containerName, removing any prior
// container of that name first. The container restarts automatically
// unless explicitly stopped, and requests all accelerator devices when
// gpuRequested is set.
func (d *Deployer) Deploy(ctx context.Context, instanceID, imageRef, containerName string, gpuRequested bool) error {
	logger := log.WithComponent("deployer")

	if _, err := d.runner.Run(ctx, instanceID, fmt.Sprintf("sudo docker pull %s", imageRef)); err != nil {
		if types.KindOf(err) == types.ErrCommandFailed {
			derr := types.AsDeployError(err)
			return &types.DeployError{
				Kind:    types.ErrImagePullFailed,
				Message: fmt.Sprintf("pull of %s failed", imageRef),
				Stdout:  derr.Stdout,
				Stderr:  derr.Stderr,
			}
		}
		return err
	}
	logger.Info().Str("instance_id", instanceID).Str("image", imageRef).Msg("Image pulled")

	// Remove-then-create: tolerate an absent container, never leave two.
	removeCmd := fmt.Sprintf("sudo docker rm -f %s 2>/dev/null || true", containerName)
	if _, err := d.runner.Run(ctx, instanceID, removeCmd); err != nil {
		return err
	}

	runCmd := fmt.Sprintf(
		"sudo docker run -d --name %s --restart unless-stopped -v %s:/workspace%s %s",
		containerName, d.WorkspacePath, gpuFlag(gpuRequested), imageRef,
	)
	if _, err := d.runner.Run(ctx, instanceID, runCmd); err != nil {
		if types.KindOf(err) == types.ErrCommandFailed {
			derr := types.AsDeployError(err)
			return &types.DeployError{
				Kind:    types.ErrContainerStartFailed,
				Message: fmt.Sprintf("container %s failed to start", containerName),
				Stdout:  derr.Stdout,
				Stderr:  derr.Stderr,
			}
		}
		return err
	}

	logger.Info().
		Str("instance_id", instanceID).
		Str("container", containerName).
		Bool("gpu", gpuRequested).
		Msg("Container started")
	return nil
}

func gpuFlag(gpuRequested bool) string {
	if gpuRequested {
		return " --gpus all"
	}
	return ""
}
