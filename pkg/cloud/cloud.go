// Package cloud defines the narrow provider interfaces the deployment
// engine consumes: compute resources, remote command execution, and
// registry authentication. The awscloud subpackage implements them against
// EC2, SSM, and ECR; tests substitute in-memory fakes.
package cloud

import (
	"context"
	"errors"
	"time"
)

// ErrUnreachable marks a command dispatch that failed because the
// instance's management agent is not reachable yet. The remote executor
// retries these; everything else is permanent.
var ErrUnreachable = errors.New("instance management agent unreachable")

// SecurityPolicy is a named network policy (an EC2 security group).
type SecurityPolicy struct {
	ID   string
	Name string
}

// MachineImage is a bootable machine image (an AMI).
type MachineImage struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ImageFilter selects candidate machine images.
type ImageFilter struct {
	// GPU selects accelerator-capable images instead of the
	// general-purpose Linux family.
	GPU bool
}

// InstanceState is the lifecycle state reported by the provider.
type InstanceState string

const (
	InstanceStatePending    InstanceState = "pending"
	InstanceStateRunning    InstanceState = "running"
	InstanceStateTerminated InstanceState = "terminated"
	InstanceStateUnknown    InstanceState = "unknown"
)

// LaunchSpec describes the single instance to create.
type LaunchSpec struct {
	ImageID        string
	InstanceClass  string
	PolicyID       string
	Name           string // deterministic Name tag for the logical deployment
	StorageSizeGiB int
	StorageClass   string
	Zone           string
	SubnetID       string
	InitScript     string
	// Profile is the instance profile granting the management agent its
	// permissions.
	Profile string
}

// Compute provisions and inspects compute resources.
type Compute interface {
	// FindSecurityPolicy returns the named policy, or nil if absent.
	FindSecurityPolicy(ctx context.Context, name string) (*SecurityPolicy, error)

	// CreateSecurityPolicy creates a policy permitting only the
	// management-channel port.
	CreateSecurityPolicy(ctx context.Context, name string) (*SecurityPolicy, error)

	// ListMachineImages returns available images matching the filter.
	ListMachineImages(ctx context.Context, filter ImageFilter) ([]MachineImage, error)

	// LaunchInstance creates exactly one instance and returns its id.
	LaunchInstance(ctx context.Context, spec LaunchSpec) (string, error)

	// InstanceState reports the current lifecycle state.
	InstanceState(ctx context.Context, instanceID string) (InstanceState, error)

	// InstanceAddress returns the instance's public address, or "" while
	// none is assigned.
	InstanceAddress(ctx context.Context, instanceID string) (string, error)

	// TerminateInstance terminates by id. Idempotent: terminating an
	// already-terminated instance is not an error.
	TerminateInstance(ctx context.Context, instanceID string) error
}

// CommandResult captures one remote command execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Commands runs shell commands on an instance over the management channel.
type Commands interface {
	// Run executes command on the instance and waits for it to finish.
	// A dispatch failure while the agent is still registering is reported
	// as an error wrapping ErrUnreachable; a non-zero exit from a
	// reachable instance is a normal result, not an error.
	Run(ctx context.Context, instanceID, command string) (*CommandResult, error)
}

// RegistryAuth supplies short-lived pull credentials for the image registry.
type RegistryAuth interface {
	// PullToken returns a username/password pair valid for the account's
	// registry endpoint.
	PullToken(ctx context.Context) (username, password string, err error)
}

// RepositoryLister enumerates the account's image repositories, for the
// console's metadata endpoint.
type RepositoryLister interface {
	ListRepositories(ctx context.Context) ([]string, error)
}

// Provider bundles every capability one deployment needs. Implemented by
// awscloud.Client and the cloudtest fake.
type Provider interface {
	Compute
	Commands
	RegistryAuth
	RepositoryLister
}
