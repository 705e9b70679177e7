package types

import (
	"fmt"
	"strings"
	"time"
)

// DeploymentRequest holds the parameters for one deployment. It is created
// by the client at request time and never mutated afterwards.
type DeploymentRequest struct {
	Region        string `json:"region"`
	AccountID     string `json:"accountId"`
	Repository    string `json:"repository"`
	ImageTag      string `json:"imageTag"`
	InstanceClass string `json:"instanceClass"`

	Storage   StorageSpec `json:"storage"`
	Placement *Placement  `json:"placement,omitempty"`

	// InitScript is an optional boot-time user-data script.
	InitScript string `json:"initScript,omitempty"`

	// MachineImageOverride pins an explicit image id instead of resolving
	// the newest class-appropriate image.
	MachineImageOverride string `json:"machineImageOverride,omitempty"`
}

// StorageSpec describes the instance root volume.
type StorageSpec struct {
	SizeGiB int    `json:"sizeGiB"`
	Class   string `json:"class,omitempty"` // e.g. "gp3"; empty means provider default
}

// Placement optionally pins an instance to a zone and subnet.
type Placement struct {
	Zone     string `json:"zone,omitempty"`
	SubnetID string `json:"subnetId,omitempty"`
}

// ImageRef returns the fully qualified registry reference for the request,
// e.g. "123456789012.dkr.ecr.us-east-2.amazonaws.com/cpu:latest".
func (r *DeploymentRequest) ImageRef() string {
	return fmt.Sprintf("%s/%s:%s", r.RegistryEndpoint(), r.Repository, r.ImageTag)
}

// RegistryEndpoint returns the account-scoped registry hostname.
func (r *DeploymentRequest) RegistryEndpoint() string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", r.AccountID, r.Region)
}

// LogicalName derives the stable deployment name used to tag instances and
// name containers, so repeated deployments of the same target are
// recognizable across runs.
func (r *DeploymentRequest) LogicalName() string {
	class := strings.ReplaceAll(r.InstanceClass, ".", "-")
	return fmt.Sprintf("dockhand-%s-%s", r.Repository, class)
}

// GPURequested reports whether the instance class calls for accelerator
// devices.
func (r *DeploymentRequest) GPURequested() bool {
	return GPUInstanceClass(r.InstanceClass)
}

// GPUInstanceClass reports whether an instance class belongs to an
// accelerator family (g*, p* and inf*).
func GPUInstanceClass(class string) bool {
	family, _, ok := strings.Cut(class, ".")
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(family, "p"):
		return true
	case strings.HasPrefix(family, "g"):
		return true
	case strings.HasPrefix(family, "inf"):
		return true
	}
	return false
}

// Validate checks that the required request fields are present.
func (r *DeploymentRequest) Validate() error {
	switch {
	case r.Region == "":
		return fmt.Errorf("region is required")
	case r.AccountID == "":
		return fmt.Errorf("accountId is required")
	case r.Repository == "":
		return fmt.Errorf("repository is required")
	case r.InstanceClass == "":
		return fmt.Errorf("instanceClass is required")
	case r.Storage.SizeGiB <= 0:
		return fmt.Errorf("storage.sizeGiB must be positive")
	}
	return nil
}

// InstanceDescriptor is the result of a successful launch. Produced once by
// the launcher and read-only afterwards.
type InstanceDescriptor struct {
	InstanceID    string    `json:"instanceId"`
	PublicAddress string    `json:"publicAddress"`
	InstanceClass string    `json:"instanceClass"`
	LaunchedAt    time.Time `json:"launchedAt"`
}

// Phase is one discrete step of the deployment state machine.
type Phase string

const (
	PhaseQueued               Phase = "queued"
	PhaseProvisioning         Phase = "provisioning"
	PhaseLaunching            Phase = "launching"
	PhaseAwaitingConnectivity Phase = "awaiting_connectivity"
	PhaseBootstrapping        Phase = "bootstrapping"
	PhaseDeploying            Phase = "deploying"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
)

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Session is the live state of one in-flight orchestration. It is owned
// exclusively by the orchestrator for its lifetime.
type Session struct {
	ID        string             `json:"id"`
	Request   *DeploymentRequest `json:"request"`
	Phase     Phase              `json:"phase"`
	Progress  int                `json:"progress"` // 0-100, monotonically non-decreasing
	Logs      []string           `json:"logs"`
	StartedAt time.Time          `json:"startedAt"`
	EndedAt   time.Time          `json:"endedAt,omitempty"`

	// Exactly one of the two below is set once the session is terminal.
	Instance *InstanceDescriptor `json:"instance,omitempty"`
	Error    *DeployError        `json:"error,omitempty"`
}

// CloudContext carries the per-request credential bundle and target scope
// for every cloud API call. It is built once per deployment from the
// identity collaborator's output.
type CloudContext struct {
	Region    string
	AccountID string

	// Opaque credential bundle, already scoped to the target account.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}
