// Package cloudtest provides an in-memory fake of the cloud provider
// interfaces for unit tests. Behavior knobs simulate boot windows, missing
// images, and command failures without touching real APIs.
package cloudtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dockhand/dockhand/pkg/cloud"
)

// Instance is the fake's record of one launched instance.
type Instance struct {
	ID         string
	Spec       cloud.LaunchSpec
	Terminated bool

	statePolls   int
	addressPolls int
}

// Fake implements cloud.Provider. The zero value is not usable; construct
// with NewFake.
type Fake struct {
	mu sync.Mutex

	policies map[string]*cloud.SecurityPolicy
	images   []cloud.MachineImage

	instances map[string]*Instance
	launchSeq int

	// PolicyCreateCalls counts CreateSecurityPolicy invocations, for
	// idempotence assertions.
	PolicyCreateCalls int

	// StatePollsUntilRunning is how many InstanceState calls report
	// pending before running. Zero means running immediately.
	StatePollsUntilRunning int

	// AddressPollsUntilReady is how many InstanceAddress calls return ""
	// before the address appears.
	AddressPollsUntilReady int

	// UnreachableRuns makes the first N Run calls per fake fail with
	// cloud.ErrUnreachable, simulating the boot window.
	UnreachableRuns int
	runCalls        int

	// RunHook, when set, decides the result of each Run call after the
	// unreachable window. The default returns exit 0 with empty output.
	RunHook func(instanceID, command string) (*cloud.CommandResult, error)

	// RunLog records every command that reached a reachable instance.
	RunLog []string

	// Terminated records instance ids passed to TerminateInstance.
	Terminated []string

	// PullUser and PullPass are returned by PullToken.
	PullUser string
	PullPass string
}

// NewFake returns a fake with one general-purpose and one GPU image and
// instantly ready instances.
func NewFake() *Fake {
	return &Fake{
		policies:  make(map[string]*cloud.SecurityPolicy),
		instances: make(map[string]*Instance),
		images: []cloud.MachineImage{
			{ID: "ami-general-old", Name: "al2023-ami-2023.5", CreatedAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)},
			{ID: "ami-general-new", Name: "al2023-ami-2023.7", CreatedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		},
		PullUser: "AWS",
		PullPass: "fake-token",
	}
}

// SetImages replaces the image catalog.
func (f *Fake) SetImages(images []cloud.MachineImage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = images
}

// Instance returns the fake record for id, or nil.
func (f *Fake) Instance(id string) *Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id]
}

// LaunchCount returns how many instances were launched.
func (f *Fake) LaunchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *Fake) FindSecurityPolicy(_ context.Context, name string) (*cloud.SecurityPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policies[name]; ok {
		return p, nil
	}
	return nil, nil
}

func (f *Fake) CreateSecurityPolicy(_ context.Context, name string) (*cloud.SecurityPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PolicyCreateCalls++
	p := &cloud.SecurityPolicy{ID: fmt.Sprintf("sg-%06d", f.PolicyCreateCalls), Name: name}
	f.policies[name] = p
	return p, nil
}

func (f *Fake) ListMachineImages(_ context.Context, filter cloud.ImageFilter) ([]cloud.MachineImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []cloud.MachineImage
	for _, img := range f.images {
		gpu := isGPUImage(img.Name)
		if gpu == filter.GPU {
			out = append(out, img)
		}
	}
	return out, nil
}

func isGPUImage(name string) bool {
	return len(name) >= 4 && name[:4] == "gpu-"
}

func (f *Fake) LaunchInstance(_ context.Context, spec cloud.LaunchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.launchSeq++
	id := fmt.Sprintf("i-%08d", f.launchSeq)
	f.instances[id] = &Instance{ID: id, Spec: spec}
	return id, nil
}

func (f *Fake) InstanceState(_ context.Context, instanceID string) (cloud.InstanceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[instanceID]
	if !ok {
		return cloud.InstanceStateUnknown, nil
	}
	if inst.Terminated {
		return cloud.InstanceStateTerminated, nil
	}
	if inst.statePolls < f.StatePollsUntilRunning {
		inst.statePolls++
		return cloud.InstanceStatePending, nil
	}
	return cloud.InstanceStateRunning, nil
}

func (f *Fake) InstanceAddress(_ context.Context, instanceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[instanceID]
	if !ok {
		return "", nil
	}
	if inst.addressPolls < f.AddressPollsUntilReady {
		inst.addressPolls++
		return "", nil
	}
	return fmt.Sprintf("ec2-%s.example.amazonaws.com", instanceID), nil
}

func (f *Fake) TerminateInstance(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Terminated = append(f.Terminated, instanceID)
	if inst, ok := f.instances[instanceID]; ok {
		inst.Terminated = true
	}
	return nil
}

func (f *Fake) Run(_ context.Context, instanceID, command string) (*cloud.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runCalls++
	if f.runCalls <= f.UnreachableRuns {
		return nil, fmt.Errorf("%w: %s", cloud.ErrUnreachable, instanceID)
	}

	f.RunLog = append(f.RunLog, command)
	if f.RunHook != nil {
		return f.RunHook(instanceID, command)
	}
	return &cloud.CommandResult{ExitCode: 0}, nil
}

func (f *Fake) PullToken(_ context.Context) (string, string, error) {
	return f.PullUser, f.PullPass, nil
}

func (f *Fake) ListRepositories(_ context.Context) ([]string, error) {
	return []string{"cpu", "gpu"}, nil
}
