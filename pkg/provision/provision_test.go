package provision

import (
	"context"
	"testing"
	"time"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/cloud/cloudtest"
	"github.com/dockhand/dockhand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSecurityPolicyIdempotent(t *testing.T) {
	fake := cloudtest.NewFake()
	p := NewProvisioner(fake)

	first, err := p.EnsureSecurityPolicy(context.Background(), "dockhand-deploy")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := p.EnsureSecurityPolicy(context.Background(), "dockhand-deploy")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.PolicyCreateCalls, "second call must not create a duplicate")
}

func TestResolveMachineImagePicksNewest(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.SetImages([]cloud.MachineImage{
		{ID: "ami-old", Name: "al2023-ami-2023.1", CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "ami-newest", Name: "al2023-ami-2023.9", CreatedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "ami-mid", Name: "al2023-ami-2023.4", CreatedAt: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)},
	})
	p := NewProvisioner(fake)

	id, err := p.ResolveMachineImage(context.Background(), "t3.medium", "")
	require.NoError(t, err)
	assert.Equal(t, "ami-newest", id)
}

func TestResolveMachineImageOverrideWinsVerbatim(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.SetImages(nil) // catalog empty: override must not consult it
	p := NewProvisioner(fake)

	id, err := p.ResolveMachineImage(context.Background(), "t3.medium", "ami-custom-123")
	require.NoError(t, err)
	assert.Equal(t, "ami-custom-123", id)
}

func TestResolveMachineImageGPUFilter(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.SetImages([]cloud.MachineImage{
		{ID: "ami-cpu", Name: "al2023-ami-2023.7", CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "ami-gpu", Name: "gpu-dlami-2025.3", CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
	})
	p := NewProvisioner(fake)

	id, err := p.ResolveMachineImage(context.Background(), "g5.xlarge", "")
	require.NoError(t, err)
	assert.Equal(t, "ami-gpu", id, "GPU class must select the GPU image even when a newer CPU image exists")

	id, err = p.ResolveMachineImage(context.Background(), "t3.medium", "")
	require.NoError(t, err)
	assert.Equal(t, "ami-cpu", id)
}

func TestResolveMachineImageNotFound(t *testing.T) {
	fake := cloudtest.NewFake() // default catalog has no GPU images
	p := NewProvisioner(fake)

	_, err := p.ResolveMachineImage(context.Background(), "p4d.24xlarge", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrResourceNotFound, types.KindOf(err))
}
