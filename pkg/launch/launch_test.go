package launch

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

func fastLauncher(fake *cloudtest.Fake) *Launcher {
	l := NewLauncher(fake)
	l.LaunchTimeout = 100 * time.Millisecond
	l.AddressTimeout = 100 * time.Millisecond
	l.PollInterval = time.Millisecond
	return l
}

func TestLaunchProducesDescriptor(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.StatePollsUntilRunning = 3
	fake.AddressPollsUntilReady = 2
	l := fastLauncher(fake)

	desc, err := l.Launch(context.Background(), cloud.LaunchSpec{
		ImageID:        "ami-general-new",
		InstanceClass:  "t3.medium",
		PolicyID:       "sg-000001",
		Name:           "dockhand-cpu-t3-medium",
		StorageSizeGiB: 30,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, desc.InstanceID)
	assert.NotEmpty(t, desc.PublicAddress)
	assert.Equal(t, "t3.medium", desc.InstanceClass)
	assert.False(t, desc.LaunchedAt.IsZero())
	assert.Equal(t, 1, fake.LaunchCount(), "launch must create exactly one instance")
}

func TestLaunchDeterministicNameTag(t *testing.T) {
	fake := cloudtest.NewFake()
	l := fastLauncher(fake)

	desc, err := l.Launch(context.Background(), cloud.LaunchSpec{
		ImageID:       "ami-general-new",
		InstanceClass: "t3.medium",
		Name:          "dockhand-cpu-t3-medium",
	})
	require.NoError(t, err)

	inst := fake.Instance(desc.InstanceID)
	require.NotNil(t, inst)
	assert.Equal(t, "dockhand-cpu-t3-medium", inst.Spec.Name)
}

func TestLaunchTimeoutWhenNeverRunning(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.StatePollsUntilRunning = 1 << 30
	l := fastLauncher(fake)

	_, err := l.Launch(context.Background(), cloud.LaunchSpec{ImageID: "ami-x", InstanceClass: "t3.medium"})
	require.Error(t, err)
	assert.Equal(t, types.ErrLaunchTimeout, types.KindOf(err))
}

func TestLaunchAddressUnavailable(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.AddressPollsUntilReady = 1 << 30
	l := fastLauncher(fake)

	_, err := l.Launch(context.Background(), cloud.LaunchSpec{ImageID: "ami-x", InstanceClass: "t3.medium"})
	require.Error(t, err)
	assert.Equal(t, types.ErrAddressUnavailable, types.KindOf(err))
}

func TestLaunchWaitIsCancellable(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.StatePollsUntilRunning = 1 << 30
	l := fastLauncher(fake)
	l.LaunchTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Launch(ctx, cloud.LaunchSpec{ImageID: "ami-x", InstanceClass: "t3.medium"})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("launch did not unwind after cancellation")
	}
}

func TestTerminateIdempotent(t *testing.T) {
	fake := cloudtest.NewFake()
	l := fastLauncher(fake)

	desc, err := l.Launch(context.Background(), cloud.LaunchSpec{ImageID: "ami-x", InstanceClass: "t3.medium"})
	require.NoError(t, err)

	require.NoError(t, l.Terminate(context.Background(), desc.InstanceID))
	require.NoError(t, l.Terminate(context.Background(), desc.InstanceID))
	assert.Equal(t, []string{desc.InstanceID, desc.InstanceID}, fake.Terminated)
}
