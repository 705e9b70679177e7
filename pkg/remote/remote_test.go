package remote

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

func fastExecutor(fake *cloudtest.Fake, attempts int) *Executor {
	e := NewExecutor(fake)
	e.Attempts = attempts
	e.Delay = time.Millisecond
	return e
}

func TestRunSucceedsWithinBudget(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.UnreachableRuns = 4
	e := fastExecutor(fake, 5)

	res, err := e.Run(context.Background(), "i-00000001", "docker info")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"docker info"}, fake.RunLog)
}

func TestRunBudgetBoundaryIsExact(t *testing.T) {
	// N-1 failures with budget N succeeds; budget N-1 must time out.
	fake := cloudtest.NewFake()
	fake.UnreachableRuns = 4
	e := fastExecutor(fake, 4)

	_, err := e.Run(context.Background(), "i-00000001", "docker info")
	require.Error(t, err)
	assert.Equal(t, types.ErrConnectivityTimeout, types.KindOf(err))
}

func TestRunRetryNotices(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.UnreachableRuns = 4
	e := fastExecutor(fake, 5)

	var notices []int
	e.OnRetry = func(attempt int, err error) { notices = append(notices, attempt) }

	_, err := e.Run(context.Background(), "i-00000001", "docker info")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, notices)
}

func TestRunCommandFailureIsNotConnectivity(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.RunHook = func(instanceID, command string) (*cloud.CommandResult, error) {
		return &cloud.CommandResult{Stdout: "partial output", Stderr: "no space left on device", ExitCode: 28}, nil
	}
	e := fastExecutor(fake, 5)

	res, err := e.Run(context.Background(), "i-00000001", "docker pull big:latest")
	require.Error(t, err)
	require.NotNil(t, res)

	derr := types.AsDeployError(err)
	assert.Equal(t, types.ErrCommandFailed, derr.Kind)
	assert.Equal(t, "partial output", derr.Stdout)
	assert.Equal(t, "no space left on device", derr.Stderr)

	// A failed command must not be retried.
	assert.Len(t, fake.RunLog, 1)
}

func TestRunCancellable(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.UnreachableRuns = 1 << 30
	e := NewExecutor(fake)
	e.Attempts = 100
	e.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, "i-00000001", "true")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
