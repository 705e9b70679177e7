package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("connection refused")

// failNTimes returns an op that fails n times then succeeds, counting calls.
func failNTimes(n int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return errUnreachable
		}
		return nil
	}
}

func TestDoBudgetIsExact(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		failures int
		wantErr  bool
		wantCall int
	}{
		{name: "succeeds on last attempt", attempts: 5, failures: 4, wantErr: false, wantCall: 5},
		{name: "budget one short", attempts: 4, failures: 4, wantErr: true, wantCall: 4},
		{name: "first attempt succeeds", attempts: 3, failures: 0, wantErr: false, wantCall: 1},
		{name: "single attempt fails", attempts: 1, failures: 1, wantErr: true, wantCall: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := Policy{Attempts: tt.attempts, Delay: time.Millisecond}
			err := p.Do(context.Background(), failNTimes(tt.failures, &calls))

			if tt.wantErr {
				assert.ErrorIs(t, err, errUnreachable)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCall, calls)
		})
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	errExit := errors.New("exit status 1")
	calls := 0
	p := Policy{Attempts: 5, Delay: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errExit)
	})

	assert.ErrorIs(t, err, errExit)
	assert.Equal(t, 1, calls)
}

func TestDoOnRetryNotices(t *testing.T) {
	var notices []int
	calls := 0
	p := Policy{
		Attempts: 5,
		Delay:    time.Millisecond,
		OnRetry: func(attempt int, err error) {
			notices = append(notices, attempt)
		},
	}

	err := p.Do(context.Background(), failNTimes(4, &calls))
	require.NoError(t, err)

	// Four failed attempts produce four retry notices, none for the success.
	assert.Equal(t, []int{1, 2, 3, 4}, notices)
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	p := Policy{Attempts: 3, Delay: 50 * time.Millisecond}
	err := p.Do(ctx, failNTimes(3, &calls))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	p := Policy{Attempts: 10, Delay: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, failNTimes(10, &calls))
	}()

	// Let the first attempt fail, then cancel while Do sleeps.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
