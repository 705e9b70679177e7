// Package remote executes commands on an instance over the management
// channel. Immediately after launch the channel is not ready, so every
// dispatch is wrapped in a fixed-budget retry; connectivity failure is only
// surfaced once the budget is exhausted, and is distinct from a command
// that ran and exited non-zero.
package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/retry"
	"github.com/dockhand/dockhand/pkg/types"
)

const (
	// DefaultAttempts is the connectivity retry budget. With DefaultDelay
	// this gives the management agent five minutes to register after boot.
	DefaultAttempts = 30

	// DefaultDelay is the fixed pause between attempts.
	DefaultDelay = 10 * time.Second
)

// Executor runs remote commands with a bounded connectivity retry budget.
type Executor struct {
	commands cloud.Commands

	// Attempts and Delay parameterize the retry policy for every call.
	Attempts int
	Delay    time.Duration

	// OnRetry is invoked for each failed connectivity attempt that will
	// be retried, letting the caller surface retry notices as log lines.
	OnRetry func(attempt int, err error)
}

// NewExecutor creates an executor with the default retry budget.
func NewExecutor(commands cloud.Commands) *Executor {
	return &Executor{
		commands: commands,
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
	}
}

// Run executes command on the instance, suspending the caller until the
// command returns or the retry budget is exhausted.
//
// Failure modes:
//   - ErrConnectivityTimeout after the attempt budget is spent without
//     reaching the instance; individual attempt failures are only logged.
//   - ErrCommandFailed for a non-zero exit on a reachable instance, with
//     stdout and stderr captured verbatim on the error.
func (e *Executor) Run(ctx context.Context, instanceID, command string) (*cloud.CommandResult, error) {
	logger := log.WithComponent("remote")

	var result *cloud.CommandResult
	policy := retry.Policy{
		Attempts: e.Attempts,
		Delay:    e.Delay,
		OnRetry: func(attempt int, err error) {
			logger.Debug().Int("attempt", attempt).Err(err).
				Str("instance_id", instanceID).Msg("Management channel not ready, retrying")
			if e.OnRetry != nil {
				e.OnRetry(attempt, err)
			}
		},
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		res, err := e.commands.Run(ctx, instanceID, command)
		if err != nil {
			if errors.Is(err, cloud.ErrUnreachable) {
				return err
			}
			// Dispatch failed for a reason retrying cannot fix.
			return retry.Permanent(types.NewDeployError(types.ErrInternal, err, "command dispatch failed"))
		}
		result = res
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, cloud.ErrUnreachable):
		return nil, types.NewDeployError(types.ErrConnectivityTimeout, err,
			"instance %s unreachable after %d attempts", instanceID, e.Attempts)
	default:
		return nil, err
	}

	if result.ExitCode != 0 {
		return result, &types.DeployError{
			Kind:    types.ErrCommandFailed,
			Message: summarizeCommand(command) + " exited non-zero",
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
		}
	}
	return result, nil
}

// summarizeCommand trims a shell command to its first line for error text.
func summarizeCommand(command string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(command), "\n")
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return line
}
