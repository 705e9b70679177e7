package awscloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"

	"github.com/dockhand/dockhand/pkg/cloud"
)

const (
	// runShellDocument is the SSM document used for all remote commands.
	runShellDocument = "AWS-RunShellScript"

	// invocationPollInterval is how often command completion is polled.
	invocationPollInterval = 2 * time.Second

	// commandTimeoutSeconds bounds a single remote command on the agent side.
	commandTimeoutSeconds = 600
)

// Run dispatches a shell command over SSM and waits for the invocation to
// finish. An instance whose agent has not registered yet surfaces as an
// error wrapping cloud.ErrUnreachable so the executor's retry policy can
// absorb the boot window.
func (c *Client) Run(ctx context.Context, instanceID, command string) (*cloud.CommandResult, error) {
	sent, err := c.ssm.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String(runShellDocument),
		InstanceIds:  []string{instanceID},
		Parameters: map[string][]string{
			"commands": {command},
		},
		TimeoutSeconds: aws.Int32(commandTimeoutSeconds),
	})
	if err != nil {
		if isAgentUnreachable(err) {
			return nil, fmt.Errorf("%w: %s", cloud.ErrUnreachable, instanceID)
		}
		return nil, fmt.Errorf("failed to send command to %s: %w", instanceID, err)
	}

	commandID := strOrEmpty(sent.Command.CommandId)
	return c.waitInvocation(ctx, commandID, instanceID)
}

// waitInvocation polls until the invocation reaches a terminal status.
func (c *Client) waitInvocation(ctx context.Context, commandID, instanceID string) (*cloud.CommandResult, error) {
	ticker := time.NewTicker(invocationPollInterval)
	defer ticker.Stop()

	for {
		out, err := c.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandID),
			InstanceId: aws.String(instanceID),
		})
		if err != nil {
			// The invocation record can lag the send by a moment.
			var notFound *ssmtypes.InvocationDoesNotExist
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to get invocation %s: %w", commandID, err)
			}
		} else {
			switch out.Status {
			case ssmtypes.CommandInvocationStatusSuccess,
				ssmtypes.CommandInvocationStatusFailed,
				ssmtypes.CommandInvocationStatusCancelled,
				ssmtypes.CommandInvocationStatusTimedOut:
				return &cloud.CommandResult{
					Stdout:   strOrEmpty(out.StandardOutputContent),
					Stderr:   strOrEmpty(out.StandardErrorContent),
					ExitCode: int(out.ResponseCode),
				}, nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// isAgentUnreachable reports whether err means the SSM agent has not
// registered the instance yet, which is expected during boot.
func isAgentUnreachable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceId", "InvalidInstanceInformationFilterValue":
			return true
		}
	}
	return false
}
