package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies deployment failures so clients can give actionable
// guidance ("check image tag" vs "check registry credentials").
type ErrorKind string

const (
	// ErrResourceNotFound means no machine image matched the request.
	// Fatal immediately; retrying cannot help.
	ErrResourceNotFound ErrorKind = "resource_not_found"

	// ErrLaunchTimeout means the instance did not reach the running state
	// within the launch wait budget.
	ErrLaunchTimeout ErrorKind = "launch_timeout"

	// ErrAddressUnavailable means the running instance never reported a
	// routable public address.
	ErrAddressUnavailable ErrorKind = "address_unavailable"

	// ErrConnectivityTimeout means the remote executor exhausted its
	// attempt budget without reaching the instance.
	ErrConnectivityTimeout ErrorKind = "connectivity_timeout"

	// ErrCommandFailed means a reachable instance returned a non-zero
	// exit code. Stdout/stderr are captured on the error.
	ErrCommandFailed ErrorKind = "command_failed"

	ErrRegistryAuthFailed   ErrorKind = "registry_auth_failed"
	ErrImagePullFailed      ErrorKind = "image_pull_failed"
	ErrContainerStartFailed ErrorKind = "container_start_failed"

	// ErrInternal covers anything outside the deployment taxonomy.
	ErrInternal ErrorKind = "internal"
)

// DeployError is the typed failure every component reports through. The
// orchestrator converts it into the session's terminal error event.
type DeployError struct {
	Kind    ErrorKind `json:"kind"`
	Phase   Phase     `json:"phase,omitempty"`
	Message string    `json:"message"`

	// Captured remote output, set for ErrCommandFailed.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	cause error
}

// NewDeployError creates a DeployError wrapping an underlying cause.
func NewDeployError(kind ErrorKind, cause error, format string, args ...interface{}) *DeployError {
	return &DeployError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

func (e *DeployError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DeployError) Unwrap() error {
	return e.cause
}

// KindOf extracts the ErrorKind from err, or ErrInternal if err is not a
// DeployError.
func KindOf(err error) ErrorKind {
	var de *DeployError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrInternal
}

// AsDeployError converts err into a DeployError, wrapping unclassified
// errors as ErrInternal.
func AsDeployError(err error) *DeployError {
	var de *DeployError
	if errors.As(err, &de) {
		return de
	}
	return &DeployError{Kind: ErrInternal, Message: err.Error(), cause: err}
}
