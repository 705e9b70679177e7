/*
Package types defines the core data structures used throughout Dockhand.

This package contains the fundamental types that represent Dockhand's domain
model: deployment requests, orchestration sessions, instance descriptors,
progress phases, and the typed error taxonomy every component reports
failures through. These types are used by all other packages for
orchestration logic, API payloads, and persistence.

# Core Types

Deployment input and output:
  - DeploymentRequest: Immutable parameters for one deployment
  - StorageSpec: Root volume size and class for the instance
  - Placement: Optional zone/subnet pinning
  - InstanceDescriptor: Details of a successfully launched instance

Orchestration state:
  - Phase: One discrete step of the deployment state machine
  - Session: Live state of one in-flight orchestration

Credentials:
  - CloudContext: Per-request region, account, and credential bundle.
    Constructed once per request and passed explicitly into every cloud
    call; orchestration logic never reads process-wide environment.

Errors:
  - ErrorKind: Enumerated failure classes (ResourceNotFound, LaunchTimeout,
    ConnectivityTimeout, CommandFailed, ...)
  - DeployError: Kind + failing phase + message, with captured output for
    remote command failures
*/
package types
