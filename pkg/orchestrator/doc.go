/*
Package orchestrator sequences a deployment from request to running
container and owns the session's event stream.

# State machine

One session moves through:

	Queued → Provisioning → Launching → AwaitingConnectivity
	       → Bootstrapping → Deploying → Succeeded

with Failed reachable from any non-terminal state. Each phase delegates to
one component call; on success the machine advances and emits a progress
event at a fixed checkpoint (15/45/60/75/90/100), on failure it emits a
single error event carrying the failing phase and stops. Log lines from a
phase always precede that phase's progress event. Phases are strictly
sequential; a session never runs two phases at once, and event emission
order equals phase execution order equals side-effect order.

# Cancellation policy

A client that stops consuming the stream does NOT cancel the orchestration:
provisioned resources and a launched instance stay up, because a
half-finished deployment must not silently vanish while the user can still
be billed for it. Cleanup is an explicit terminate call. The one configured
exception is TerminateOnFailure, which tears down a successfully launched
instance when a later phase fails.
*/
package orchestrator
