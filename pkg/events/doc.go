/*
Package events defines the progress event model and the per-session stream.

A deployment session has a single producer (the orchestrator) and a single
consumer (a progress stream adapter: SSE handler or CLI printer). Stream is
the bounded ordered queue between them. Events are delivered in emission
order, exactly one terminal event (complete or error) is accepted, and the
stream closes immediately after it.

The vocabulary is fixed to four event kinds:

  - log: free-text transcript line
  - progress: integer percent in [0,100]
  - complete: structured result carrying the instance descriptor
  - error: structured {phase, message}
*/
package events
