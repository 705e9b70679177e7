/*
Package api exposes the deployment engine over HTTP.

Endpoints:

  - POST /api/deploy: run a deployment to its terminal outcome and return
    only that (non-streaming variant)
  - GET  /api/deploy/stream: run a deployment and stream progress as
    Server-Sent Events with the fixed vocabulary log/progress/complete/error
  - GET  /api/instances: list the running-instance registry
  - POST /api/instances/{id}/terminate: explicit instance termination
  - GET  /api/metadata: repositories available for deployment
  - GET  /api/history: finished deployment sessions
  - GET  /health, /ready, /metrics

The SSE adapter forwards events strictly in emission order, never closes
the connection before the terminal event, and closes it right after. A
client that disconnects mid-run stops receiving events but does not cancel
the deployment; the orchestration always runs on a background context.
*/
package api
