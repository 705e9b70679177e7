/*
Package log provides structured logging for Dockhand using zerolog.

It wraps zerolog behind a small global logger with component-scoped child
loggers, configurable level, and JSON or console output. Orchestration code
attaches session and instance identifiers via the With* helpers so one
deployment's lines can be filtered out of interleaved sessions.
*/
package log
