// Package log provides the zerolog-backed global logger used by the
// server, the agent and the CLI, plus helpers for component-scoped
// child loggers.
package log
