// Package logging builds slog loggers for the daemon, CLI, and agent.
//
// Two output formats are supported: a compact console format for interactive
// use and JSON for log aggregation. Components attach a standardized
// "component" attribute via NewComponentLogger so console output groups lines
// by subsystem.
package logging
