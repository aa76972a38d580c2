// Package daemon wires the server's long-running pieces into a single
// lifecycle: the broker client, the presence tracker, the delivery
// orchestrator, the HTTP API, and the snapshot monitor. A flock-based lock
// prevents a second daemon instance from racing the first on the same
// registry database.
package daemon
