// Package broker wraps the MQTT client used by the server and agent.
//
// Connection callbacks are converted into an ordered event channel so the
// presence tracker can consume connect, disconnect, and message events from a
// single processing loop instead of reacting inside broker callbacks.
// Publishes run at QoS 1 and block until the broker acknowledges, bounded by
// the configured publish timeout.
package broker
