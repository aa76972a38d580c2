// Package presence tracks which devices are currently reachable via the
// broker.
//
// A single goroutine consumes the ordered broker event stream: connect events
// establish the wildcard status subscription, disconnect events clear the
// entire presence table (a broker outage invalidates every device's last
// known state), and inbound status messages are signature-verified against
// the device's status public key before they mutate the table. Malformed or
// forged messages are logged and discarded; the untrusted broker feed must
// never destabilize the tracker.
//
// The first time a device is ever observed online, determined by the
// persisted last-seen timestamp rather than in-memory state, the tracker
// dispatches a one-shot welcome notification on a background goroutine.
package presence
