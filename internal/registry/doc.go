// Package registry persists device registrations backed by SQLite.
//
// Each device row holds the opaque device id, its delivery address, the two
// public key halves (notification and status), an optional secondary-channel
// address, and the persisted last-seen-online timestamp that gates the
// one-shot welcome notification. The store also records periodic status
// snapshots for the history endpoint.
package registry
