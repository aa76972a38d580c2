// Package delivery decides how a notification reaches its recipient.
//
// The orchestrator consults the device directory and the live presence view,
// encrypts the notification for the recipient, and then picks exactly one
// path: an immediate broker publish for online devices, a retained publish
// when the sender asked to queue for offline devices, a secondary-channel
// relay when the device is offline and has one configured, or a structured
// refusal. Every outcome is reported as a Result so callers can map it
// straight onto an HTTP response.
package delivery
