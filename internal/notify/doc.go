// Package notify defines the wire formats carried over the broker: the
// field-wise encrypted notification envelope published to a device's
// notification topic, and the signed status envelope devices publish to their
// status topic.
package notify
