// Package api exposes the server's operator surface over HTTP: device
// registration, notification submission, live status, and status history.
// Delivery outcomes map one-to-one onto HTTP responses; handlers add only
// input validation and bearer-token auth on top of the delivery and
// registry layers.
package api
