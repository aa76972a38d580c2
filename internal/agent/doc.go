// Package agent implements the device-side receiver.
//
// An agent holds a device identity (UUID plus the two RSA private keys),
// connects to the broker with a retained signed offline status as its last
// will, announces itself with a retained signed online status, and consumes
// its own notification topic. Inbound envelopes decrypt all-or-nothing: if
// any of the three fields fails to decrypt the whole notification is
// dropped, so the sink never sees partial plaintext.
package agent
