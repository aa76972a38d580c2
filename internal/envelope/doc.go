// Package envelope implements the asymmetric primitives used on both the
// server and device sides: RSA PKCS#1 v1.5 encryption of short notification
// fields and SHA-256 PKCS#1 v1.5 signatures over status payloads.
//
// Public keys arrive as PEM text from the registry; both PKCS#1 and PKIX
// encodings are accepted because registered devices ship either form.
// Decryption failures collapse into a single generic error so callers cannot
// distinguish padding faults from key mismatches.
package envelope
