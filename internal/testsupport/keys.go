package testsupport

import (
	"testing"

	"nudge/internal/envelope"
)

// KeyPair is a PEM-encoded RSA key pair for tests.
type KeyPair struct {
	Private string
	Public  string
}

// MustKeyPair generates a 2048-bit RSA key pair or fails the test.
func MustKeyPair(t testing.TB) KeyPair {
	t.Helper()

	priv, pub, err := envelope.GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return KeyPair{Private: priv, Public: pub}
}
