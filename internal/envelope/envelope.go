package envelope

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrCrypto marks failures caused by malformed keys, ciphertext, or payloads
// that exceed the key's capacity. Callers discard the offending message or
// fail the single request; the error never carries oracle detail.
var ErrCrypto = errors.New("crypto error")

// EncryptField encrypts plaintext under the given PEM public key using RSA
// PKCS#1 v1.5 and returns the base64-encoded ciphertext. The plaintext must
// fit the key's modulus capacity; no chunking is performed.
func EncryptField(publicKeyPEM, plaintext string) (string, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("%w: encrypt field: %w", ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptField reverses EncryptField with the matching private key. Any
// failure, whether malformed base64, a wrong key, or bad padding, surfaces as
// the same generic ErrCrypto.
func DecryptField(privateKey *rsa.PrivateKey, base64Ciphertext string) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("%w: decrypt field", ErrCrypto)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(base64Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt field", ErrCrypto)
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, privateKey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt field", ErrCrypto)
	}
	return string(plaintext), nil
}

// SignPayload signs the UTF-8 bytes of payload with SHA-256 and PKCS#1 v1.5
// padding and returns the base64-encoded signature.
func SignPayload(privateKey *rsa.PrivateKey, payload string) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("%w: sign payload", ErrCrypto)
	}
	digest := sha256.Sum256([]byte(payload))
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: sign payload: %w", ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// VerifySignature reports whether base64Signature is a valid signature over
// the exact UTF-8 bytes of payload under the given PEM public key. Malformed
// input of any kind yields false; verification failure is a normal outcome,
// never an error.
func VerifySignature(publicKeyPEM, payload, base64Signature string) bool {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(base64Signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(payload))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key in either PKCS#1 or
// PKIX form.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in public key", ErrCrypto)
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key", ErrCrypto)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrCrypto)
	}
	return pub, nil
}

// ParsePrivateKey decodes a PEM-encoded RSA private key in either PKCS#1 or
// PKCS#8 form.
func ParsePrivateKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in private key", ErrCrypto)
	}
	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key", ErrCrypto)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrCrypto)
	}
	return priv, nil
}

// MarshalPublicKey renders an RSA public key as PKIX PEM text.
func MarshalPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// MarshalPrivateKey renders an RSA private key as PKCS#1 PEM text.
func MarshalPrivateKey(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

// GenerateKeyPair creates a fresh RSA key pair of the given bit size and
// returns the PEM encodings of both halves.
func GenerateKeyPair(bits int) (privatePEM, publicPEM string, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("generate key pair: %w", err)
	}
	publicPEM, err = MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}
	return MarshalPrivateKey(priv), publicPEM, nil
}
