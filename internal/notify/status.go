package notify

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"nudge/internal/envelope"
)

// SignedStatus is the wire form of a device presence report. Payload is the
// canonical JSON string `{"status": bool}`; Signature is the base64 PKCS#1
// v1.5 signature over the exact UTF-8 bytes of Payload. The payload string is
// carried verbatim because re-serializing the JSON would not reproduce the
// signed bytes.
type SignedStatus struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type statusPayload struct {
	Status bool `json:"status"`
}

// SignStatus builds and signs a status envelope with the device's status
// private key.
func SignStatus(privateKey *rsa.PrivateKey, online bool) ([]byte, error) {
	payload, err := json.Marshal(statusPayload{Status: online})
	if err != nil {
		return nil, fmt.Errorf("marshal status payload: %w", err)
	}
	signature, err := envelope.SignPayload(privateKey, string(payload))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(SignedStatus{Payload: string(payload), Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("marshal signed status: %w", err)
	}
	return data, nil
}

// VerifyStatus parses a raw status message, checks the signature against the
// device's status public key, and returns the reported online flag. ok is
// false for any malformed or forged input; the caller discards such messages.
func VerifyStatus(publicKeyPEM string, raw []byte) (online bool, ok bool) {
	var signed SignedStatus
	if err := json.Unmarshal(raw, &signed); err != nil {
		return false, false
	}
	if signed.Payload == "" || signed.Signature == "" {
		return false, false
	}
	if !envelope.VerifySignature(publicKeyPEM, signed.Payload, signed.Signature) {
		return false, false
	}
	var payload statusPayload
	if err := json.Unmarshal([]byte(signed.Payload), &payload); err != nil {
		return false, false
	}
	return payload.Status, true
}
