package notify

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
)

// Envelope is the notification payload published to a device. Every field is
// independently RSA-encrypted under the recipient's notification public key;
// the server never transmits plaintext.
type Envelope struct {
	ItemID   string `json:"itemid"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// Marshal renders the envelope as wire JSON.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope parses wire JSON into an Envelope. All three ciphertext
// fields must be present.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.ItemID == "" || env.Title == "" || env.Subtitle == "" {
		return Envelope{}, fmt.Errorf("envelope missing required fields")
	}
	return env, nil
}

// FieldEncrypter encrypts a single plaintext field under a PEM public key.
type FieldEncrypter func(publicKeyPEM, plaintext string) (string, error)

// Codec builds notification envelopes. Encrypt is typically
// envelope.EncryptField; tests substitute a deterministic function.
type Codec struct {
	Encrypt FieldEncrypter
}

// NewCodec returns a codec using the provided field encrypter.
func NewCodec(encrypt FieldEncrypter) *Codec {
	return &Codec{Encrypt: encrypt}
}

// BuildPlainEnvelope encrypts title and body under the recipient's key and
// applies the deduplication rule: when collapseDuplicates is set, itemid
// reuses the title ciphertext so the receiving side replaces any prior
// undelivered notification with the same title; otherwise itemid encrypts a
// fresh random token and the notification is treated as unique.
func (c *Codec) BuildPlainEnvelope(recipientPublicKey, title, body string, collapseDuplicates bool) (Envelope, error) {
	encryptedTitle, err := c.Encrypt(recipientPublicKey, title)
	if err != nil {
		return Envelope{}, err
	}
	encryptedBody, err := c.Encrypt(recipientPublicKey, body)
	if err != nil {
		return Envelope{}, err
	}
	itemID, err := c.itemID(recipientPublicKey, encryptedTitle, collapseDuplicates)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ItemID: itemID, Title: encryptedTitle, Subtitle: encryptedBody}, nil
}

// BuildPreEncryptedEnvelope applies the same itemid rule to ciphertext the
// caller encrypted out of band, for senders that never hand the server
// plaintext.
func (c *Codec) BuildPreEncryptedEnvelope(recipientPublicKey, encryptedTitle, encryptedBody string, collapseDuplicates bool) (Envelope, error) {
	itemID, err := c.itemID(recipientPublicKey, encryptedTitle, collapseDuplicates)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ItemID: itemID, Title: encryptedTitle, Subtitle: encryptedBody}, nil
}

func (c *Codec) itemID(recipientPublicKey, encryptedTitle string, collapseDuplicates bool) (string, error) {
	if collapseDuplicates {
		return encryptedTitle, nil
	}
	token, err := randomToken(tokenLength)
	if err != nil {
		return "", err
	}
	return c.Encrypt(recipientPublicKey, token)
}

const (
	tokenLength   = 10
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func randomToken(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random token: %w", err)
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}
