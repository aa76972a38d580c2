package agent

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"nudge/internal/envelope"
)

// deviceNamespace scopes the deterministic device UUID derivation. It never
// changes; the same address and hardware pin must always yield the same UUID.
var deviceNamespace = uuid.MustParse("b4a71f9e-23d6-4c8a-9f0d-6c1e52a8b7d3")

// Identity is the persisted device identity. The private keys are stored as
// PEM so the file is portable between installs.
type Identity struct {
	UUID                   string `json:"uuid"`
	Address                string `json:"address"`
	NotificationPrivateKey string `json:"notification_private_key"`
	StatusPrivateKey       string `json:"status_private_key"`
}

// DeviceUUID derives the stable device identifier from the registered
// address and a hardware pin.
func DeviceUUID(address, hardwarePin string) string {
	return uuid.NewSHA1(deviceNamespace, []byte(address+"\x00"+hardwarePin)).String()
}

// NewIdentity generates fresh RSA key pairs and derives the device UUID.
func NewIdentity(address, hardwarePin string, keyBits int) (*Identity, error) {
	notifPriv, _, err := envelope.GenerateKeyPair(keyBits)
	if err != nil {
		return nil, fmt.Errorf("notification key: %w", err)
	}
	statusPriv, _, err := envelope.GenerateKeyPair(keyBits)
	if err != nil {
		return nil, fmt.Errorf("status key: %w", err)
	}
	return &Identity{
		UUID:                   DeviceUUID(address, hardwarePin),
		Address:                address,
		NotificationPrivateKey: notifPriv,
		StatusPrivateKey:       statusPriv,
	}, nil
}

// LoadIdentity reads an identity file and checks it is usable.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity %s: %w", path, err)
	}
	if id.UUID == "" || id.Address == "" || id.NotificationPrivateKey == "" || id.StatusPrivateKey == "" {
		return nil, fmt.Errorf("identity %s is incomplete", path)
	}
	return &id, nil
}

// Save writes the identity with owner-only permissions.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("identity directory: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// NotificationKey parses the stored notification private key.
func (id *Identity) NotificationKey() (*rsa.PrivateKey, error) {
	return envelope.ParsePrivateKey(id.NotificationPrivateKey)
}

// StatusKey parses the stored status signing key.
func (id *Identity) StatusKey() (*rsa.PrivateKey, error) {
	return envelope.ParsePrivateKey(id.StatusPrivateKey)
}

// NotificationPublicKey returns the PEM public half of the notification key,
// as registered with the server.
func (id *Identity) NotificationPublicKey() (string, error) {
	priv, err := id.NotificationKey()
	if err != nil {
		return "", err
	}
	return envelope.MarshalPublicKey(&priv.PublicKey)
}

// StatusPublicKey returns the PEM public half of the status signing key.
func (id *Identity) StatusPublicKey() (string, error) {
	priv, err := id.StatusKey()
	if err != nil {
		return "", err
	}
	return envelope.MarshalPublicKey(&priv.PublicKey)
}
