package agent_test

import (
	"path/filepath"
	"testing"

	"nudge/internal/agent"
	"nudge/internal/envelope"
)

func TestDeviceUUIDDeterministic(t *testing.T) {
	a := agent.DeviceUUID("alice", "pin-1234")
	b := agent.DeviceUUID("alice", "pin-1234")
	if a != b {
		t.Fatalf("same inputs produced %q and %q", a, b)
	}
	if agent.DeviceUUID("alice", "pin-9999") == a {
		t.Fatal("different hardware pin must change the UUID")
	}
	if agent.DeviceUUID("bob", "pin-1234") == a {
		t.Fatal("different address must change the UUID")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	id, err := agent.NewIdentity("alice", "pin-1234", 2048)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if id.UUID != agent.DeviceUUID("alice", "pin-1234") {
		t.Fatalf("UUID = %q, want derived value", id.UUID)
	}

	path := filepath.Join(t.TempDir(), "identity.json")
	if err := id.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := agent.LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if loaded.UUID != id.UUID || loaded.Address != id.Address {
		t.Fatalf("loaded identity differs: %+v", loaded)
	}

	// The stored keys must actually work as an encryption pair.
	pubPEM, err := loaded.NotificationPublicKey()
	if err != nil {
		t.Fatalf("NotificationPublicKey: %v", err)
	}
	ciphertext, err := envelope.EncryptField(pubPEM, "probe")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	priv, err := loaded.NotificationKey()
	if err != nil {
		t.Fatalf("NotificationKey: %v", err)
	}
	plain, err := envelope.DecryptField(priv, ciphertext)
	if err != nil || plain != "probe" {
		t.Fatalf("DecryptField = %q, %v", plain, err)
	}
}

func TestLoadIdentityRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	id := &agent.Identity{UUID: "u", Address: "a"}
	if err := id.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := agent.LoadIdentity(path); err == nil {
		t.Fatal("identity without keys must be rejected")
	}
}
