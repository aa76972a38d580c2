package testsupport

import (
	"context"
	"testing"

	"nudge/internal/config"
	"nudge/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RegisterDevice stores a device for tests using the provided store.
func RegisterDevice(t testing.TB, store *registry.Store, device registry.Device) {
	t.Helper()

	if err := store.Register(context.Background(), device); err != nil {
		t.Fatalf("store.Register: %v", err)
	}
}
