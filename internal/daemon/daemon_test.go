package daemon_test

import (
	"context"
	"testing"

	"nudge/internal/daemon"
	"nudge/internal/logging"
	"nudge/internal/testsupport"
)

func TestDaemonLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	status := d.Status()
	if status.Running {
		t.Fatal("daemon reports running before Start")
	}
	if status.RegistryDBPath != store.Path() {
		t.Fatalf("registry path = %q, want %q", status.RegistryDBPath, store.Path())
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("daemon not running after Start")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second Start on a running daemon must fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("daemon still running after Stop")
	}
	// Stop is idempotent.
	d.Stop()
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}
