package secondary_test

import (
	"context"
	"testing"

	"nudge/internal/config"
	"nudge/internal/secondary"
)

func TestDisabledChannelIsNoop(t *testing.T) {
	ch, err := secondary.NewChannel(config.Secondary{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if ch.Enabled() {
		t.Fatal("disabled config must yield a disabled channel")
	}
	if err := ch.Send(context.Background(), "user@example.com", "subject", "body"); err == nil {
		t.Fatal("expected send on disabled channel to fail")
	}
}

func TestEnabledChannelConstruction(t *testing.T) {
	cfg := config.Secondary{
		Enabled:  true,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		Username: "relay",
		Password: "secret",
		From:     "nudge@example.com",
	}
	ch, err := secondary.NewChannel(cfg, nil)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if !ch.Enabled() {
		t.Fatal("enabled config must yield an enabled channel")
	}
}
