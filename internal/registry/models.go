package registry

import "time"

// Device is a registered endpoint. Identity and key material are immutable
// once registered; only LastSeenOnline changes afterwards. The notification
// and status keys are independent pairs and are never interchanged.
type Device struct {
	UUID                  string
	Address               string
	SecondaryAddress      string
	NotificationPublicKey string
	StatusPublicKey       string
	LastSeenOnline        *time.Time
	CreatedAt             time.Time
}

// Snapshot is a point-in-time record of server health, persisted for the
// status history endpoint.
type Snapshot struct {
	ID              int64
	BrokerConnected bool
	OnlineDevices   int
	UptimeSeconds   int64
	CheckedAt       time.Time
}
