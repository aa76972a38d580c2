package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"nudge/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrConflict indicates a registration collides with an existing device id or
// address. Overwriting an existing registration is not allowed; key rotation
// would require verifying the device first.
var ErrConflict = errors.New("already registered")

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store manages device registrations backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the registry database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "registry.db"))
}

// OpenPath opens the registry database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Register inserts a new device. Existing registrations are never overwritten:
// a uuid or address collision returns ErrConflict.
func (s *Store) Register(ctx context.Context, device Device) error {
	device.UUID = strings.TrimSpace(device.UUID)
	device.Address = strings.TrimSpace(device.Address)
	if device.UUID == "" || device.Address == "" {
		return errors.New("device uuid and address are required")
	}
	if strings.TrimSpace(device.NotificationPublicKey) == "" || strings.TrimSpace(device.StatusPublicKey) == "" {
		return errors.New("device public keys are required")
	}

	var existing int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM devices WHERE uuid = ? OR address = ?",
		device.UUID, device.Address,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check existing device: %w", err)
	}
	if existing > 0 {
		return ErrConflict
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO devices (
            uuid, address, secondary_address,
            notification_public_key, status_public_key,
            last_seen_online, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		device.UUID,
		device.Address,
		nullableString(device.SecondaryAddress),
		device.NotificationPublicKey,
		device.StatusPublicKey,
		nullableTime(device.LastSeenOnline),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// LookupByAddress resolves a recipient address to its device record. Returns
// nil when no device is registered for the address.
func (s *Store) LookupByAddress(ctx context.Context, address string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE address = ?`, address)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device by address: %w", err)
	}
	return device, nil
}

// GetDevice fetches a device by id. Returns nil when unknown.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE uuid = ?`, deviceID)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// StatusKey returns the device's status public key PEM, or "" when the device
// is unknown.
func (s *Store) StatusKey(ctx context.Context, deviceID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT status_public_key FROM devices WHERE uuid = ?`, deviceID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("status key: %w", err)
	}
	return key, nil
}

// NotificationKey returns the device's notification public key PEM, or ""
// when the device is unknown.
func (s *Store) NotificationKey(ctx context.Context, deviceID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT notification_public_key FROM devices WHERE uuid = ?`, deviceID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("notification key: %w", err)
	}
	return key, nil
}

// LastSeenOnline returns the persisted last-seen timestamp, or nil when the
// device has never been observed online.
func (s *Store) LastSeenOnline(ctx context.Context, deviceID string) (*time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_seen_online FROM devices WHERE uuid = ?`, deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last seen online: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return nil, nil
	}
	return &parsed, nil
}

// SetLastSeenOnline records the most recent valid online observation.
func (s *Store) SetLastSeenOnline(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_online = ? WHERE uuid = ?`,
		at.UTC().Format(time.RFC3339Nano),
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("set last seen online: %w", err)
	}
	return nil
}

// ListDevices returns all registrations ordered by creation time.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// RecordSnapshot persists a status snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_snapshots (broker_connected, online_devices, uptime_seconds, checked_at)
         VALUES (?, ?, ?, ?)`,
		boolToInt(snap.BrokerConnected),
		snap.OnlineDevices,
		snap.UptimeSeconds,
		snap.CheckedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, oldest first.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, broker_connected, online_devices, uptime_seconds, checked_at
         FROM status_snapshots ORDER BY checked_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var (
			snap      Snapshot
			connected int
			checkedAt string
		)
		if err := rows.Scan(&snap.ID, &connected, &snap.OnlineDevices, &snap.UptimeSeconds, &checkedAt); err != nil {
			return nil, err
		}
		snap.BrokerConnected = connected != 0
		if parsed, err := time.Parse(time.RFC3339Nano, checkedAt); err == nil {
			snap.CheckedAt = parsed
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for display.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

const deviceColumns = "uuid, address, secondary_address, notification_public_key, status_public_key, last_seen_online, created_at"

func scanDevice(scanner interface{ Scan(dest ...any) error }) (*Device, error) {
	var (
		device    Device
		secondary sql.NullString
		lastSeen  sql.NullString
		createdAt sql.NullString
	)
	if err := scanner.Scan(
		&device.UUID,
		&device.Address,
		&secondary,
		&device.NotificationPublicKey,
		&device.StatusPublicKey,
		&lastSeen,
		&createdAt,
	); err != nil {
		return nil, err
	}
	device.SecondaryAddress = secondary.String
	if lastSeen.Valid && lastSeen.String != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastSeen.String); err == nil {
			device.LastSeenOnline = &parsed
		}
	}
	if createdAt.Valid {
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
			device.CreatedAt = parsed
		}
	}
	return &device, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
