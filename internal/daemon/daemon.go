package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"nudge/internal/api"
	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/delivery"
	"nudge/internal/envelope"
	"nudge/internal/logging"
	"nudge/internal/notify"
	"nudge/internal/presence"
	"nudge/internal/registry"
	"nudge/internal/secondary"
)

// Daemon owns the server runtime and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *registry.Store
	client  *broker.Client
	tracker *presence.Tracker
	server  *api.Server
	monitor *api.Monitor
	started time.Time

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status is the daemon's runtime summary, served to the CLI.
type Status struct {
	Running         bool
	BrokerConnected bool
	OnlineDevices   int
	UptimeSeconds   int64
	RegistryDBPath  string
	LockFilePath    string
}

// New constructs a daemon with all services wired but nothing started.
func New(cfg *config.Config, store *registry.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	client, err := broker.NewClient(broker.ClientOptions{
		Broker:   cfg.Broker,
		ClientID: "nudged",
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("broker client: %w", err)
	}

	codec := notify.NewCodec(envelope.EncryptField)
	tracker := presence.NewTracker(store, client, client, codec, cfg.Welcome, logger)

	secondaryCh, err := secondary.NewChannel(cfg.Secondary, logger)
	if err != nil {
		return nil, fmt.Errorf("secondary channel: %w", err)
	}
	orchestrator := delivery.NewOrchestrator(store, tracker, client, codec, secondaryCh, logger)

	started := time.Now()
	server := api.NewServer(api.Options{
		Sender:   orchestrator,
		Presence: tracker,
		Registry: store,
		ValidateKey: func(publicKeyPEM string) error {
			_, err := envelope.ParsePublicKey(publicKeyPEM)
			return err
		},
		Token:        cfg.Paths.APIToken,
		Started:      started,
		HistoryLimit: cfg.Monitor.HistoryLimit,
		Logger:       logger,
	})
	monitor := api.NewMonitor(store, tracker, started,
		time.Duration(cfg.Monitor.SnapshotIntervalSeconds)*time.Second, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "nudged.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		client:   client,
		tracker:  tracker,
		server:   server,
		monitor:  monitor,
		started:  started,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches all services. The broker
// connection is established in the background; the API and presence tracker
// come up immediately so registration works even while the broker is down.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another nudged instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.client.Connect(runCtx); err != nil {
			d.logger.Error("broker connect failed", logging.Error(err))
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.tracker.Run(runCtx, d.client.Events())
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.monitor.Run(runCtx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Run(runCtx, d.cfg.Paths.APIBind); err != nil {
			d.logger.Error("api server failed", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("nudged started", slog.String("lock", d.lockPath))
	return nil
}

// Stop shuts down services and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.client.Disconnect()
	d.tracker.Wait()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("nudged stopped")
}

// Close stops the daemon and releases the registry store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current runtime summary.
func (d *Daemon) Status() Status {
	return Status{
		Running:         d.running.Load(),
		BrokerConnected: d.tracker.IsConnected(),
		OnlineDevices:   d.tracker.OnlineCount(),
		UptimeSeconds:   int64(time.Since(d.started).Seconds()),
		RegistryDBPath:  d.store.Path(),
		LockFilePath:    d.lockPath,
	}
}
