package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/logging"
	"nudge/internal/notify"
)

// Directory provides the device lookups the tracker needs. *registry.Store
// satisfies it.
type Directory interface {
	StatusKey(ctx context.Context, deviceID string) (string, error)
	NotificationKey(ctx context.Context, deviceID string) (string, error)
	LastSeenOnline(ctx context.Context, deviceID string) (*time.Time, error)
	SetLastSeenOnline(ctx context.Context, deviceID string, at time.Time) error
}

// Publisher sends payloads to broker topics. *broker.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
}

// Subscriber registers topic subscriptions. *broker.Client satisfies it.
type Subscriber interface {
	Subscribe(topicFilter string) error
}

// Tracker maintains the in-memory presence table for all known devices.
type Tracker struct {
	directory  Directory
	publisher  Publisher
	subscriber Subscriber
	codec      *notify.Codec
	welcome    config.Welcome
	logger     *slog.Logger

	mu         sync.RWMutex
	connected  bool
	subscribed bool
	online     map[string]bool

	welcomes sync.WaitGroup
}

// NewTracker wires a tracker against the broker and device directory. The
// codec is used to build welcome notifications; welcome sends are skipped
// entirely when cfg.Enabled is false.
func NewTracker(directory Directory, publisher Publisher, subscriber Subscriber, codec *notify.Codec, cfg config.Welcome, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		directory:  directory,
		publisher:  publisher,
		subscriber: subscriber,
		codec:      codec,
		welcome:    cfg,
		logger:     logging.NewComponentLogger(logger, "presence"),
		online:     make(map[string]bool),
	}
}

// Run consumes broker events until ctx is cancelled or the channel closes.
// It is the only goroutine that mutates presence state, so events apply in
// arrival order.
func (t *Tracker) Run(ctx context.Context, events <-chan broker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.handle(ctx, ev)
		}
	}
}

// Wait blocks until all in-flight welcome sends have finished. The daemon
// calls it during shutdown so a welcome dispatched just before stop is not
// silently dropped.
func (t *Tracker) Wait() {
	t.welcomes.Wait()
}

// IsOnline reports whether the device most recently published an online
// status. Unknown devices are offline.
func (t *Tracker) IsOnline(deviceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[deviceID]
}

// IsConnected reports whether the broker session is currently established.
func (t *Tracker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// OnlineCount returns the number of devices currently marked online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, on := range t.online {
		if on {
			count++
		}
	}
	return count
}

func (t *Tracker) handle(ctx context.Context, ev broker.Event) {
	switch ev.Kind {
	case broker.EventConnected:
		t.handleConnected()
	case broker.EventConnectionLost:
		t.handleConnectionLost(ev)
	case broker.EventMessage:
		t.handleMessage(ctx, ev)
	}
}

func (t *Tracker) handleConnected() {
	t.mu.Lock()
	t.connected = true
	needSubscribe := !t.subscribed
	t.mu.Unlock()

	if !needSubscribe {
		return
	}
	if err := t.subscriber.Subscribe(broker.StatusWildcard); err != nil {
		t.logger.Error("status subscription failed", logging.Error(err))
		return
	}
	t.mu.Lock()
	t.subscribed = true
	t.mu.Unlock()
	t.logger.Info("subscribed to device status topics", logging.FieldTopic, broker.StatusWildcard)
}

func (t *Tracker) handleConnectionLost(ev broker.Event) {
	t.mu.Lock()
	t.connected = false
	t.subscribed = false
	cleared := len(t.online)
	t.online = make(map[string]bool)
	t.mu.Unlock()

	t.logger.Warn("broker connection lost, presence cleared",
		slog.Int("devices_cleared", cleared),
		logging.Error(ev.Err))
}

func (t *Tracker) handleMessage(ctx context.Context, ev broker.Event) {
	deviceID, ok := broker.ParseStatusTopic(ev.Topic)
	if !ok {
		return
	}
	statusKey, err := t.directory.StatusKey(ctx, deviceID)
	if err != nil {
		t.logger.Error("status key lookup failed", logging.FieldDeviceID, deviceID, logging.Error(err))
		return
	}
	if statusKey == "" {
		t.logger.Debug("status from unknown device discarded", logging.FieldDeviceID, deviceID)
		return
	}
	online, valid := notify.VerifyStatus(statusKey, ev.Payload)
	if !valid {
		t.logger.Warn("status with invalid signature discarded", logging.FieldDeviceID, deviceID)
		return
	}

	t.mu.Lock()
	t.online[deviceID] = online
	t.mu.Unlock()
	t.logger.Debug("device status updated", logging.FieldDeviceID, deviceID, slog.Bool("online", online))

	if online {
		t.recordOnline(ctx, deviceID)
	}
}

// recordOnline handles the first-online welcome and persists the last-seen
// timestamp. The welcome decision is made synchronously against the stored
// timestamp before it is updated, so a device receives at most one welcome
// across restarts.
func (t *Tracker) recordOnline(ctx context.Context, deviceID string) {
	lastSeen, err := t.directory.LastSeenOnline(ctx, deviceID)
	if err != nil {
		t.logger.Error("last-seen lookup failed", logging.FieldDeviceID, deviceID, logging.Error(err))
		return
	}
	if lastSeen == nil && t.welcome.Enabled {
		t.dispatchWelcome(ctx, deviceID)
	}
	if err := t.directory.SetLastSeenOnline(ctx, deviceID, time.Now().UTC()); err != nil {
		t.logger.Error("last-seen update failed", logging.FieldDeviceID, deviceID, logging.Error(err))
	}
}

func (t *Tracker) dispatchWelcome(ctx context.Context, deviceID string) {
	notificationKey, err := t.directory.NotificationKey(ctx, deviceID)
	if err != nil {
		t.logger.Error("notification key lookup failed", logging.FieldDeviceID, deviceID, logging.Error(err))
		return
	}
	if notificationKey == "" {
		return
	}
	env, err := t.codec.BuildPlainEnvelope(notificationKey, t.welcome.Title, t.welcome.Body, false)
	if err != nil {
		t.logger.Error("welcome encryption failed", logging.FieldDeviceID, deviceID, logging.Error(err))
		return
	}
	payload, err := env.Marshal()
	if err != nil {
		t.logger.Error("welcome encoding failed", logging.FieldDeviceID, deviceID, logging.Error(err))
		return
	}

	// Publish off the event loop so a slow broker cannot stall status
	// processing. Detached from ctx: loop shutdown must not abort a
	// welcome already decided.
	sendCtx := context.WithoutCancel(ctx)
	t.welcomes.Add(1)
	go func() {
		defer t.welcomes.Done()
		if err := t.publisher.Publish(sendCtx, broker.NotificationTopic(deviceID), payload, false); err != nil {
			t.logger.Error("welcome publish failed", logging.FieldDeviceID, deviceID, logging.Error(err))
			return
		}
		t.logger.Info("welcome notification sent", logging.FieldDeviceID, deviceID)
	}()
}
