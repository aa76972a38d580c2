package agent

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/envelope"
	"nudge/internal/logging"
	"nudge/internal/notify"
)

// State is the receiver's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Session is the broker connection the receiver drives. *broker.Client
// satisfies it.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(topicFilter string) error
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Events() <-chan broker.Event
}

// NewBrokerSession builds a broker client for the device: client id derived
// from the device UUID and a retained signed offline status registered as
// the last will, so the server sees the device drop even on an unclean
// disconnect.
func NewBrokerSession(id *Identity, cfg config.Broker, logger *slog.Logger) (*broker.Client, error) {
	statusKey, err := id.StatusKey()
	if err != nil {
		return nil, fmt.Errorf("status key: %w", err)
	}
	will, err := notify.SignStatus(statusKey, false)
	if err != nil {
		return nil, fmt.Errorf("sign offline status: %w", err)
	}
	return broker.NewClient(broker.ClientOptions{
		Broker:   cfg,
		ClientID: "nudge-agent-" + id.UUID,
		Will: &broker.Will{
			Topic:    broker.StatusTopic(id.UUID),
			Payload:  will,
			Retained: true,
		},
		Logger: logger,
	})
}

// Receiver consumes the device's notification topic and announces presence.
type Receiver struct {
	identity  *Identity
	session   Session
	sink      Sink
	logger    *slog.Logger
	notifKey  *rsa.PrivateKey
	statusKey *rsa.PrivateKey

	mu    sync.RWMutex
	state State

	deliveries sync.WaitGroup
}

// NewReceiver parses the identity's keys and prepares a receiver over the
// given session.
func NewReceiver(id *Identity, session Session, sink Sink, logger *slog.Logger) (*Receiver, error) {
	notifKey, err := id.NotificationKey()
	if err != nil {
		return nil, fmt.Errorf("notification key: %w", err)
	}
	statusKey, err := id.StatusKey()
	if err != nil {
		return nil, fmt.Errorf("status key: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Receiver{
		identity:  id,
		session:   session,
		sink:      sink,
		logger:    logging.NewComponentLogger(logger, "agent"),
		notifKey:  notifKey,
		statusKey: statusKey,
		state:     StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (r *Receiver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Receiver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run connects and processes events until ctx is cancelled. On shutdown it
// publishes a retained signed offline status so the server does not have to
// wait for the last will.
func (r *Receiver) Run(ctx context.Context) error {
	r.setState(StateConnecting)
	if err := r.session.Connect(ctx); err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("broker connect: %w", err)
	}

	events := r.session.Events()
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case ev, ok := <-events:
			if !ok {
				r.shutdown()
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Receiver) handle(ctx context.Context, ev broker.Event) {
	switch ev.Kind {
	case broker.EventConnected:
		r.announce(ctx)
	case broker.EventConnectionLost:
		r.setState(StateConnecting)
		r.logger.Warn("broker connection lost, reconnecting", logging.Error(ev.Err))
	case broker.EventMessage:
		r.handleNotification(ev)
	}
}

// announce subscribes to the device's own notification topic and publishes a
// retained signed online status. It runs on every connect, including
// automatic reconnects, because the broker forgets session state in between.
func (r *Receiver) announce(ctx context.Context) {
	topic := broker.NotificationTopic(r.identity.UUID)
	if err := r.session.Subscribe(topic); err != nil {
		r.logger.Error("notification subscribe failed", logging.FieldTopic, topic, logging.Error(err))
		return
	}
	status, err := notify.SignStatus(r.statusKey, true)
	if err != nil {
		r.logger.Error("sign online status failed", logging.Error(err))
		return
	}
	if err := r.session.Publish(ctx, broker.StatusTopic(r.identity.UUID), status, true); err != nil {
		r.logger.Error("online status publish failed", logging.Error(err))
		return
	}
	r.setState(StateConnected)
	r.logger.Info("connected and announced", logging.FieldDeviceID, r.identity.UUID)
}

// handleNotification decrypts an inbound envelope. Decryption is all or
// nothing: if any field fails, the sink sees nothing.
func (r *Receiver) handleNotification(ev broker.Event) {
	env, err := notify.UnmarshalEnvelope(ev.Payload)
	if err != nil {
		r.logger.Warn("malformed notification discarded", logging.Error(err))
		return
	}
	itemID, err := envelope.DecryptField(r.notifKey, env.ItemID)
	if err != nil {
		r.logger.Warn("notification discarded, itemid undecryptable")
		return
	}
	title, err := envelope.DecryptField(r.notifKey, env.Title)
	if err != nil {
		r.logger.Warn("notification discarded, title undecryptable")
		return
	}
	subtitle, err := envelope.DecryptField(r.notifKey, env.Subtitle)
	if err != nil {
		r.logger.Warn("notification discarded, subtitle undecryptable")
		return
	}

	n := Notification{
		ItemID:     itemID,
		Title:      title,
		Subtitle:   subtitle,
		ReceivedAt: time.Now().UTC(),
	}
	// Sink hand-off is asynchronous so a slow sink cannot back up the
	// broker event stream.
	r.deliveries.Add(1)
	go func() {
		defer r.deliveries.Done()
		if err := r.sink.Deliver(n); err != nil {
			r.logger.Error("sink delivery failed", logging.Error(err))
		}
	}()
}

// Wait blocks until all in-flight sink deliveries have completed.
func (r *Receiver) Wait() {
	r.deliveries.Wait()
}

func (r *Receiver) shutdown() {
	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if status, err := notify.SignStatus(r.statusKey, false); err == nil {
		if err := r.session.Publish(offCtx, broker.StatusTopic(r.identity.UUID), status, true); err != nil {
			r.logger.Warn("offline status publish failed", logging.Error(err))
		}
	}
	r.session.Disconnect()
	r.deliveries.Wait()
	r.setState(StateDisconnected)
}
