package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"nudge/internal/broker"
	"nudge/internal/logging"
	"nudge/internal/notify"
	"nudge/internal/registry"
	"nudge/internal/secondary"
)

// Method identifies the path a notification took toward the recipient.
type Method string

const (
	MethodBroker    Method = "broker"
	MethodSecondary Method = "secondary"
	MethodNone      Method = "none"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// Result is the structured outcome of a single send attempt. Code carries
// HTTP semantics so the API layer can return it unchanged.
type Result struct {
	Method Method `json:"method"`
	Status string `json:"status"`
	Code   int    `json:"code"`
	Err    string `json:"error,omitempty"`
}

// Request describes one notification to deliver.
type Request struct {
	// Recipient is the device's registered address, not its UUID.
	Recipient string
	Title     string
	Body      string
	// PreEncrypted marks Title and Body as ciphertext the sender already
	// produced for the recipient's key.
	PreEncrypted bool
	// QueueIfOffline publishes a retained message for offline recipients
	// instead of falling back to the secondary channel.
	QueueIfOffline bool
	// CollapseDuplicates reuses the title ciphertext as the item id so
	// repeated sends replace rather than stack on the device.
	CollapseDuplicates bool
	// Sender is informational, used when relaying over the secondary
	// channel.
	Sender string
}

// Presence is the live reachability view. *presence.Tracker satisfies it.
type Presence interface {
	IsOnline(deviceID string) bool
}

// Directory resolves recipient addresses. *registry.Store satisfies it.
type Directory interface {
	LookupByAddress(ctx context.Context, address string) (*registry.Device, error)
}

// Publisher sends payloads to broker topics. *broker.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
}

// Orchestrator routes notifications to recipients.
type Orchestrator struct {
	directory Directory
	presence  Presence
	publisher Publisher
	codec     *notify.Codec
	secondary secondary.Channel
	logger    *slog.Logger
}

// NewOrchestrator wires a delivery orchestrator. secondaryCh may be a
// disabled channel; it is only consulted for offline recipients that carry a
// secondary address.
func NewOrchestrator(directory Directory, pres Presence, publisher Publisher, codec *notify.Codec, secondaryCh secondary.Channel, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		directory: directory,
		presence:  pres,
		publisher: publisher,
		codec:     codec,
		secondary: secondaryCh,
		logger:    logging.NewComponentLogger(logger, "delivery"),
	}
}

// Send attempts delivery and always returns a Result, never panics. A panic
// anywhere in the pipeline surfaces as a 500 so one bad request cannot take
// the server down.
func (o *Orchestrator) Send(ctx context.Context, req Request) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("delivery panicked",
				logging.FieldRecipient, req.Recipient,
				slog.Any("panic", r))
			result = failure(MethodNone, 500, fmt.Sprintf("internal error: %v", r))
		}
	}()

	device, err := o.directory.LookupByAddress(ctx, req.Recipient)
	if err != nil {
		return failure(MethodNone, 500, fmt.Sprintf("directory lookup: %v", err))
	}
	if device == nil {
		return failure(MethodNone, 404, "unknown recipient")
	}

	payload, err := o.encode(device, req)
	if err != nil {
		return failure(MethodNone, 500, fmt.Sprintf("encrypt notification: %v", err))
	}
	topic := broker.NotificationTopic(device.UUID)

	if o.presence.IsOnline(device.UUID) {
		if err := o.publisher.Publish(ctx, topic, payload, false); err != nil {
			return failure(MethodBroker, 500, fmt.Sprintf("broker publish: %v", err))
		}
		o.logResult(device, MethodBroker, 200)
		return Result{Method: MethodBroker, Status: StatusSuccess, Code: 200}
	}

	if req.QueueIfOffline {
		// Retained publish: the broker replays it when the device
		// reconnects and subscribes.
		if err := o.publisher.Publish(ctx, topic, payload, true); err != nil {
			return failure(MethodBroker, 500, fmt.Sprintf("broker publish: %v", err))
		}
		o.logResult(device, MethodBroker, 202)
		return Result{Method: MethodBroker, Status: StatusSuccess, Code: 202}
	}

	if o.secondary.Enabled() && device.SecondaryAddress != "" {
		subject := "Notification relay"
		if req.Sender != "" {
			subject = fmt.Sprintf("Notification relay from %s", req.Sender)
		}
		if err := o.secondary.Send(ctx, device.SecondaryAddress, subject, string(payload)); err != nil {
			return failure(MethodSecondary, 502, fmt.Sprintf("secondary channel: %v", err))
		}
		o.logResult(device, MethodSecondary, 200)
		return Result{Method: MethodSecondary, Status: StatusSuccess, Code: 200}
	}

	return failure(MethodNone, 409, "recipient offline")
}

func (o *Orchestrator) encode(device *registry.Device, req Request) ([]byte, error) {
	var env notify.Envelope
	var err error
	if req.PreEncrypted {
		env, err = o.codec.BuildPreEncryptedEnvelope(device.NotificationPublicKey, req.Title, req.Body, req.CollapseDuplicates)
	} else {
		env, err = o.codec.BuildPlainEnvelope(device.NotificationPublicKey, req.Title, req.Body, req.CollapseDuplicates)
	}
	if err != nil {
		return nil, err
	}
	return env.Marshal()
}

func (o *Orchestrator) logResult(device *registry.Device, method Method, code int) {
	o.logger.Info("notification delivered",
		logging.FieldDeviceID, device.UUID,
		logging.FieldMethod, string(method),
		logging.FieldCode, code)
}

func failure(method Method, code int, msg string) Result {
	return Result{Method: method, Status: StatusFail, Code: code, Err: msg}
}
