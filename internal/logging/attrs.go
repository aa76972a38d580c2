package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldDeviceID is the standardized structured logging key for device identifiers.
	FieldDeviceID = "device_id"
	// FieldTopic is the standardized structured logging key for broker topics.
	FieldTopic = "topic"
	// FieldMethod is the standardized structured logging key for delivery methods.
	FieldMethod = "method"
	// FieldCode is the standardized structured logging key for result codes.
	FieldCode = "code"
	// FieldRecipient is the standardized structured logging key for recipient addresses.
	FieldRecipient = "recipient"
)

// Error wraps an error for structured logging.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that discards all output.
func NewNop() *slog.Logger {
	return slog.New(noopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return noopHandler{} }
func (noopHandler) WithGroup(string) slog.Handler             { return noopHandler{} }
