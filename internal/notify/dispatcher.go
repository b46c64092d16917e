// Package notify abstracts outbound notification channels (SMS/email/push).
// Delivery is always best-effort relative to the caller's primary operation:
// a dispatch failure is logged, never propagated.
package notify

import (
	"context"
	"log/slog"

	"trustgate/pkg/domain"
)

// Payload is what gets handed to the channel provider. Body may contain a
// code plaintext in transit; it must never be logged or persisted.
type Payload struct {
	Subject string
	Body    string
}

// Result reports the provider outcome for one send.
type Result struct {
	Success   bool
	MessageID string
	Err       error
}

// Dispatcher sends a payload over a channel to a recipient. Implementations
// wrap SMS/email/push providers; this repo only ships a dev logger.
type Dispatcher interface {
	Send(ctx context.Context, channel domain.DeliveryChannel, recipient string, payload Payload) Result
}

// LogDispatcher is the development dispatcher: it records that a send
// happened without the payload body, so codes never reach logs.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher constructs a dev dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, channel domain.DeliveryChannel, recipient string, payload Payload) Result {
	d.logger.InfoContext(ctx, "notification dispatched",
		"channel", channel,
		"recipient", recipient,
		"subject", payload.Subject,
	)
	return Result{Success: true, MessageID: "dev-log"}
}
