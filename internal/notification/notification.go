// Package notification delivers best-effort account events. Delivery runs
// outside every financial mutation: a dropped or failed event never affects
// a committed balance change.
package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type Event struct {
	AccountID uuid.UUID
	Message   string
	Metadata  map[string]string
}

// Notifier is the external delivery collaborator. No delivery guarantee is
// required from it.
type Notifier interface {
	Emit(ctx context.Context, event Event) error
}

// LogNotifier writes events to the log. It stands in for the real push
// transport, which is out of scope for the engine.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Emit(_ context.Context, event Event) error {
	n.logger.Info("notification",
		"account_id", event.AccountID,
		"message", event.Message,
		"metadata", event.Metadata)
	return nil
}
