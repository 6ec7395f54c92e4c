package notification

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher fans events out to a Notifier from a fixed pool of workers.
// Submit never blocks the caller: when the buffer is full the event is
// dropped and logged, not retried, because callers submit only after their
// own commit has already succeeded.
type Dispatcher struct {
	events   chan Event
	notifier Notifier
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(bufferSize int, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		events:   make(chan Event, bufferSize),
		notifier: notifier,
		logger:   logger,
	}
}

func (d *Dispatcher) Start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for event := range d.events {
		if err := d.notifier.Emit(context.Background(), event); err != nil {
			d.logger.Error("notification delivery failed",
				"account_id", event.AccountID,
				"message", event.Message,
				"error", err)
		}
	}
}

// Submit queues an event. It reports whether the event was accepted.
func (d *Dispatcher) Submit(event Event) bool {
	select {
	case d.events <- event:
		return true
	default:
		d.logger.Warn("notification buffer full, event dropped",
			"account_id", event.AccountID,
			"message", event.Message)
		return false
	}
}

// Shutdown stops accepting events and waits for the workers to drain.
func (d *Dispatcher) Shutdown() {
	close(d.events)
	d.wg.Wait()
}
