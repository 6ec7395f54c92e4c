package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Emit(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func TestDispatcherDeliversEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(16, notifier, testLogger())
	d.Start(2)

	for i := 0; i < 5; i++ {
		ok := d.Submit(Event{AccountID: uuid.New(), Message: "credit applied"})
		require.True(t, ok)
	}

	d.Shutdown()
	assert.Equal(t, 5, notifier.count())
}

func TestSubmitDropsWhenBufferFull(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(1, notifier, testLogger())
	// No workers started: the buffer fills after one event.

	assert.True(t, d.Submit(Event{Message: "first"}))
	assert.False(t, d.Submit(Event{Message: "second"}), "a full buffer drops, never blocks")

	d.Start(1)
	d.Shutdown()
	assert.Equal(t, 1, notifier.count())
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("transport down")}
	d := NewDispatcher(4, notifier, testLogger())
	d.Start(1)

	assert.True(t, d.Submit(Event{Message: "doomed"}))
	d.Shutdown()

	// The failure is logged; nothing propagates, the worker keeps going.
	assert.Equal(t, 1, notifier.count())
}
