package jobrunner

import (
	"context"
	"sync"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// EventType classifies messages emitted while jobs run.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// Event is a sequenced notification about one job.
type Event struct {
	Seq       int64       `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id"`
	Kind      job.Kind    `json:"kind"`
	Type      EventType   `json:"type"`
	Status    job.Status  `json:"status,omitempty"`
	Progress  int         `json:"progress"`
	Message   string      `json:"message,omitempty"`
	Result    *job.Result `json:"result,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	changed   chan struct{}
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		changed:   make(chan struct{}),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	// Wake everyone blocked in Wait.
	close(b.changed)
	b.changed = make(chan struct{})

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sinceLocked(seq)
}

func (b *EventBus) sinceLocked(seq int64) []Event {
	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Wait blocks until events newer than seq exist or ctx is done.
func (b *EventBus) Wait(ctx context.Context, seq int64) ([]Event, error) {
	for {
		b.mu.RLock()
		out := b.sinceLocked(seq)
		changed := b.changed
		b.mu.RUnlock()

		if len(out) > 0 {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}
