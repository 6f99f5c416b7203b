// Package realtime fans build and notification events out to SSE clients.
package realtime

import (
	"sync"
	"time"
)

// Event types published by the build executor and the API.
const (
	TypeBuildStarted         = "build.started"
	TypeBuildCompleted       = "build.completed"
	TypeNotificationSent     = "notification.sent"
	TypeNotificationFailed   = "notification.failed"
	TypeNotificationRejected = "notification.rejected"
	TypeMachineProvisioned   = "machine.provisioned"
	TypeCredentialsUpdated   = "credentials.updated"
)

const (
	subscriberBuffer = 32
	historySize      = 256
)

// Event is one realtime event.
type Event struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"`
	JobName string    `json:"job_name,omitempty"`
	BuildID string    `json:"build_id,omitempty"`
	Result  string    `json:"result,omitempty"`
	Trigger string    `json:"trigger,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Filter selects the events a subscriber receives.
type Filter struct {
	// Job limits events to one job. Events without a job, such as
	// credential updates, are always delivered.
	Job string
	// After replays retained events with a larger ID before live ones.
	After int64
}

func (f Filter) match(evt Event) bool {
	return f.Job == "" || evt.JobName == "" || evt.JobName == f.Job
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Broker is an in-memory event bus. It keeps the most recent events so a
// reconnecting client can resume.
type Broker struct {
	mu      sync.Mutex
	lastID  int64
	nextSub int64
	subs    map[int64]*subscriber
	history []Event
}

// NewBroker creates a Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]*subscriber)}
}

// Publish assigns evt an ID and broadcasts it. Slow subscribers drop
// events instead of blocking producers.
func (b *Broker) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	evt.ID = b.lastID
	if len(b.history) == historySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:historySize-1]
	}
	b.history = append(b.history, evt)

	for _, s := range b.subs {
		if !s.filter.match(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// func. The channel is closed by cancel.
func (b *Broker) Subscribe(f Filter) (<-chan Event, func()) {
	b.mu.Lock()
	var replay []Event
	if f.After > 0 {
		for _, evt := range b.history {
			if evt.ID > f.After && f.match(evt) {
				replay = append(replay, evt)
			}
		}
	}
	ch := make(chan Event, subscriberBuffer+len(replay))
	for _, evt := range replay {
		ch <- evt
	}
	b.nextSub++
	id := b.nextSub
	b.subs[id] = &subscriber{ch: ch, filter: f}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
