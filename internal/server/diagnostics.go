package server

import (
	"sync"
	"time"

	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/systems"
)

// DiagnosticEvent is the JSON form of a bus event.
type DiagnosticEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Recorder keeps the most recent bus events in a ring.
type Recorder struct {
	sub bus.Subscription

	mu     sync.Mutex
	events []DiagnosticEvent
	next   int
	full   bool
	total  uint64
}

// NewRecorder subscribes to every event on b and keeps the last capacity of
// them. A zero capacity only counts events.
func NewRecorder(b bus.EventBus, capacity int) (*Recorder, error) {
	r := &Recorder{events: make([]DiagnosticEvent, max(capacity, 0))}
	sub, err := b.Subscribe(bus.AnyEvent, r.record)
	if err != nil {
		return nil, err
	}
	r.sub = sub
	return r, nil
}

func (r *Recorder) record(e bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if len(r.events) == 0 {
		return nil
	}
	r.events[r.next] = DiagnosticEvent{
		ID:        e.ID(),
		Type:      e.Type(),
		Source:    e.Source(),
		Timestamp: e.Timestamp(),
		Data:      e.Data(),
	}
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Events returns the kept events, oldest first.
func (r *Recorder) Events() []DiagnosticEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]DiagnosticEvent(nil), r.events[:r.next]...)
	}
	out := make([]DiagnosticEvent, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}

func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Close stops recording.
func (r *Recorder) Close() error {
	return r.sub.Cancel()
}

// FrameStats mirrors what the frame loop measures.
type FrameStats struct {
	Frames      uint64  `json:"frames"`
	FPS         float64 `json:"fps"`
	FrameTimeMs float64 `json:"frame_time_ms"`
	Dropped     uint64  `json:"dropped"`
}

// Diagnostics is the body of GET /diagnostics.
type Diagnostics struct {
	Frame       FrameStats          `json:"frame"`
	Clients     ClientStats         `json:"clients"`
	Drive       systems.Metrics     `json:"drive"`
	Bus         bus.EventBusMetrics `json:"bus"`
	EventsTotal uint64              `json:"events_total"`
	Events      []DiagnosticEvent   `json:"events"`
}

// ClientStats counts stream subscribers per transport.
type ClientStats struct {
	WebSocket int `json:"websocket"`
	QUIC      int `json:"quic"`
}
