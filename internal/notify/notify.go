// Package notify fans tournament events out to the configured sinks.
//
// Delivery is best effort. A sink that fails is logged and counted; the
// caller never sees the error.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tournament-engine/internal/metrics"
)

// Event is one notification
type Event struct {
	Name         string    `json:"event"`
	TournamentID string    `json:"tournament_id,omitempty"`
	Data         any       `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sink delivers events to one destination. Send must not block.
type Sink interface {
	Name() string
	Send(Event) error
}

// Publisher is what the engine depends on
type Publisher interface {
	Publish(name, tournamentID string, data any)
}

// Emitter publishes every event to all registered sinks
type Emitter struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an emitter with the given sinks
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}
}

// AddSink registers another destination
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Publish implements Publisher
func (e *Emitter) Publish(name, tournamentID string, data any) {
	ev := Event{
		Name:         name,
		TournamentID: tournamentID,
		Data:         data,
		Timestamp:    e.now().UTC(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, s := range e.sinks {
		if err := s.Send(ev); err != nil {
			metrics.NotificationsDropped.WithLabelValues(s.Name()).Inc()
			e.logger.Warn("notification dropped",
				"sink", s.Name(),
				"event", name,
				"tournament_id", tournamentID,
				"error", err,
			)
		}
	}
}

// Discard is a Publisher that drops everything
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(string, string, any) {}
