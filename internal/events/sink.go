package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var emittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice",
	Subsystem: "trace",
	Name:      "events_total",
	Help:      "Trace events emitted by type.",
}, []string{"type"})

func init() {
	prometheus.MustRegister(emittedTotal)
}

// Sink receives trace events. Emit never fails the caller; sinks log their
// own delivery errors.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Discard drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) {}

// LogSink writes each event as one JSON log line, so decisions can be
// grepped by "type" or "call_id".
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, evt Event) {
	emittedTotal.WithLabelValues(string(evt.Type)).Inc()
	b, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("events: marshal failed", "type", evt.Type, "error", err)
		return
	}
	s.logger.Info(string(b))
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
