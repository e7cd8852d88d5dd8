package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire form of an Event on the trace queue.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       Type            `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes the generated envelope (useful in tests).
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

var (
	errMissingAggregate = errors.New("events: call id is required")
	nowFunc             = time.Now
)

// NewEnvelope wraps evt. The aggregate is the call id and the correlation
// id is the tenant, so consumers can partition either way.
func NewEnvelope(evt Event, opts ...EnvelopeOption) (Envelope, error) {
	if strings.TrimSpace(evt.CallID) == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt.Type == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}
	at := evt.At
	if at.IsZero() {
		at = nowFunc()
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       evt.Type,
		Aggregate:       evt.CallID,
		TimestampMicros: at.UTC().UnixMicro(),
		CorrelationID:   evt.TenantID,
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}
