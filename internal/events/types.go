// Package events carries structured turn-trace events from the decision core
// to logging and analytics consumers.
package events

import "time"

// Type names a trace event.
type Type string

const (
	TierDecision             Type = "TIER_DECISION"
	SlotValidationFailed     Type = "SLOT_VALIDATION_FAILED"
	SlotTypeValidationFailed Type = "SLOT_TYPE_VALIDATION_FAILED"
	BookingStateInvalid      Type = "BOOKING_STATE_INVALID"
	BookingSlotSanityFix     Type = "BOOKING_SLOT_SANITY_FIX"
	TriageResult             Type = "TRIAGE_RESULT"
	ConsentGranted           Type = "CONSENT_GRANTED"
	Tier3Failed              Type = "TIER3_FAILED"
	TurnSuperseded           Type = "TURN_SUPERSEDED"
)

// Event is one decision record. Data values must be JSON-encodable.
type Event struct {
	Type     Type           `json:"type"`
	TenantID string         `json:"tenant_id"`
	CallID   string         `json:"call_id"`
	TurnSeq  int            `json:"turn_seq"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// New stamps an event with the current time.
func New(t Type, tenantID, callID string, seq int, data map[string]any) Event {
	return Event{Type: t, TenantID: tenantID, CallID: callID, TurnSeq: seq, At: nowFunc().UTC(), Data: data}
}
