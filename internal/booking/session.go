// Package booking is the deterministic slot-filling state machine that
// collects name, phone, address, and preferred time once a caller agrees
// to schedule.
package booking

import "strings"

const (
	SlotName    = "name"
	SlotPhone   = "phone"
	SlotAddress = "address"
	SlotTime    = "time"

	StepConfirmation = "CONFIRMATION"
	StepComplete     = "COMPLETE"
)

// slotOrder is the canonical order used when scanning every slot.
var slotOrder = []string{SlotName, SlotPhone, SlotAddress, SlotTime}

const (
	SourceCaller  = "caller"
	SourcePartial = "caller_partial"
)

type NameValue struct {
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Full    string `json:"full,omitempty"`
	Partial string `json:"partial,omitempty"`
}

type AddressValue struct {
	Full   string `json:"full,omitempty"`
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

type TimeValue struct {
	Preference string `json:"preference,omitempty"`
	Window     string `json:"window,omitempty"`
}

// Slots holds captured values. Phone is stored as bare digits.
type Slots struct {
	Name    NameValue    `json:"name"`
	Phone   string       `json:"phone,omitempty"`
	Address AddressValue `json:"address"`
	Time    TimeValue    `json:"time"`
}

// Filled reports whether the slot holds any value.
func (s Slots) Filled(slot string) bool {
	return s.Text(slot) != ""
}

// Text is the slot's canonical text, used for re-validation and comparison.
func (s Slots) Text(slot string) string {
	switch slot {
	case SlotName:
		if s.Name.Full != "" {
			return s.Name.Full
		}
		return s.Name.First
	case SlotPhone:
		return s.Phone
	case SlotAddress:
		return s.Address.Full
	case SlotTime:
		return s.Time.Preference
	}
	return ""
}

// Set copies slot from src.
func (s *Slots) Set(slot string, src Slots) {
	switch slot {
	case SlotName:
		s.Name = src.Name
	case SlotPhone:
		s.Phone = src.Phone
	case SlotAddress:
		s.Address = src.Address
	case SlotTime:
		s.Time = src.Time
	}
}

// Clear empties slot.
func (s *Slots) Clear(slot string) {
	s.Set(slot, Slots{})
}

// SlotMeta tracks per-slot collection state.
type SlotMeta struct {
	Confirmed bool   `json:"confirmed"`
	Source    string `json:"source,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`

	// Name sub-flow.
	AwaitingPartialConfirm bool `json:"awaitingPartialConfirm,omitempty"`
	AwaitingMissingPart    bool `json:"awaitingMissingPart,omitempty"`
	AskedMissingPartOnce   bool `json:"askedMissingPartOnce,omitempty"`
}

// Session is the booking sub-state of a call. CurrentStepID is a slot id,
// StepConfirmation, or StepComplete; empty means not started.
type Session struct {
	ConsentGiven  bool                 `json:"consentGiven"`
	ConsentTurn   int                  `json:"consentTurn"`
	ActiveSlotID  string               `json:"activeSlotId,omitempty"`
	Slots         Slots                `json:"slots"`
	Meta          map[string]*SlotMeta `json:"meta,omitempty"`
	CurrentStepID string               `json:"currentStepId,omitempty"`
}

// NewSession starts a booking session for consent given on turn.
func NewSession(turn int) *Session {
	return &Session{ConsentGiven: true, ConsentTurn: turn, Meta: make(map[string]*SlotMeta)}
}

// MetaFor returns the slot's meta, creating it on first use.
func (s *Session) MetaFor(slot string) *SlotMeta {
	if s.Meta == nil {
		s.Meta = make(map[string]*SlotMeta)
	}
	m, ok := s.Meta[slot]
	if !ok {
		m = &SlotMeta{}
		s.Meta[slot] = m
	}
	return m
}

// Confirmed reports whether slot has been accepted and confirmed.
func (s *Session) Confirmed(slot string) bool {
	m, ok := s.Meta[slot]
	return ok && m.Confirmed
}

// reset clears a slot's value and collection state.
func (s *Session) reset(slot string) {
	s.Slots.Clear(slot)
	attempts := s.MetaFor(slot).Attempts
	s.Meta[slot] = &SlotMeta{Attempts: attempts}
}

// Step is one collection step.
type Step struct {
	ID       string `json:"id" yaml:"id"`
	Slot     string `json:"slot" yaml:"slot"`
	Required bool   `json:"required" yaml:"required"`
}

// Config is the tenant's step configuration.
type Config struct {
	Steps []Step `json:"steps,omitempty" dynamodbav:"steps,omitempty" yaml:"steps"`
}

func DefaultConfig() Config {
	return Config{Steps: []Step{
		{ID: SlotName, Slot: SlotName, Required: true},
		{ID: SlotPhone, Slot: SlotPhone, Required: true},
		{ID: SlotAddress, Slot: SlotAddress, Required: true},
		{ID: SlotTime, Slot: SlotTime, Required: true},
	}}
}

// steps returns the configured steps with unknown slots dropped, falling
// back to the defaults when none remain.
func (c Config) steps() []Step {
	out := make([]Step, 0, len(c.Steps))
	for _, st := range c.Steps {
		slot := strings.TrimSpace(st.Slot)
		if !knownSlot(slot) {
			continue
		}
		if st.ID == "" {
			st.ID = slot
		}
		st.Slot = slot
		out = append(out, st)
	}
	if len(out) == 0 {
		return DefaultConfig().Steps
	}
	return out
}

func (c Config) stepForSlot(slot string) (Step, bool) {
	for _, st := range c.steps() {
		if st.Slot == slot {
			return st, true
		}
	}
	return Step{}, false
}

func knownSlot(slot string) bool {
	for _, s := range slotOrder {
		if s == slot {
			return true
		}
	}
	return false
}

// RewindInfo says where the machine must go back to and why.
type RewindInfo struct {
	StepID string `json:"stepId"`
	SlotID string `json:"slotId"`
	Reason string `json:"reason"`
}
