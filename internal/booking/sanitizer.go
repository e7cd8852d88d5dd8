package booking

import "strings"

// Fix is one value removed by the sanitizer.
type Fix struct {
	Slot   string
	Reason string
}

// Sanitizer re-scans every filled slot before the next step is chosen and
// nulls values that fail their own type or duplicate another slot.
type Sanitizer struct {
	validator *Validator
}

func NewSanitizer(v *Validator) *Sanitizer {
	if v == nil {
		v = NewValidator()
	}
	return &Sanitizer{validator: v}
}

func (s *Sanitizer) Sanitize(sess *Session) []Fix {
	var fixes []Fix
	for _, slot := range slotOrder {
		if !sess.Slots.Filled(slot) {
			continue
		}
		if err := s.validator.Check(slot, sess.Slots); err != nil {
			sess.reset(slot)
			fixes = append(fixes, Fix{Slot: slot, Reason: err.Error()})
		}
	}

	// The same text in two slots means one write went to the wrong place;
	// the slot that already held it keeps it.
	for i, a := range slotOrder {
		for _, b := range slotOrder[i+1:] {
			ta, tb := strings.ToLower(sess.Slots.Text(a)), strings.ToLower(sess.Slots.Text(b))
			if ta == "" || ta != tb {
				continue
			}
			victim := b
			if sess.Confirmed(b) && !sess.Confirmed(a) {
				victim = a
			}
			sess.reset(victim)
			fixes = append(fixes, Fix{Slot: victim, Reason: "duplicates " + other(victim, a, b)})
		}
	}
	return fixes
}

func other(victim, a, b string) string {
	if victim == a {
		return b
	}
	return a
}

// ConfirmationInvariantChecker re-validates every required slot right
// before the machine enters CONFIRMATION.
type ConfirmationInvariantChecker struct {
	validator *Validator
}

func NewConfirmationInvariantChecker(v *Validator) *ConfirmationInvariantChecker {
	if v == nil {
		v = NewValidator()
	}
	return &ConfirmationInvariantChecker{validator: v}
}

// Check returns nil when every required slot is valid and confirmed,
// otherwise the earliest offending step.
func (c *ConfirmationInvariantChecker) Check(sess *Session, cfg Config) *RewindInfo {
	for _, st := range cfg.steps() {
		if !st.Required {
			continue
		}
		if err := c.validator.Check(st.Slot, sess.Slots); err != nil {
			return &RewindInfo{StepID: st.ID, SlotID: st.Slot, Reason: err.Error()}
		}
		if !sess.Confirmed(st.Slot) {
			return &RewindInfo{StepID: st.ID, SlotID: st.Slot, Reason: "not confirmed"}
		}
	}
	return nil
}
