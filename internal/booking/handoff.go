package booking

import (
	"fmt"
	"strings"
)

// FormatSummary renders the collected slots as a plain-text dispatch note
// for the call archive and the caller's cross-call memory.
func FormatSummary(s *Session) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Name: %s\n", valueOrNA(s.Slots.Text(SlotName))))
	b.WriteString(fmt.Sprintf("Phone: %s\n", valueOrNA(FormatPhone(s.Slots.Phone))))
	b.WriteString(fmt.Sprintf("Address: %s\n", valueOrNA(s.Slots.Address.Full)))
	if s.Slots.Address.Unit != "" {
		b.WriteString(fmt.Sprintf("Unit: %s\n", s.Slots.Address.Unit))
	}
	schedule := s.Slots.Time.Preference
	if w := s.Slots.Time.Window; w != "" && w != schedule {
		schedule = strings.TrimSpace(schedule + " (" + w + ")")
	}
	b.WriteString(fmt.Sprintf("Schedule Preference: %s\n", valueOrNA(schedule)))
	b.WriteString(fmt.Sprintf("Status: %s\n", valueOrNA(s.CurrentStepID)))
	return b.String()
}

func valueOrNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
