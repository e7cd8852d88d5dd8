package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PromptSource is the only source of caller-facing booking text. An unknown
// prompt id returns "" and no error.
type PromptSource interface {
	GetSlotPrompt(ctx context.Context, tenantID, promptID string) (string, error)
}

// ErrPromptMissing means the tenant has no text for a prompt the machine needs.
var ErrPromptMissing = errors.New("booking: prompt not configured")

// Prompt ids beyond the bare slot ids.
const (
	PromptNameConfirmPartial = "name.confirm_partial"
	PromptNameMissingLast    = "name.missing_last"
	PromptConfirmClarify     = "CONFIRMATION.clarify"
)

// DefaultPrompts is the stock wording tenants start from.
func DefaultPrompts() map[string]string {
	return map[string]string{
		SlotName:                 "Can I get your first and last name?",
		"name.retry":             "Sorry, I didn't catch that. What's your first and last name?",
		PromptNameConfirmPartial: "Got it, {name.partial}, did I get that right?",
		PromptNameMissingLast:    "Thanks, {name.first}. And your last name?",
		SlotPhone:                "What's the best phone number to reach you?",
		"phone.retry":            "Sorry, I need a ten digit phone number. What number should we use?",
		SlotAddress:              "What's the service address?",
		"address.retry":          "Sorry, I need the street address with the house number. What's the address?",
		SlotTime:                 "When would you like us to come out?",
		"time.retry":             "What day or time works best for you? You can also say as soon as possible.",
		StepConfirmation:         "Let me confirm: {name.full}, {phone}, at {address.full}, {time.preference}. Is that all correct?",
		PromptConfirmClarify:     "Sorry, is everything correct, or is there something I should change?",
		StepComplete:             "You're all set. Our team will reach out at {phone} to confirm the visit.",
	}
}

// render resolves a prompt, falling back from "slot.variant" to "slot",
// and substitutes captured values.
func (m *Machine) render(ctx context.Context, tenantID, promptID string, slots Slots) (string, string, error) {
	ids := []string{promptID}
	if i := strings.Index(promptID, "."); i > 0 {
		ids = append(ids, promptID[:i])
	}
	for _, id := range ids {
		text, err := m.prompts.GetSlotPrompt(ctx, tenantID, id)
		if err != nil {
			return "", "", fmt.Errorf("booking: prompt %s: %w", id, err)
		}
		if strings.TrimSpace(text) != "" {
			return id, fill(text, slots), nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrPromptMissing, promptID)
}

func fill(template string, s Slots) string {
	full := s.Name.Full
	if full == "" {
		full = s.Name.First
	}
	return strings.NewReplacer(
		"{name.first}", s.Name.First,
		"{name.last}", s.Name.Last,
		"{name.full}", full,
		"{name.partial}", s.Name.Partial,
		"{phone}", FormatPhone(s.Phone),
		"{address.full}", s.Address.Full,
		"{address.street}", s.Address.Street,
		"{address.city}", s.Address.City,
		"{address.unit}", s.Address.Unit,
		"{time.preference}", timePhrase(s.Time),
		"{time.window}", s.Time.Window,
	).Replace(template)
}

func timePhrase(t TimeValue) string {
	switch t.Preference {
	case "ASAP":
		return "as soon as possible"
	case "anytime":
		return "any time"
	}
	return t.Preference
}
