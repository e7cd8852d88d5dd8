package triage

// Config is the tenant's triage vocabulary. Terms are matched as whole
// words against the folded utterance; multi-word terms weigh more.
type Config struct {
	Enabled bool `json:"enabled" dynamodbav:"enabled" yaml:"enabled"`
	// Intents maps an intent bucket to its terms.
	Intents map[Intent][]string `json:"intents,omitempty" dynamodbav:"intents,omitempty" yaml:"intents"`
	// EmergencyTerms force urgency to emergency.
	EmergencyTerms []string `json:"emergencyTerms,omitempty" dynamodbav:"emergencyTerms,omitempty" yaml:"emergencyTerms"`
	// UrgentTerms raise urgency to urgent.
	UrgentTerms []string `json:"urgentTerms,omitempty" dynamodbav:"urgentTerms,omitempty" yaml:"urgentTerms"`
	// Cards are tenant triage cards; the first card with a matching term is reported.
	Cards []Card `json:"cards,omitempty" dynamodbav:"cards,omitempty" yaml:"cards"`
	// HotDegrees and ColdDegrees bound the indoor temperatures reported as urgent.
	HotDegrees  int `json:"hotDegrees,omitempty" dynamodbav:"hotDegrees,omitempty" yaml:"hotDegrees"`
	ColdDegrees int `json:"coldDegrees,omitempty" dynamodbav:"coldDegrees,omitempty" yaml:"coldDegrees"`
}

// Card links a set of terms to a tenant-defined triage card.
type Card struct {
	ID    string   `json:"id" dynamodbav:"id" yaml:"id"`
	Terms []string `json:"terms" dynamodbav:"terms" yaml:"terms"`
}

// DefaultConfig covers a home-services (HVAC, plumbing) tenant.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Intents: map[Intent][]string{
			IntentServiceRequest: {
				"not cooling", "not heating", "not working", "broken", "stopped working", "leak", "leaking",
				"no heat", "no air", "no hot water", "repair", "fix", "service", "send someone",
				"come out", "technician", "noise", "making a noise", "frozen", "wont turn on", "not turning on",
			},
			IntentPricing: {
				"how much", "price", "pricing", "cost", "quote", "estimate", "fee", "charge", "rates",
			},
			IntentStatus: {
				"status", "where is", "running late", "on the way", "eta", "my appointment", "already scheduled",
				"still coming", "reschedule", "confirm my",
			},
			IntentComplaint: {
				"complaint", "unhappy", "not happy", "terrible", "worst", "refund", "rude", "manager",
				"still broken", "came out and", "didnt fix", "upset", "frustrated",
			},
		},
		EmergencyTerms: []string{
			"fire", "smoke", "smell gas", "gas smell", "gas leak", "smells like gas", "carbon monoxide",
			"co alarm", "sparks", "sparking", "burning smell", "flood", "flooding", "electrical burning",
		},
		UrgentTerms: []string{
			"asap", "as soon as possible", "right away", "immediately", "today", "no heat", "no air",
			"no hot water", "elderly", "baby", "newborn", "medical condition", "water everywhere",
		},
		HotDegrees:  88,
		ColdDegrees: 55,
	}
}
