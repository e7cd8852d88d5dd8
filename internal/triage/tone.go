package triage

// Tone is the closed set of reply registers.
type Tone string

const (
	ToneEmergencySerious Tone = "EMERGENCY_SERIOUS"
	ToneConflictSerious  Tone = "CONFLICT_SERIOUS"
	ToneFriendlyDirect   Tone = "FRIENDLY_DIRECT"
	ToneReassuringCalm   Tone = "REASSURING_CALM"
	ToneNeutralEfficient Tone = "NEUTRAL_EFFICIENT"
)

// SelectTone is a pure function of triage signals. Emergencies outrank
// complaints, which outrank ordinary urgency.
func SelectTone(r *Result) Tone {
	if r == nil {
		return ToneNeutralEfficient
	}
	switch {
	case r.Urgency == UrgencyEmergency:
		return ToneEmergencySerious
	case r.IntentGuess == IntentComplaint:
		return ToneConflictSerious
	case r.Urgency == UrgencyUrgent:
		return ToneReassuringCalm
	case r.IntentGuess == IntentServiceRequest, r.IntentGuess == IntentPricing:
		return ToneFriendlyDirect
	default:
		return ToneNeutralEfficient
	}
}
