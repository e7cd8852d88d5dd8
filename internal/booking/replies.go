package booking

import (
	"regexp"
	"strings"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
)

// A booking request is a desire or imperative frame ("can you", "i'd like
// to", "please") followed closely by a scheduling verb and its object.
const (
	requestFrame  = `(?:can you|could you|would you|will you|can i|could i|can we|could we|can someone|could someone|i want to|i wanna|i need to|i would like to|id like to|i want|i need|i would like|id like|lets|please|go ahead and)`
	requestVerb   = `(?:book|schedule|set up|setup|make|get|send|arrange)`
	requestObject = `(?:appointment|visit|service call|service|technician|tech|someone|somebody|time|slot)`
)

var (
	requestPattern = regexp.MustCompile(`\b` + requestFrame + `\s+(?:\w+\s+){0,2}?` + requestVerb + `(?:\s+\w+){0,3}?\s+` + requestObject + `\b` +
		`|\b` + requestFrame + `\s+(?:\w+\s+){0,3}?come out\b` +
		`|^(?:ok |okay |so |yes |yeah )?(?:please )?(?:book|schedule|send|set up) (?:me|us|someone|somebody|a|an|the)\b`)
	hedgePattern      = regexp.MustCompile(`\b(?:not sure|not ready|not yet|not right now|dont know|do not know|dont want|do not want|dont need|do not need|dont think|no thanks|maybe later|never mind|nevermind|unsure|just wondering|just curious)\b|^dont\b`)
	pricePattern      = regexp.MustCompile(`\b(?:how much|cost|costs|price|prices|pricing|charge|charges|fee|fees|rate|rates|quote)\b`)
	capabilityPattern = regexp.MustCompile(`^(?:(?:so|and|um|uh|well|hi|hey)\s+)*(?:do|does|did|are)\b`)

	affirmativePattern = regexp.MustCompile(`^(?:(?:well|oh|um|uh|so)\s+)?(yes|yeah|yep|yup|sure|correct|right|exactly|absolutely|ok|okay|sounds good|sounds great|thats right|that is right|thats correct|that is correct|perfect|please do|go ahead|lets do it|lets do that|definitely|of course|uh huh|mhm|yes please|please)\b`)
	negativePattern    = regexp.MustCompile(`\b(no|nope|nah|not|wrong|incorrect|isnt|thats not|dont|change|fix|actually)\b`)
	mentionPatterns    = []struct {
		slot string
		re   *regexp.Regexp
	}{
		{SlotName, regexp.MustCompile(`\b(name|spell|spelled|spelling)\b`)},
		{SlotPhone, regexp.MustCompile(`\b(number|phone|cell|digits)\b`)},
		{SlotAddress, regexp.MustCompile(`\b(address|street|house|apartment|apt|unit|zip)\b`)},
		{SlotTime, regexp.MustCompile(`\b(time|day|date|when|morning|afternoon|evening|today|tomorrow)\b`)},
	}
)

func normalized(s string) string {
	return strings.Join(scenario.Tokenize(scenario.Fold(s)), " ")
}

// IsAffirmative reports a plain agreement ("yes", "sounds good") with no
// negation anywhere in the utterance.
func IsAffirmative(s string) bool {
	n := normalized(s)
	return affirmativePattern.MatchString(n) && !negativePattern.MatchString(n)
}

// IsNegative reports a refusal or correction.
func IsNegative(s string) bool {
	return negativePattern.MatchString(normalized(s))
}

// IsBookingRequest reports an explicit request to schedule. It counts as
// consent without a preceding offer, so hedges, price questions, and
// "do you ..." capability questions never qualify.
func IsBookingRequest(s string) bool {
	n := normalized(s)
	if hedgePattern.MatchString(n) || pricePattern.MatchString(n) || capabilityPattern.MatchString(n) {
		return false
	}
	return requestPattern.MatchString(n)
}

// MentionedSlot returns the slot the caller refers to, or "".
func MentionedSlot(s string) string {
	n := normalized(s)
	for _, p := range mentionPatterns {
		if p.re.MatchString(n) {
			return p.slot
		}
	}
	return ""
}
