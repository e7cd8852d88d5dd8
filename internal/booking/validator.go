package booking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
)

// ValidationError is a rejected slot write. LooksLike names another slot
// type the value matches, which marks it as a cross-slot write.
type ValidationError struct {
	Slot      string
	Reason    string
	LooksLike string
}

func (e *ValidationError) Error() string {
	if e.LooksLike != "" {
		return fmt.Sprintf("booking: %s rejected (%s, looks like %s)", e.Slot, e.Reason, e.LooksLike)
	}
	return fmt.Sprintf("booking: %s rejected (%s)", e.Slot, e.Reason)
}

// TypeMismatch reports whether the value belongs to a different slot type.
func (e *ValidationError) TypeMismatch() bool { return e.LooksLike != "" }

var (
	leadInPattern  = regexp.MustCompile(`^(?:(?:yes|yeah|yep|sure|ok|okay|no|nope|sorry|actually|um|uh|so|well|oh)\s+)*(?:(?:(?:my|the|our)\s+(?:full\s+|first\s+|last\s+)?(?:name|phone number|number|phone|cell|street address|address)\s+(?:is|would be)|you\s+can\s+reach\s+me\s+at|i\s+live\s+at|we\s+are\s+at|were\s+at|im\s+at|it\s+is|its|this\s+is|i\s+am|im|call\s+me|names|how\s+about|maybe|i\s+would\s+prefer|id\s+prefer|i\s+prefer|preferably|ideally)\s+)?`)
	trailerPattern = regexp.MustCompile(`\s+(?:please|thanks|thank you|thank u)$`)
	displayTrailer = regexp.MustCompile(`(?i)[\s,]+(?:please|thanks|thank you)[.!?]*$`)

	streetSuffixes = map[string]bool{
		"street": true, "st": true, "avenue": true, "ave": true, "road": true, "rd": true,
		"drive": true, "dr": true, "boulevard": true, "blvd": true, "parkway": true, "pkwy": true,
		"highway": true, "hwy": true, "lane": true, "ln": true, "court": true, "ct": true,
		"circle": true, "cir": true, "place": true, "pl": true, "terrace": true, "trail": true,
		"way": true, "loop": true, "pike": true, "square": true,
	}

	addressPattern = regexp.MustCompile(`^\d{1,6}[a-z]?\s+[a-z0-9][a-z0-9 .'#,-]*[a-z]`)
	unitPattern    = regexp.MustCompile(`(?:,\s*|\s+)(?:(?:apt|apartment|unit|suite|ste)\b|#)\s*#?\s*([a-z0-9-]+)\b`)

	asapPattern     = regexp.MustCompile(`\b(asap|as soon as possible|as early as possible|as soon as you can|earliest|first available|soonest|right away|immediately|whenever is soonest)\b`)
	anytimePattern  = regexp.MustCompile(`\b(any ?time|whenever|doesnt matter|no preference|flexible)\b`)
	dayPattern      = regexp.MustCompile(`\b(today|tonight|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|tues|wed|thu|thurs|fri|sat|sun|weekend|weekday|weekdays|this week|next week)\b`)
	partOfDay       = regexp.MustCompile(`\b(morning|afternoon|evening|noon|midday|lunchtime)\b`)
	rawClockPattern = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)`)
	clockPattern    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a m|p m|oclock)\b`)
	betweenPattern  = regexp.MustCompile(`\b(between|after|before|around|by)\s+(\d{1,2})(?::\d{2})?\b`)
	rangePattern    = regexp.MustCompile(`\b(?:from\s+)?(\d{1,2})(?::\d{2})?\s*(?:to|until|til|till|through|-)\s*(\d{1,2})(?::\d{2})?\b`)
	ordinalPattern  = regexp.MustCompile(`\b(the\s+)?\d{1,2}(st|nd|rd|th)\b`)
	monthPattern    = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`)
	timeWordPattern = regexp.MustCompile(`\b(today|tonight|tomorrow|morning|afternoon|evening|asap|noon|week|weekend|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// Validator is the positive allowlist for each slot type. A value is
// accepted only when it positively looks like its slot.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Parse extracts a candidate value for slot from a caller utterance and
// validates it. Only the named slot of the result is populated.
func (v *Validator) Parse(slot, utterance string) (Slots, error) {
	text := clean(utterance)
	if text == "" {
		return Slots{}, &ValidationError{Slot: slot, Reason: "empty"}
	}
	var out Slots
	var err *ValidationError
	switch slot {
	case SlotName:
		out.Name, err = parseName(text)
	case SlotPhone:
		out.Phone, err = parsePhone(text)
	case SlotAddress:
		out.Address, err = parseAddress(utterance, text)
	case SlotTime:
		out.Time, err = parseTime(utterance, text)
	default:
		err = &ValidationError{Slot: slot, Reason: "unknown slot"}
	}
	if err != nil {
		if err.LooksLike == "" {
			err.LooksLike = classifyOther(slot, text)
		}
		return Slots{}, err
	}
	return out, nil
}

// Check re-validates the value stored in slot.
func (v *Validator) Check(slot string, s Slots) error {
	raw := s.Text(slot)
	if raw == "" {
		return &ValidationError{Slot: slot, Reason: "missing"}
	}
	if slot == SlotTime && (raw == "ASAP" || raw == "anytime") {
		return nil
	}
	_, err := v.Parse(slot, raw)
	return err
}

// clean folds text and strips conversational lead-ins and trailers.
func clean(s string) string {
	text := strings.Join(scenario.Tokenize(scenario.Fold(s)), " ")
	text = leadInPattern.ReplaceAllString(text, "")
	text = trailerPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func parseName(text string) (NameValue, *ValidationError) {
	words := strings.Fields(text)
	if len(words) > 3 {
		return NameValue{}, &ValidationError{Slot: SlotName, Reason: "too many words"}
	}
	parts := make([]string, 0, len(words))
	distinct := false
	for _, w := range words {
		if !looksLikeNameWord(w) {
			return NameValue{}, &ValidationError{Slot: SlotName, Reason: "not a name word: " + w}
		}
		if !isCommonWord(w) {
			distinct = true
		}
		parts = append(parts, capitalizeNameWord(w))
	}
	if !distinct {
		return NameValue{}, &ValidationError{Slot: SlotName, Reason: "only common words"}
	}
	switch len(parts) {
	case 1:
		return NameValue{First: parts[0], Partial: parts[0]}, nil
	default:
		return NameValue{First: parts[0], Last: parts[len(parts)-1], Full: strings.Join(parts, " ")}, nil
	}
}

func looksLikeNameWord(word string) bool {
	n := utf8.RuneCountInString(word)
	if n < 2 || n > 30 {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	if streetSuffixes[word] || (isCommonWord(word) && !nameLikeWords[word]) || timeWordPattern.MatchString(word) {
		return false
	}
	if _, ok := digitWords[word]; ok {
		return false
	}
	return true
}

func capitalizeNameWord(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

func parsePhone(text string) (string, *ValidationError) {
	if addressPattern.MatchString(text) && hasStreetSuffix(text) {
		return "", &ValidationError{Slot: SlotPhone, Reason: "not a phone number", LooksLike: SlotAddress}
	}
	digits, stray := ExtractDigits(text)
	if stray > 2 {
		return "", &ValidationError{Slot: SlotPhone, Reason: "unexpected words"}
	}
	phone := NormalizePhone(digits)
	if phone == "" {
		return "", &ValidationError{Slot: SlotPhone, Reason: fmt.Sprintf("%d digits", len(digits))}
	}
	if phone[0] == '0' || phone[0] == '1' {
		return "", &ValidationError{Slot: SlotPhone, Reason: "invalid area code"}
	}
	return phone, nil
}

func parseAddress(raw, text string) (AddressValue, *ValidationError) {
	if !addressPattern.MatchString(text) {
		return AddressValue{}, &ValidationError{Slot: SlotAddress, Reason: "no house number and street"}
	}
	words := strings.Fields(text)
	if len(words) < 3 && !hasStreetSuffix(text) {
		return AddressValue{}, &ValidationError{Slot: SlotAddress, Reason: "street name incomplete"}
	}
	if !hasStreetSuffix(text) && (clockPattern.MatchString(text) || partOfDay.MatchString(text) || dayPattern.MatchString(text) || isHourRange(text)) {
		return AddressValue{}, &ValidationError{Slot: SlotAddress, Reason: "not an address", LooksLike: SlotTime}
	}

	full := displayText(raw)
	out := AddressValue{Full: full, Street: full}
	lower := strings.ToLower(full)
	if m := unitPattern.FindStringSubmatchIndex(lower); m != nil {
		out.Unit = strings.ToUpper(lower[m[2]:m[3]])
		out.Street = strings.TrimSpace(strings.TrimRight(full[:m[0]], ", "))
	}
	if i := strings.Index(out.Street, ","); i > 0 {
		city := strings.TrimSpace(out.Street[i+1:])
		out.Street = strings.TrimSpace(out.Street[:i])
		if city != "" {
			out.City = city
		}
	}
	if out.City == "" {
		if i := strings.LastIndex(full, ","); i > 0 && (out.Unit == "" || !strings.Contains(strings.ToLower(full[i:]), strings.ToLower(out.Unit))) {
			out.City = strings.TrimSpace(full[i+1:])
		}
	}
	return out, nil
}

// displayText trims a caller's address to the part starting at the house number.
func displayText(raw string) string {
	s := strings.TrimSpace(raw)
	for i, r := range s {
		if unicode.IsDigit(r) {
			s = s[i:]
			break
		}
	}
	s = displayTrailer.ReplaceAllString(s, "")
	return strings.TrimRight(s, ".!?, ")
}

func hasStreetSuffix(text string) bool {
	for _, w := range strings.Fields(text) {
		if streetSuffixes[w] {
			return true
		}
	}
	return false
}

func parseTime(raw, text string) (TimeValue, *ValidationError) {
	if addressPattern.MatchString(text) && hasStreetSuffix(text) {
		return TimeValue{}, &ValidationError{Slot: SlotTime, Reason: "not a time", LooksLike: SlotAddress}
	}
	switch {
	case asapPattern.MatchString(text):
		return TimeValue{Preference: "ASAP", Window: "anytime"}, nil
	case anytimePattern.MatchString(text) && !dayPattern.MatchString(text) && !partOfDay.MatchString(text):
		return TimeValue{Preference: "anytime", Window: "anytime"}, nil
	}
	if !dayPattern.MatchString(text) && !partOfDay.MatchString(text) && !clockPattern.MatchString(text) &&
		!betweenPattern.MatchString(text) && !isHourRange(strings.ToLower(raw)) &&
		!ordinalPattern.MatchString(text) && !monthPattern.MatchString(text) {
		return TimeValue{}, &ValidationError{Slot: SlotTime, Reason: "no day or time"}
	}
	return TimeValue{Preference: text, Window: window(strings.ToLower(raw))}, nil
}

func window(text string) string {
	if m := partOfDay.FindString(text); m != "" {
		switch m {
		case "noon", "midday", "lunchtime":
			return "afternoon"
		}
		return m
	}
	if m := rawClockPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		pm := strings.HasPrefix(m[3], "p")
		switch {
		case pm && hour != 12 && hour >= 5:
			return "evening"
		case pm || hour == 12:
			return "afternoon"
		case strings.HasPrefix(m[3], "a"):
			return "morning"
		}
	}
	if strings.Contains(text, "tonight") {
		return "evening"
	}
	if m := rangePattern.FindStringSubmatch(text); m != nil && isHourRange(text) {
		// Bare hours without am/pm read as business hours.
		switch start, _ := strconv.Atoi(m[1]); {
		case start >= 7 && start <= 11:
			return "morning"
		case start == 12 || start <= 4:
			return "afternoon"
		default:
			return "evening"
		}
	}
	return "anytime"
}

// isHourRange reports a "2 to 4" or "from 9-11" style window of clock hours.
func isHourRange(text string) bool {
	m := rangePattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	return start >= 1 && start <= 12 && end >= 1 && end <= 12 && start != end
}

// classifyOther reports which other slot type text would be valid for.
func classifyOther(slot, text string) string {
	for _, other := range slotOrder {
		if other == slot {
			continue
		}
		var ok bool
		switch other {
		case SlotName:
			_, err := parseName(text)
			ok = err == nil && len(strings.Fields(text)) >= 2
		case SlotPhone:
			_, err := parsePhone(text)
			ok = err == nil
		case SlotAddress:
			_, err := parseAddress(text, text)
			ok = err == nil
		case SlotTime:
			_, err := parseTime(text, text)
			ok = err == nil
		}
		if ok {
			return other
		}
	}
	return ""
}

func isCommonWord(word string) bool {
	return commonWords[word]
}

// nameLikeWords are common words that are also everyday given names or
// surnames ("Will Smith", "Mark Day"). They pass inside a longer name.
var nameLikeWords = map[string]bool{
	"will": true, "may": true, "day": true, "good": true, "early": true, "rather": true, "fine": true,
}

var commonWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true, "you": true,
	"all": true, "can": true, "her": true, "was": true, "our": true, "out": true, "day": true,
	"had": true, "has": true, "his": true, "how": true, "its": true, "may": true, "new": true,
	"now": true, "old": true, "see": true, "who": true, "did": true, "get": true, "let": true,
	"put": true, "say": true, "she": true, "too": true, "use": true, "yes": true, "no": true,
	"hi": true, "hey": true, "hello": true, "thanks": true, "thank": true, "please": true,
	"ok": true, "okay": true, "sure": true, "good": true, "great": true, "fine": true, "well": true,
	"just": true, "like": true, "want": true, "need": true, "have": true, "book": true,
	"booking": true, "appointment": true, "available": true, "schedule": true, "time": true,
	"service": true, "repair": true, "technician": true, "tech": true, "ac": true, "heat": true,
	"furnace": true, "unit": true, "apt": true, "apartment": true, "suite": true, "is": true,
	"it": true, "an": true, "as": true, "be": true, "by": true, "do": true, "if": true, "or": true,
	"so": true, "up": true, "we": true, "me": true, "my": true, "he": true, "in": true, "on": true,
	"at": true, "to": true, "of": true, "about": true, "with": true, "from": true, "this": true,
	"that": true, "what": true, "when": true, "your": true, "some": true, "here": true,
	"there": true, "where": true, "would": true, "could": true, "should": true, "will": true,
	"wrong": true, "right": true, "correct": true, "nope": true, "yeah": true, "yep": true,
	"number": true, "phone": true, "address": true, "name": true, "street": true, "dont": true,
	"rather": true, "know": true, "later": true, "early": true, "soon": true,
	"possible": true, "first": true, "last": true, "cooling": true, "heating": true, "working": true,
	"um": true, "uh": true, "hmm": true, "er": true, "mhm": true, "whenever": true, "anytime": true,
	"asap": true, "maybe": true, "sorry": true, "nothing": true, "nevermind": true,
}
