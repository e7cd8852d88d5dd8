// Package triage extracts advisory signals (intent, symptoms, urgency) from
// an utterance without calling a model. Its output steers routing and tone
// but is never spoken to the caller.
package triage

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var tracer = otel.Tracer("voice.internal.triage")

// Intent is the coarse reason for the call.
type Intent string

const (
	IntentServiceRequest Intent = "service_request"
	IntentPricing        Intent = "pricing"
	IntentStatus         Intent = "status"
	IntentComplaint      Intent = "complaint"
	IntentOther          Intent = "other"
)

// intentOrder breaks score ties.
var intentOrder = []Intent{IntentComplaint, IntentServiceRequest, IntentStatus, IntentPricing}

// Urgency is how quickly the caller needs help.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyNormal    Urgency = "normal"
)

// Result is fresh per turn and only ever stored as a history annotation.
type Result struct {
	IntentGuess    Intent   `json:"intentGuess"`
	Confidence     float64  `json:"confidence"`
	SymptomSummary string   `json:"symptomSummary,omitempty"`
	Symptoms       []string `json:"symptoms,omitempty"`
	Urgency        Urgency  `json:"urgency"`
	MatchedCardID  string   `json:"matchedCardId,omitempty"`
	Tone           Tone     `json:"tone"`
}

type symptomPattern struct {
	re    *regexp.Regexp
	label string
}

var symptomPatterns = []symptomPattern{
	{regexp.MustCompile(`\b(not|isnt|wont|doesnt|stopped)\s+(cooling|heating|working|turning on|blowing|draining|running)\b`), ""},
	{regexp.MustCompile(`\bno\s+(heat|air|hot water|cold air|power)\b`), ""},
	{regexp.MustCompile(`\b(leak|leaking|dripping|puddle|water on the floor)\b`), "leak"},
	{regexp.MustCompile(`\b(smell|smells|smelling)\s+(like\s+)?(gas|burning|smoke|mold)\b`), ""},
	{regexp.MustCompile(`\b(making|makes|made)\s+(a\s+)?(loud\s+|weird\s+|strange\s+)?(noise|sound|banging|buzzing|grinding|clicking)\b`), "noise"},
	{regexp.MustCompile(`\b(frozen|iced up|ice on)\b`), "ice"},
	{regexp.MustCompile(`\b(blowing\s+(warm|hot|cold)\s+air)\b`), ""},
}

var degreesPattern = regexp.MustCompile(`\b(\d{2,3})\s*(degrees|deg)\b`)

// Classifier is stateless and safe for concurrent use.
type Classifier struct {
	logger *logging.Logger
}

func NewClassifier(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{logger: logger}
}

// Classify returns nil when triage is disabled for the tenant.
func (c *Classifier) Classify(ctx context.Context, utterance string, cfg Config) *Result {
	if !cfg.Enabled {
		return nil
	}
	_, span := tracer.Start(ctx, "triage.classify")
	defer span.End()

	text := " " + strings.Join(scenario.Tokenize(scenario.Fold(utterance)), " ") + " "
	res := &Result{IntentGuess: IntentOther, Urgency: UrgencyNormal}
	if strings.TrimSpace(text) == "" {
		res.Tone = SelectTone(res)
		return res
	}

	scores := make(map[Intent]float64, len(cfg.Intents))
	for intent, terms := range cfg.Intents {
		for _, term := range terms {
			if containsTerm(text, term) {
				scores[intent] += termWeight(term)
			}
		}
	}
	for _, intent := range intentOrder {
		if s := scores[intent]; s > res.Confidence {
			res.IntentGuess, res.Confidence = intent, s
		}
	}
	res.Confidence = min(1.0, res.Confidence)

	res.Symptoms = symptoms(text)
	res.SymptomSummary = strings.Join(res.Symptoms, ", ")
	res.Urgency = urgency(text, cfg)
	if res.IntentGuess == IntentOther && (res.Urgency != UrgencyNormal || len(res.Symptoms) > 0) {
		res.IntentGuess, res.Confidence = IntentServiceRequest, 0.5
	}
	for _, card := range cfg.Cards {
		if anyTerm(text, card.Terms) {
			res.MatchedCardID = card.ID
			break
		}
	}
	res.Tone = SelectTone(res)

	span.SetAttributes(
		attribute.String("triage.intent", string(res.IntentGuess)),
		attribute.String("triage.urgency", string(res.Urgency)),
		attribute.Float64("triage.confidence", res.Confidence),
	)
	c.logger.Debug("triage classified", "intent", res.IntentGuess, "urgency", res.Urgency, "symptoms", res.SymptomSummary)
	return res
}

func termWeight(term string) float64 {
	words := len(strings.Fields(term))
	return min(1.0, 0.5+0.25*float64(words-1))
}

// containsTerm matches a whole-word term; text is space-padded tokens.
func containsTerm(text, term string) bool {
	toks := scenario.Tokenize(scenario.Fold(term))
	if len(toks) == 0 {
		return false
	}
	return strings.Contains(text, " "+strings.Join(toks, " ")+" ")
}

func anyTerm(text string, terms []string) bool {
	for _, t := range terms {
		if containsTerm(text, t) {
			return true
		}
	}
	return false
}

func symptoms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, p := range symptomPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			if p.label != "" {
				add(p.label)
				continue
			}
			add(strings.TrimSpace(m))
		}
	}
	for _, m := range degreesPattern.FindAllStringSubmatch(text, -1) {
		add(m[1] + " degrees")
	}
	return out
}

func urgency(text string, cfg Config) Urgency {
	if anyTerm(text, cfg.EmergencyTerms) {
		return UrgencyEmergency
	}
	if anyTerm(text, cfg.UrgentTerms) {
		return UrgencyUrgent
	}
	for _, m := range degreesPattern.FindAllStringSubmatch(text, -1) {
		deg, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if (cfg.HotDegrees > 0 && deg >= cfg.HotDegrees) || (cfg.ColdDegrees > 0 && deg <= cfg.ColdDegrees) {
			return UrgencyUrgent
		}
	}
	return UrgencyNormal
}
