package guard

import (
	"regexp"
	"strings"
)

// OutputResult is the outcome of scanning a model reply.
type OutputResult struct {
	// Violated means the reply breaks a rule and must be discarded.
	Violated bool
	Reasons  []string
}

type outputPattern struct {
	re     *regexp.Regexp
	reason string
}

// Tier 3 replies may answer general questions from the supplied facts but
// must never quote prices, diagnose equipment, or promise arrival times.
var outputPatterns = []outputPattern{
	{regexp.MustCompile(`\$\s?\d`), "policy:price"},
	{regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(dollars|bucks|usd)\b`), "policy:price"},
	{regexp.MustCompile(`(?i)\b(costs?|charges?|fee is|price is)\s+(about|around|roughly|only|just)?\s*\d`), "policy:price"},
	{regexp.MustCompile(`(?i)\b(it'?s|that'?s|sounds like|probably|likely|definitely)\s+(a|an|your|the)?\s*(bad|failed|failing|broken|blown|faulty|dead|clogged|frozen)\s+\w+`), "policy:diagnosis"},
	{regexp.MustCompile(`(?i)\b(your|the)\s+(compressor|capacitor|contactor|blower|motor|coil|igniter|heat exchanger|refrigerant|breaker)\s+(is|has|needs)\b`), "policy:diagnosis"},
	{regexp.MustCompile(`(?i)\bi\s+(diagnose|think the problem is|believe the problem is)\b`), "policy:diagnosis"},
	{regexp.MustCompile(`(?i)\b(will|can|'ll)\s+(be|arrive|get|come|show up)\s+(there|out|over|to you)?\s*(in|within|by)\s+(\d+|an?|one|two|the next)\s*(minutes?|hours?|hrs?)`), "policy:timing_promise"},
	{regexp.MustCompile(`(?i)\b(guarantee|promise)\b.*\b(today|tonight|tomorrow|arrive|minutes?|hours?)\b`), "policy:timing_promise"},
	{regexp.MustCompile(`(?i)\b(someone|a technician|a tech|we)\s+(will|'ll)\s+be\s+(there|out)\s+(today|tonight|right away|shortly)`), "policy:timing_promise"},
	{regexp.MustCompile(`(?i)my (system\s+)?(prompt|instructions?)\s+(is|are|says?|tells?)`), "leak:instructions"},
	{regexp.MustCompile(`(?i)i('m| am) (programmed|instructed|told|configured) to`), "leak:programming"},
	{regexp.MustCompile(`(?i)(powered by|built on|running on)\s+(claude|gpt|openai|anthropic|bedrock|gemini|aws)`), "leak:tech_stack"},
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token)\s*[:=]\s*\S+`), "leak:credential"},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "leak:aws_key"},
}

// ScanOutput checks a model reply against the reply policy.
func ScanOutput(reply string) OutputResult {
	if strings.TrimSpace(reply) == "" {
		return OutputResult{}
	}
	var reasons []string
	seen := make(map[string]bool)
	for _, p := range outputPatterns {
		if !seen[p.reason] && p.re.MatchString(reply) {
			seen[p.reason] = true
			reasons = append(reasons, p.reason)
		}
	}
	return OutputResult{Violated: len(reasons) > 0, Reasons: reasons}
}
