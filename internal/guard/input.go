// Package guard screens text crossing the Tier 3 boundary: caller
// utterances before they reach a model and model replies before they reach
// the caller.
package guard

import (
	"regexp"
	"strings"
)

// InputResult is the outcome of scanning a caller utterance.
type InputResult struct {
	// Blocked means the utterance must not be sent to a model.
	Blocked bool
	// Score is a heuristic risk score in [0,1].
	Score   float64
	Reasons []string
	// Sanitized has known injection markers stripped.
	Sanitized string
}

type weightedPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

const blockThreshold = 0.7

var inputPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?)`), "injection:override_instructions", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), "injection:role_reassignment", 0.7},
	{regexp.MustCompile(`(?i)new\s+instructions?\s*:|system\s*prompt\s*:|<<\s*sys(tem)?\s*>>`), "injection:new_role", 0.9},
	{regexp.MustCompile(`(?i)(pretend|imagine|assume)\s+(that\s+)?(you\s+)?(are|have|don'?t\s+have)\s+(no\s+)?(rules?|restrictions?|limits?|filters?)`), "injection:pretend_no_rules", 0.9},
	{regexp.MustCompile(`(?i)jailbreak|dan\s*mode|developer\s*mode|god\s*mode`), "injection:jailbreak_keyword", 0.9},
	{regexp.MustCompile(`(?i)(reveal|show|print|repeat|tell\s+me|what\s+(is|are))\s+(your\s+)?(system\s+prompt|instructions?|hidden\s+prompt|initial\s+prompt)`), "exfiltration:system_prompt", 0.8},
	{regexp.MustCompile(`(?i)(list|give|tell)\s+(me\s+)?(the\s+)?(other\s+)?(customers?|callers?)('?s)?\s+(names?|numbers?|addresses|records?)`), "exfiltration:customer_data", 0.7},
	{regexp.MustCompile(`(?i)\b(api|secret|aws|database)\s*(key|token|password|credentials?)\b`), "exfiltration:credentials", 0.8},
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>`), "context:special_tokens", 0.9},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|assistant)\s*:`), "context:role_markers", 0.7},
}

var markerPattern = regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>|###\s*(system|instruction|human|assistant|user)\s*:`)

// ScanInput scores an utterance for prompt injection. Several signals
// compound at 0.1 each on top of the strongest one.
func ScanInput(utterance string) InputResult {
	if strings.TrimSpace(utterance) == "" {
		return InputResult{Sanitized: utterance}
	}
	var reasons []string
	maxWeight := 0.0
	for _, p := range inputPatterns {
		if p.re.MatchString(utterance) {
			reasons = append(reasons, p.reason)
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}
	score := maxWeight
	if len(reasons) > 1 {
		score = min(1.0, maxWeight+float64(len(reasons)-1)*0.1)
	}
	return InputResult{
		Blocked:   score >= blockThreshold,
		Score:     score,
		Reasons:   reasons,
		Sanitized: strings.TrimSpace(markerPattern.ReplaceAllString(utterance, "")),
	}
}
