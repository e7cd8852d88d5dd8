// Package session holds per-call conversational memory and its persistence:
// the live Redis copy, the cross-call caller memory, and the end-of-call
// archive.
package session

import (
	"strings"
	"time"

	"github.com/wolfman30/voice-turn-core/internal/booking"
)

// Mode is the orchestrator's routing mode for a call.
type Mode string

const (
	ModeDiscovery Mode = "discovery"
	ModeBooking   Mode = "booking"
	ModeEnded     Mode = "ended"
)

const (
	maxHistory       = 50
	maxFacts         = 20
	maxSpokenReplies = 20
	summaryTurns     = 3
)

// Locks are anti-repeat flags. Once set they stay set for the call.
type Locks struct {
	Greeted        bool     `json:"greeted"`
	IssueCaptured  bool     `json:"issueCaptured"`
	BookingStarted bool     `json:"bookingStarted"`
	BookingLocked  bool     `json:"bookingLocked"`
	AskedSlots     []string `json:"askedSlots,omitempty"`
}

// Turn is one annotated exchange.
type Turn struct {
	Seq        int       `json:"seq"`
	Caller     string    `json:"caller"`
	Agent      string    `json:"agent,omitempty"`
	Source     string    `json:"source,omitempty"`
	Tier       int       `json:"tier,omitempty"`
	ScenarioID string    `json:"scenarioId,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Urgency    string    `json:"urgency,omitempty"`
	At         time.Time `json:"at"`
}

// Memory is everything the orchestrator keeps about one call.
type Memory struct {
	TenantID    string `json:"tenantId"`
	CallID      string `json:"callId"`
	CallerPhone string `json:"callerPhone,omitempty"`

	Mode    Mode `json:"mode"`
	TurnSeq int  `json:"turnSeq"`

	RollingSummary     string   `json:"rollingSummary,omitempty"`
	Facts              []string `json:"facts,omitempty"`
	AcknowledgedClaims []string `json:"acknowledgedClaims,omitempty"`
	Locks              Locks    `json:"locks"`

	LastAgentUtterance string `json:"lastAgentUtterance,omitempty"`
	BookingOffered     bool   `json:"bookingOffered"`
	// OfferTurn is the turn on which the scheduling offer was spoken.
	OfferTurn     int      `json:"offerTurn,omitempty"`
	Tier3SpentUSD float64  `json:"tier3SpentUsd"`
	SpokenReplies []string `json:"spokenReplies,omitempty"`
	History       []Turn   `json:"history,omitempty"`

	Booking *booking.Session `json:"booking,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New starts an empty discovery-mode memory.
func New(tenantID, callID string, now time.Time) *Memory {
	return &Memory{
		TenantID:  tenantID,
		CallID:    callID,
		Mode:      ModeDiscovery,
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// AddFact records a fact once; the oldest facts are dropped past the cap.
func (m *Memory) AddFact(fact string) {
	fact = strings.TrimSpace(fact)
	if fact == "" || contains(m.Facts, fact) {
		return
	}
	m.Facts = append(m.Facts, fact)
	if len(m.Facts) > maxFacts {
		m.Facts = m.Facts[len(m.Facts)-maxFacts:]
	}
}

// Acknowledge records a caller claim the agent has already acknowledged.
// It reports false when the claim was acknowledged before.
func (m *Memory) Acknowledge(claim string) bool {
	claim = strings.TrimSpace(strings.ToLower(claim))
	if claim == "" || contains(m.AcknowledgedClaims, claim) {
		return false
	}
	m.AcknowledgedClaims = append(m.AcknowledgedClaims, claim)
	return true
}

// MarkAsked locks a slot against being asked again.
func (m *Memory) MarkAsked(slot string) {
	if slot != "" && !contains(m.Locks.AskedSlots, slot) {
		m.Locks.AskedSlots = append(m.Locks.AskedSlots, slot)
	}
}

func (m *Memory) Asked(slot string) bool {
	return contains(m.Locks.AskedSlots, slot)
}

// Spoke remembers a scenario reply for anti-repeat.
func (m *Memory) Spoke(reply string) {
	if reply == "" {
		return
	}
	m.SpokenReplies = append(m.SpokenReplies, reply)
	if len(m.SpokenReplies) > maxSpokenReplies {
		m.SpokenReplies = m.SpokenReplies[len(m.SpokenReplies)-maxSpokenReplies:]
	}
}

// Record appends a turn, sets the last agent utterance, and refreshes the
// rolling summary from the facts and the most recent exchanges.
func (m *Memory) Record(t Turn) {
	m.History = append(m.History, t)
	if len(m.History) > maxHistory {
		m.History = m.History[len(m.History)-maxHistory:]
	}
	if t.Agent != "" {
		m.LastAgentUtterance = t.Agent
	}
	m.UpdatedAt = t.At.UTC()
	m.RollingSummary = m.summarize()
}

func (m *Memory) summarize() string {
	var b strings.Builder
	if len(m.Facts) > 0 {
		b.WriteString("Known: ")
		b.WriteString(strings.Join(m.Facts, "; "))
		b.WriteString(". ")
	}
	start := max(0, len(m.History)-summaryTurns)
	for _, t := range m.History[start:] {
		b.WriteString("Caller: ")
		b.WriteString(truncate(t.Caller, 120))
		if t.Agent != "" {
			b.WriteString(" / Agent: ")
			b.WriteString(truncate(t.Agent, 120))
		}
		b.WriteString(". ")
	}
	return strings.TrimSpace(b.String())
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
