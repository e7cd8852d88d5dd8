package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"
	"time"

	"github.com/wolfman30/voice-turn-core/internal/docstore"
)

// CallerMemory is what survives between calls from the same number to the
// same tenant. The caller is identified only by a phone hash.
type CallerMemory struct {
	TenantID       string    `dynamodbav:"tenantId" json:"tenantId"`
	CallerKey      string    `dynamodbav:"callerKey" json:"callerKey"`
	RollingSummary string    `dynamodbav:"rollingSummary,omitempty" json:"rollingSummary,omitempty"`
	Facts          []string  `dynamodbav:"facts,omitempty" json:"facts,omitempty"`
	CallCount      int       `dynamodbav:"callCount" json:"callCount"`
	LastCallID     string    `dynamodbav:"lastCallId,omitempty" json:"lastCallId,omitempty"`
	LastCallAt     time.Time `dynamodbav:"lastCallAt" json:"lastCallAt"`
}

// CallerMemoryStore persists CallerMemory in a table keyed by
// tenantId (partition) and callerKey (sort).
type CallerMemoryStore struct {
	table *docstore.Table
}

func NewCallerMemoryStore(table *docstore.Table) *CallerMemoryStore {
	if table == nil {
		panic("session: caller memory table cannot be nil")
	}
	return &CallerMemoryStore{table: table}
}

// Load returns nil without error for a first-time caller.
func (s *CallerMemoryStore) Load(ctx context.Context, tenantID, phone string) (*CallerMemory, error) {
	if phone == "" {
		return nil, nil
	}
	var cm CallerMemory
	found, err := s.table.Get(ctx, map[string]string{"tenantId": tenantID, "callerKey": HashPhone(phone)}, &cm)
	if err != nil {
		return nil, fmt.Errorf("session: load caller memory: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cm, nil
}

// Remember folds a finished call into the caller's memory.
func (s *CallerMemoryStore) Remember(ctx context.Context, m *Memory, now time.Time) error {
	if m == nil || m.CallerPhone == "" {
		return nil
	}
	prev, err := s.Load(ctx, m.TenantID, m.CallerPhone)
	if err != nil {
		return err
	}
	cm := CallerMemory{TenantID: m.TenantID, CallerKey: HashPhone(m.CallerPhone)}
	if prev != nil {
		cm = *prev
	}
	cm.CallCount++
	cm.LastCallID = m.CallID
	cm.LastCallAt = now.UTC()
	if m.RollingSummary != "" {
		cm.RollingSummary = m.RollingSummary
	}
	for _, f := range m.Facts {
		if !contains(cm.Facts, f) {
			cm.Facts = append(cm.Facts, f)
		}
	}
	if len(cm.Facts) > maxFacts {
		cm.Facts = cm.Facts[len(cm.Facts)-maxFacts:]
	}
	if err := s.table.Put(ctx, cm); err != nil {
		return fmt.Errorf("session: save caller memory: %w", err)
	}
	return nil
}

// Seed copies a returning caller's memory into a new call.
func (cm *CallerMemory) Seed(m *Memory) {
	if cm == nil || m == nil {
		return
	}
	for _, f := range cm.Facts {
		m.AddFact(f)
	}
	if m.RollingSummary == "" && cm.RollingSummary != "" {
		m.RollingSummary = "Previous call: " + cm.RollingSummary
	}
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
)

// HashPhone returns the hex-encoded SHA-256 of a phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	return phoneRe.ReplaceAllString(text, "[PHONE]")
}
