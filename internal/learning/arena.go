// Package learning turns unanswered and model-answered utterances into
// suggestions a tenant admin can review, such as a trigger phrase to add to
// an existing scenario.
package learning

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/session"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// Kind is what a suggestion proposes.
type Kind string

const (
	// KindAddTrigger proposes the utterance as a trigger on the nearest scenario.
	KindAddTrigger Kind = "add_trigger"
	// KindNewScenario proposes a scenario for an utterance nothing came close to.
	KindNewScenario Kind = "new_scenario"
)

const defaultMaxPerTenant = 500

// Observation is one turn the cascade could not answer from a scenario.
type Observation struct {
	TenantID string
	CallID   string
	// Utterance is scrubbed of phone numbers and emails before it is kept.
	Utterance string
	// Source is "escalate" or "llm".
	Source  string
	Reason  string
	Nearest string
}

// Suggestion is one arena entry. Related holds ids of suggestions that
// share the nearest scenario; they are resolved on read and may dangle
// after eviction.
type Suggestion struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	Kind              Kind      `json:"kind"`
	Utterance         string    `json:"utterance"`
	NearestScenarioID string    `json:"nearestScenarioId,omitempty"`
	Sources           []string  `json:"sources"`
	Count             int       `json:"count"`
	FirstSeen         time.Time `json:"firstSeen"`
	LastSeen          time.Time `json:"lastSeen"`
	Related           []string  `json:"related,omitempty"`
}

// View is a suggestion with its related suggestions resolved.
type View struct {
	Suggestion
	RelatedSuggestions []Suggestion `json:"relatedSuggestions,omitempty"`
}

// Arena owns every suggestion; cross references are ids only.
type Arena struct {
	mu       sync.RWMutex
	byID     map[string]*Suggestion
	byTenant map[string]map[string]string // tenant -> dedup key -> id

	maxPerTenant int
	now          func() time.Time
	newID        func() string
	logger       *logging.Logger
}

type Option func(*Arena)

func WithClock(now func() time.Time) Option {
	return func(a *Arena) { a.now = now }
}

func WithMaxPerTenant(n int) Option {
	return func(a *Arena) {
		if n > 0 {
			a.maxPerTenant = n
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(a *Arena) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewArena(opts ...Option) *Arena {
	a := &Arena{
		byID:         make(map[string]*Suggestion),
		byTenant:     make(map[string]map[string]string),
		maxPerTenant: defaultMaxPerTenant,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observe records an observation. Repeats of the same utterance bump the
// existing suggestion's count.
func (a *Arena) Observe(_ context.Context, obs Observation) {
	text := strings.TrimSpace(session.ScrubPII(obs.Utterance))
	key := dedupKey(text)
	if obs.TenantID == "" || key == "" {
		return
	}
	now := a.now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	keys := a.byTenant[obs.TenantID]
	if keys == nil {
		keys = make(map[string]string)
		a.byTenant[obs.TenantID] = keys
	}
	if id, ok := keys[key]; ok {
		s := a.byID[id]
		s.Count++
		s.LastSeen = now
		s.Sources = appendUnique(s.Sources, obs.Source)
		return
	}

	s := &Suggestion{
		ID:                a.newID(),
		TenantID:          obs.TenantID,
		Kind:              KindNewScenario,
		Utterance:         text,
		NearestScenarioID: obs.Nearest,
		Sources:           appendUnique(nil, obs.Source),
		Count:             1,
		FirstSeen:         now,
		LastSeen:          now,
	}
	if obs.Nearest != "" {
		s.Kind = KindAddTrigger
		for _, id := range keys {
			other := a.byID[id]
			if other.NearestScenarioID == obs.Nearest {
				other.Related = append(other.Related, s.ID)
				s.Related = append(s.Related, other.ID)
			}
		}
		sort.Strings(s.Related)
	}
	a.byID[s.ID] = s
	keys[key] = s.ID
	a.evict(obs.TenantID)
	a.logger.Debug("learning: suggestion recorded", "tenant_id", obs.TenantID, "suggestion_id", s.ID, "kind", s.Kind)
}

// evict drops the least recently seen suggestions past the tenant cap.
func (a *Arena) evict(tenantID string) {
	keys := a.byTenant[tenantID]
	for len(keys) > a.maxPerTenant {
		var oldestKey string
		var oldest *Suggestion
		for k, id := range keys {
			s := a.byID[id]
			if oldest == nil || s.LastSeen.Before(oldest.LastSeen) || (s.LastSeen.Equal(oldest.LastSeen) && s.ID < oldest.ID) {
				oldestKey, oldest = k, s
			}
		}
		delete(keys, oldestKey)
		delete(a.byID, oldest.ID)
	}
}

// Get resolves one suggestion and its live related suggestions.
func (a *Arena) Get(id string) (View, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.byID[id]
	if !ok {
		return View{}, false
	}
	return a.view(s), true
}

// List returns a tenant's suggestions, most frequent first.
func (a *Arena) List(tenantID string) []View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := a.byTenant[tenantID]
	out := make([]View, 0, len(keys))
	for _, id := range keys {
		out = append(out, a.view(a.byID[id]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (a *Arena) view(s *Suggestion) View {
	v := View{Suggestion: copySuggestion(s)}
	for _, id := range s.Related {
		if rel, ok := a.byID[id]; ok {
			v.RelatedSuggestions = append(v.RelatedSuggestions, copySuggestion(rel))
		}
	}
	return v
}

func copySuggestion(s *Suggestion) Suggestion {
	c := *s
	c.Sources = append([]string(nil), s.Sources...)
	c.Related = append([]string(nil), s.Related...)
	return c
}

// dedupKey folds an utterance so trivially different phrasings collapse.
func dedupKey(text string) string {
	return strings.Join(scenario.Tokenize(scenario.Fold(text)), " ")
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
