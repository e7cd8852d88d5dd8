package semantic

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/voice-turn-core/internal/llm"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
)

// maxUtteranceVectors bounds the utterance vector memo; it is reset when full.
const maxUtteranceVectors = 512

type poolVectors struct {
	version string
	vecs    map[string][]float32
}

// EmbeddingScorer is cosine similarity between embedding vectors. Scenario
// vectors are computed once per pool version.
type EmbeddingScorer struct {
	embedder llm.Embedder

	mu         sync.Mutex
	pools      map[string]*poolVectors // tenantID -> latest version's vectors
	utterances map[string][]float32

	group singleflight.Group
}

var _ Scorer = (*EmbeddingScorer)(nil)

func NewEmbeddingScorer(embedder llm.Embedder) *EmbeddingScorer {
	if embedder == nil {
		panic("semantic: embedder cannot be nil")
	}
	return &EmbeddingScorer{
		embedder:   embedder,
		pools:      make(map[string]*poolVectors),
		utterances: make(map[string][]float32),
	}
}

func (s *EmbeddingScorer) Score(ctx context.Context, utterance string, sc *scenario.CompiledScenario) (float64, error) {
	u, err := s.utteranceVector(ctx, utterance)
	if err != nil {
		return 0, err
	}
	d, err := s.scenarioVector(ctx, sc)
	if err != nil {
		return 0, err
	}
	return math.Max(0, cosine(u, d)), nil
}

func (s *EmbeddingScorer) utteranceVector(ctx context.Context, utterance string) ([]float32, error) {
	s.mu.Lock()
	vec, ok := s.utterances[utterance]
	s.mu.Unlock()
	if ok {
		return vec, nil
	}
	v, err, _ := s.group.Do("u:"+utterance, func() (any, error) {
		s.mu.Lock()
		vec, ok := s.utterances[utterance]
		s.mu.Unlock()
		if ok {
			return vec, nil
		}
		vec, err := s.embedOne(ctx, utterance)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if len(s.utterances) >= maxUtteranceVectors {
			s.utterances = make(map[string][]float32)
		}
		s.utterances[utterance] = vec
		s.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (s *EmbeddingScorer) scenarioVector(ctx context.Context, sc *scenario.CompiledScenario) ([]float32, error) {
	pool := sc.Pool()
	tenantID, version := "", ""
	if pool != nil {
		tenantID, version = pool.TenantID, pool.Version
	}

	if vec, ok := s.cachedScenario(tenantID, version, sc.ID); ok {
		return vec, nil
	}

	key := "s:" + tenantID + ":" + version + ":" + sc.ID
	v, err, _ := s.group.Do(key, func() (any, error) {
		if vec, ok := s.cachedScenario(tenantID, version, sc.ID); ok {
			return vec, nil
		}
		vec, err := s.embedOne(ctx, document(sc))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		pv := s.pools[tenantID]
		if pv == nil || pv.version != version {
			pv = &poolVectors{version: version, vecs: make(map[string][]float32)}
			s.pools[tenantID] = pv
		}
		pv.vecs[sc.ID] = vec
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (s *EmbeddingScorer) cachedScenario(tenantID, version, id string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pv := s.pools[tenantID]
	if pv == nil || pv.version != version {
		return nil, false
	}
	vec, ok := pv.vecs[id]
	return vec, ok
}

func (s *EmbeddingScorer) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("semantic: embed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("semantic: embed returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
