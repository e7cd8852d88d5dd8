package semantic

import (
	"context"
	"math"
	"sync"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type bm25Doc struct {
	tf  map[string]int
	len int
}

type bm25Index struct {
	version string
	n       int
	docs    map[string]bm25Doc
	df      map[string]int
	avgLen  float64
}

func buildBM25(pool *scenario.CompiledPool) *bm25Index {
	idx := &bm25Index{
		version: pool.Version,
		docs:    make(map[string]bm25Doc, pool.Len()),
		df:      make(map[string]int),
	}
	total := 0
	for _, sc := range pool.Scenarios {
		tokens := pool.Normalizer().Analyze(document(sc)).Content
		doc := bm25Doc{tf: make(map[string]int, len(tokens)), len: len(tokens)}
		for _, tok := range tokens {
			doc.tf[tok]++
		}
		for tok := range doc.tf {
			idx.df[tok]++
		}
		idx.docs[sc.ID] = doc
		total += doc.len
	}
	idx.n = len(idx.docs)
	if idx.n > 0 {
		idx.avgLen = float64(total) / float64(idx.n)
	}
	return idx
}

func (idx *bm25Index) idf(term string) float64 {
	return math.Log(float64(idx.n+1)/float64(idx.df[term]+1)) + 1
}

// BM25Scorer is a lexical Tier 2 scorer over scenario summaries and
// triggers. It needs no external service and backs up EmbeddingScorer.
type BM25Scorer struct {
	mu      sync.Mutex
	indexes map[string]*bm25Index // tenantID -> latest pool version
}

var _ Scorer = (*BM25Scorer)(nil)

func NewBM25Scorer() *BM25Scorer {
	return &BM25Scorer{indexes: make(map[string]*bm25Index)}
}

// Score is the BM25 score normalized by the best score any document could
// reach for the query, so it lands in [0,1].
func (s *BM25Scorer) Score(_ context.Context, utterance string, sc *scenario.CompiledScenario) (float64, error) {
	pool := sc.Pool()
	if pool == nil {
		return 0, nil
	}
	idx := s.index(pool)
	doc, ok := idx.docs[sc.ID]
	if !ok || doc.len == 0 {
		return 0, nil
	}

	query := pool.Normalizer().Analyze(utterance).Content
	seen := make(map[string]struct{}, len(query))
	var score, best float64
	for _, q := range query {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		idf := idx.idf(q)
		best += idf * (bm25K1 + 1)
		tf := float64(doc.tf[q])
		if tf == 0 {
			continue
		}
		norm := 1 - bm25B + bm25B*float64(doc.len)/idx.avgLen
		score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
	}
	if best == 0 {
		return 0, nil
	}
	return clamp(score / best), nil
}

func (s *BM25Scorer) index(pool *scenario.CompiledPool) *bm25Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexes[pool.TenantID]
	if idx == nil || idx.version != pool.Version {
		idx = buildBM25(pool)
		s.indexes[pool.TenantID] = idx
	}
	return idx
}
