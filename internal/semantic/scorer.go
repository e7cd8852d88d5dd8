// Package semantic is Tier 2: it re-ranks Tier 1 candidates by meaning
// rather than surface form.
package semantic

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var tracer = otel.Tracer("voice.internal.semantic")

// Scorer rates how well an utterance fits a scenario, in [0,1].
type Scorer interface {
	Score(ctx context.Context, utterance string, sc *scenario.CompiledScenario) (float64, error)
}

// Ranked is one scored scenario.
type Ranked struct {
	Scenario *scenario.CompiledScenario
	Score    float64
}

// rankConcurrency bounds parallel Score calls for one utterance.
const rankConcurrency = 4

// Rank scores every scenario concurrently and returns them best first.
// The first scoring error aborts the ranking.
func Rank(ctx context.Context, s Scorer, utterance string, scs []*scenario.CompiledScenario) ([]Ranked, error) {
	ctx, span := tracer.Start(ctx, "semantic.rank")
	defer span.End()
	span.SetAttributes(attribute.Int("semantic.candidates", len(scs)))

	out := make([]Ranked, len(scs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rankConcurrency)
	for i, sc := range scs {
		i, sc := i, sc
		g.Go(func() error {
			score, err := s.Score(gctx, utterance, sc)
			if err != nil {
				return err
			}
			out[i] = Ranked{Scenario: sc, Score: clamp(score)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Scenario.ID < out[j].Scenario.ID
	})
	return out, nil
}

// FallbackScorer uses Secondary whenever Primary fails.
type FallbackScorer struct {
	Primary   Scorer
	Secondary Scorer
	Logger    *logging.Logger
}

func (f FallbackScorer) Score(ctx context.Context, utterance string, sc *scenario.CompiledScenario) (float64, error) {
	score, err := f.Primary.Score(ctx, utterance, sc)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return score, err
	}
	logger := f.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("semantic: primary scorer failed, using fallback", "scenario_id", sc.ID, "error", err)
	return f.Secondary.Score(ctx, utterance, sc)
}

// document is the text a scenario is compared against.
func document(sc *scenario.CompiledScenario) string {
	parts := append([]string{sc.SummaryText()}, sc.TriggerPhrases...)
	return strings.Join(parts, ". ")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
