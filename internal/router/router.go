// Package router runs the tier cascade for one discovery turn: rule match,
// then semantic re-rank, then a budget-gated LLM answer, then escalation.
package router

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/voice-turn-core/internal/budget"
	"github.com/wolfman30/voice-turn-core/internal/events"
	"github.com/wolfman30/voice-turn-core/internal/guard"
	"github.com/wolfman30/voice-turn-core/internal/llm"
	"github.com/wolfman30/voice-turn-core/internal/matching"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/semantic"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var tracer = otel.Tracer("voice.internal.router")

// Source says who produced a decision's text.
type Source string

const (
	SourceScenario Source = "scenario"
	SourceLLM      Source = "llm"
	SourceEscalate Source = "escalate"
)

// Escalation reasons.
const (
	ReasonNoMatch         = "no_match"
	ReasonTier3Disabled   = "tier3_disabled"
	ReasonBudget          = "budget_exhausted"
	ReasonRateLimited     = "rate_limited"
	ReasonInputGuard      = "input_guard"
	ReasonOutputGuard     = "output_guard"
	ReasonTier3Failed     = "tier3_failed"
	ReasonPoolUnavailable = "pool_unavailable"
)

const (
	defaultMaxTokens   = 160
	semanticCandidates = 5
	tier3Confidence    = 0.5
	// cacheFloor is the confidence a decision must exceed to be cached.
	cacheFloor = 0.5
)

// PoolSource yields a tenant's compiled scenario pool.
type PoolSource interface {
	Get(ctx context.Context, tenantID string) (*scenario.CompiledPool, error)
}

// ConfigSource yields a tenant's normalized config.
type ConfigSource interface {
	GetOrBuild(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// Completer is the Tier 3 model boundary.
type Completer interface {
	Complete(ctx context.Context, prompt llm.Prompt, model string, maxTokens int) (llm.Completion, error)
	Estimate(model string, prompt llm.Prompt, maxTokens int) float64
}

// BudgetGate admits and charges Tier 3 calls.
type BudgetGate interface {
	Admit(ctx context.Context, tenantID string, limits budget.Limits, callSpent, estimate float64) error
	Record(ctx context.Context, tenantID string, usd float64) error
}

// Request is one discovery utterance.
type Request struct {
	TenantID  string
	CallID    string
	TurnSeq   int
	Utterance string
	// CallSpentUSD is what Tier 3 already cost on this call.
	CallSpentUSD float64
	// SpokenReplies are scenario replies already said on this call.
	SpokenReplies     []string
	PreferredCategory string
}

// Decision is the cascade outcome. Text is empty when Source is escalate.
type Decision struct {
	Source     Source
	Text       string
	Confidence float64
	Tier       int
	CostUSD    float64
	ScenarioID string
	Model      string
	Cached     bool
	Reason     string
	// Nearest is the best Tier 1 candidate when no scenario answered.
	Nearest string
}

// Router is safe for concurrent use across tenants and calls.
type Router struct {
	pools    PoolSource
	configs  ConfigSource
	selector *matching.Selector

	scorer    semantic.Scorer
	completer Completer
	gate      BudgetGate
	cache     *ResultCache
	sink      events.Sink
	logger    *logging.Logger
	maxTokens int
}

type Option func(*Router)

// WithSemantic enables Tier 2.
func WithSemantic(s semantic.Scorer) Option {
	return func(r *Router) { r.scorer = s }
}

// WithTier3 enables Tier 3. Both collaborators are required for it to run.
func WithTier3(c Completer, gate BudgetGate) Option {
	return func(r *Router) {
		r.completer = c
		r.gate = gate
	}
}

func WithResultCache(c *ResultCache) Option {
	return func(r *Router) { r.cache = c }
}

func WithSink(s events.Sink) Option {
	return func(r *Router) {
		if s != nil {
			r.sink = s
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

func New(pools PoolSource, configs ConfigSource, opts ...Option) *Router {
	if pools == nil {
		panic("router: pool source cannot be nil")
	}
	if configs == nil {
		panic("router: config source cannot be nil")
	}
	r := &Router{
		pools:     pools,
		configs:   configs,
		selector:  matching.NewSelector(matching.DefaultWeights()),
		sink:      events.Discard,
		logger:    logging.Default(),
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route decides how to answer one utterance. Only a missing tenant config
// is returned as an error; every other failure becomes an escalation.
func (r *Router) Route(ctx context.Context, req Request) (Decision, error) {
	ctx, span := tracer.Start(ctx, "router.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("call.id", req.CallID),
		attribute.Int("turn.seq", req.TurnSeq),
	)
	log := r.logger.WithTurn(req.TenantID, req.CallID, req.TurnSeq)

	cfg, err := r.configs.GetOrBuild(ctx, req.TenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant config")
		return Decision{}, err
	}
	pool, err := r.pools.Get(ctx, req.TenantID)
	if err != nil {
		log.Error("router: scenario pool unavailable", "error", err)
		d := Decision{Source: SourceEscalate, Reason: ReasonPoolUnavailable}
		r.emit(ctx, req, d)
		return d, nil
	}

	d := r.route(ctx, log, req, cfg, pool)
	span.SetAttributes(
		attribute.String("router.source", string(d.Source)),
		attribute.Int("router.tier", d.Tier),
		attribute.Float64("router.confidence", d.Confidence),
		attribute.Bool("router.cached", d.Cached),
	)
	r.emit(ctx, req, d)
	return d, nil
}

func (r *Router) route(ctx context.Context, log *logging.Logger, req Request, cfg *tenant.Config, pool *scenario.CompiledPool) Decision {
	intel := cfg.Intelligence
	normalized := pool.Normalizer().Analyze(req.Utterance).Normalized()

	var cacheKey string
	if r.cache != nil && normalized != "" {
		cacheKey = r.cache.key(req.TenantID, pool.Version, cfg.Version, normalized)
		hit, ok, err := r.cache.get(ctx, cacheKey)
		if err != nil {
			log.Warn("router: result cache read failed", "error", err)
		} else if ok {
			return r.fromCache(hit, pool, req.SpokenReplies)
		}
	}

	res := r.selector.Select(req.Utterance, pool, matching.Context{PreferredCategory: req.PreferredCategory})
	if best := res.Best; best != nil && res.Confidence >= intel.Tier1() && res.Confidence >= best.Scenario.MinConfidence {
		d := r.scenarioDecision(best.Scenario, res.Confidence, 1, req.SpokenReplies)
		r.store(ctx, log, cacheKey, d)
		return d
	}

	facts := candidateScenarios(res.Candidates)
	if r.scorer != nil && res.Best != nil && res.Confidence >= intel.Tier2() {
		if d, ranked, ok := r.tier2(ctx, log, req, res, intel.Tier2()); ok {
			r.store(ctx, log, cacheKey, d)
			return d
		} else if len(ranked) > 0 {
			facts = ranked
		}
	}
	if len(facts) == 0 {
		facts = pool.Scenarios
	}
	var nearest string
	if res.Best != nil {
		nearest = res.Best.ID()
	}

	if !intel.Tier3Enabled || r.completer == nil || r.gate == nil {
		reason := ReasonNoMatch
		if !intel.Tier3Enabled {
			reason = ReasonTier3Disabled
		}
		return Decision{Source: SourceEscalate, Reason: reason, Confidence: res.Confidence, Nearest: nearest}
	}
	d := r.tier3(ctx, log, req, intel, facts)
	d.Nearest = nearest
	return d
}

func (r *Router) tier2(ctx context.Context, log *logging.Logger, req Request, res matching.Result, threshold float64) (Decision, []*scenario.CompiledScenario, bool) {
	cands := res.Candidates
	if len(cands) > semanticCandidates {
		cands = cands[:semanticCandidates]
	}
	tier1 := make(map[string]float64, len(cands))
	scs := make([]*scenario.CompiledScenario, 0, len(cands))
	for _, c := range cands {
		tier1[c.ID()] = c.Score
		scs = append(scs, c.Scenario)
	}
	ranked, err := semantic.Rank(ctx, r.scorer, req.Utterance, scs)
	if err != nil {
		log.Warn("router: semantic scoring failed", "error", err)
		return Decision{}, nil, false
	}

	var best *scenario.CompiledScenario
	bestScore := -1.0
	order := make([]*scenario.CompiledScenario, 0, len(ranked))
	for _, rk := range ranked {
		order = append(order, rk.Scenario)
		blended := 0.4*tier1[rk.Scenario.ID] + 0.6*rk.Score
		if blended > bestScore {
			best, bestScore = rk.Scenario, blended
		}
	}
	if best == nil || bestScore < threshold {
		return Decision{}, order, false
	}
	return r.scenarioDecision(best, bestScore, 2, req.SpokenReplies), order, true
}

func (r *Router) tier3(ctx context.Context, log *logging.Logger, req Request, intel tenant.IntelligenceConfig, facts []*scenario.CompiledScenario) Decision {
	in := guard.ScanInput(req.Utterance)
	if in.Blocked {
		log.Warn("router: utterance blocked before tier 3", "score", in.Score, "reasons", in.Reasons)
		return Decision{Source: SourceEscalate, Tier: 3, Reason: ReasonInputGuard}
	}

	prompt := buildPrompt(in.Sanitized, facts)
	estimate := r.completer.Estimate(intel.LLMModel, prompt, r.maxTokens)
	limits := budget.Limits{MaxCostPerCall: intel.CallLimit(), DailyBudget: intel.DailyLimit()}
	if err := r.gate.Admit(ctx, req.TenantID, limits, req.CallSpentUSD, estimate); err != nil {
		reason := ReasonBudget
		if errors.Is(err, budget.ErrRateLimited) {
			reason = ReasonRateLimited
		}
		log.Info("router: tier 3 skipped", "reason", reason, "estimate_usd", estimate)
		return Decision{Source: SourceEscalate, Tier: 3, Reason: reason}
	}

	completion, err := r.completer.Complete(ctx, prompt, intel.LLMModel, r.maxTokens)
	if err != nil {
		log.Error("router: tier 3 failed", "error", err)
		data := map[string]any{"error": err.Error()}
		var perr *llm.ProviderError
		if errors.As(err, &perr) {
			data["kind"] = string(perr.Kind)
		}
		r.sink.Emit(ctx, events.New(events.Tier3Failed, req.TenantID, req.CallID, req.TurnSeq, data))
		return Decision{Source: SourceEscalate, Tier: 3, Reason: ReasonTier3Failed}
	}

	// Spend is charged even when the reply is discarded below.
	if err := r.gate.Record(ctx, req.TenantID, completion.CostUSD); err != nil {
		log.Warn("router: failed to record tier 3 spend", "error", err, "cost_usd", completion.CostUSD)
	}

	out := guard.ScanOutput(completion.Text)
	if out.Violated {
		log.Warn("router: tier 3 reply discarded", "reasons", out.Reasons, "reply", logging.Truncate(completion.Text, 200))
		return Decision{Source: SourceEscalate, Tier: 3, Reason: ReasonOutputGuard, CostUSD: completion.CostUSD, Model: completion.Model}
	}
	return Decision{
		Source:     SourceLLM,
		Text:       strings.TrimSpace(completion.Text),
		Confidence: tier3Confidence,
		Tier:       3,
		CostUSD:    completion.CostUSD,
		Model:      completion.Model,
	}
}

func (r *Router) scenarioDecision(sc *scenario.CompiledScenario, confidence float64, tier int, spoken []string) Decision {
	return Decision{
		Source:     SourceScenario,
		Text:       pickReply(sc, spoken),
		Confidence: confidence,
		Tier:       tier,
		ScenarioID: sc.ID,
	}
}

func (r *Router) fromCache(hit cachedDecision, pool *scenario.CompiledPool, spoken []string) Decision {
	d := Decision{
		Source:     hit.Source,
		Text:       hit.Text,
		Confidence: hit.Confidence,
		Tier:       hit.Tier,
		ScenarioID: hit.ScenarioID,
		Cached:     true,
	}
	if sc, ok := pool.Scenario(hit.ScenarioID); ok {
		d.Text = pickReply(sc, spoken)
	}
	return d
}

func (r *Router) store(ctx context.Context, log *logging.Logger, key string, d Decision) {
	if key == "" || d.Source == SourceEscalate || d.Confidence <= cacheFloor {
		return
	}
	err := r.cache.set(ctx, key, cachedDecision{
		Source:     d.Source,
		Tier:       d.Tier,
		ScenarioID: d.ScenarioID,
		Text:       d.Text,
		Confidence: d.Confidence,
	})
	if err != nil {
		log.Warn("router: result cache write failed", "error", err)
	}
}

// InvalidateTenant drops cached decisions for a tenant.
func (r *Router) InvalidateTenant(ctx context.Context, tenantID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateTenant(ctx, tenantID)
}

func (r *Router) emit(ctx context.Context, req Request, d Decision) {
	r.sink.Emit(ctx, events.New(events.TierDecision, req.TenantID, req.CallID, req.TurnSeq, map[string]any{
		"tier":        d.Tier,
		"source":      string(d.Source),
		"confidence":  d.Confidence,
		"scenario_id": d.ScenarioID,
		"cost_usd":    d.CostUSD,
		"model":       d.Model,
		"cached":      d.Cached,
		"reason":      d.Reason,
	}))
}

func candidateScenarios(cands []matching.Candidate) []*scenario.CompiledScenario {
	out := make([]*scenario.CompiledScenario, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Scenario)
	}
	return out
}

// pickReply returns the first reply not yet spoken on the call, or the
// first reply when all have been said.
func pickReply(sc *scenario.CompiledScenario, spoken []string) string {
	replies := sc.Replies()
	if len(replies) == 0 {
		return sc.SummaryText()
	}
	said := make(map[string]struct{}, len(spoken))
	for _, s := range spoken {
		said[s] = struct{}{}
	}
	for _, reply := range replies {
		if _, ok := said[reply]; !ok {
			return reply
		}
	}
	return replies[0]
}
