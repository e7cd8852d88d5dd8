// Package orchestrator runs one caller turn end to end: it loads call
// memory, classifies the utterance, routes discovery turns through the tier
// cascade or booking turns through the slot machine, and persists the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/voice-turn-core/internal/booking"
	"github.com/wolfman30/voice-turn-core/internal/events"
	"github.com/wolfman30/voice-turn-core/internal/learning"
	"github.com/wolfman30/voice-turn-core/internal/router"
	"github.com/wolfman30/voice-turn-core/internal/session"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
	"github.com/wolfman30/voice-turn-core/internal/triage"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var tracer = otel.Tracer("voice.internal.orchestrator")

// Caller-facing actions.
const (
	ActionContinue = "continue"
	ActionTransfer = "transfer"
	ActionHangup   = "hangup"
)

var (
	// ErrCallNotFound is returned by EndCall for an unknown call.
	ErrCallNotFound = errors.New("orchestrator: call not found")
	// ErrTenantMismatch means a call's memory belongs to another tenant.
	ErrTenantMismatch = errors.New("orchestrator: call belongs to another tenant")
)

// TurnRequest is one caller utterance. State is optional; when nil the
// call's memory is loaded from the session store.
type TurnRequest struct {
	TenantID    string          `json:"tenantId"`
	CallID      string          `json:"callId"`
	CallerPhone string          `json:"callerPhone,omitempty"`
	Utterance   string          `json:"utterance"`
	State       *session.Memory `json:"state,omitempty"`
}

// TurnResponse is what the transport speaks and does next.
type TurnResponse struct {
	TurnID       string          `json:"turnId"`
	TurnSeq      int             `json:"turnSeq"`
	ResponseText string          `json:"responseText"`
	Action       string          `json:"action"`
	Mode         session.Mode    `json:"mode"`
	Source       string          `json:"source,omitempty"`
	Tier         int             `json:"tier,omitempty"`
	Tone         triage.Tone     `json:"tone,omitempty"`
	Handoff      string          `json:"handoff,omitempty"` // staff-facing booking summary, set on the completing turn
	State        *session.Memory `json:"state"`
}

// Router is the discovery-mode decision maker.
type Router interface {
	Route(ctx context.Context, req router.Request) (router.Decision, error)
}

// ConfigSource yields a tenant's normalized config.
type ConfigSource interface {
	GetOrBuild(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// SessionStore persists live call memory with turn ordering.
type SessionStore interface {
	Load(ctx context.Context, callID string) (*session.Memory, error)
	Save(ctx context.Context, m *session.Memory) error
	Delete(ctx context.Context, callID string) error
}

// CallerMemory carries facts between calls from the same number.
type CallerMemory interface {
	Load(ctx context.Context, tenantID, phone string) (*session.CallerMemory, error)
	Remember(ctx context.Context, m *session.Memory, now time.Time) error
}

// Archiver stores finished calls.
type Archiver interface {
	Archive(ctx context.Context, rec *session.CallRecord) error
}

// Learner collects turns no scenario answered.
type Learner interface {
	Observe(ctx context.Context, obs learning.Observation)
}

// TurnObserver records turn latency by mode.
type TurnObserver interface {
	ObserveTurn(mode string, seconds float64)
}

// Orchestrator is safe for concurrent use; turns of one call must be
// submitted sequentially.
type Orchestrator struct {
	configs    ConfigSource
	router     Router
	sessions   SessionStore
	machine    *booking.Machine
	classifier *triage.Classifier

	callers  CallerMemory
	archiver Archiver
	learner  Learner
	observer TurnObserver
	sink     events.Sink
	logger   *logging.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithCallerMemory(c CallerMemory) Option {
	return func(o *Orchestrator) { o.callers = c }
}

func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

func WithLearner(l Learner) Option {
	return func(o *Orchestrator) { o.learner = l }
}

func WithTurnObserver(obs TurnObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithSink(s events.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator. prompts feeds the booking machine; in
// production it is the tenant config cache.
func New(configs ConfigSource, r Router, sessions SessionStore, prompts booking.PromptSource, opts ...Option) *Orchestrator {
	if configs == nil {
		panic("orchestrator: config source cannot be nil")
	}
	if r == nil {
		panic("orchestrator: router cannot be nil")
	}
	if sessions == nil {
		panic("orchestrator: session store cannot be nil")
	}
	if prompts == nil {
		panic("orchestrator: prompt source cannot be nil")
	}
	o := &Orchestrator{
		configs:  configs,
		router:   r,
		sessions: sessions,
		sink:     events.Discard,
		logger:   logging.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.machine = booking.NewMachine(prompts, o.sink, o.logger)
	o.classifier = triage.NewClassifier(o.logger)
	return o
}

// ProcessTurn handles one caller utterance. A turn whose save loses to a
// newer turn of the same call returns session.ErrTurnSuperseded and its
// response must be dropped.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.CallID) == "" {
		return nil, fmt.Errorf("orchestrator: tenant id and call id are required")
	}
	started := o.now()
	ctx, span := tracer.Start(ctx, "orchestrator.process_turn")
	defer span.End()

	cfg, err := o.configs.GetOrBuild(ctx, req.TenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestrator: tenant config: %w", err)
	}
	mem, err := o.memory(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mem.TurnSeq++
	seq := mem.TurnSeq
	log := o.logger.WithTurn(req.TenantID, req.CallID, seq)
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("call.id", req.CallID),
		attribute.Int("turn.seq", seq),
		attribute.String("session.mode", string(mem.Mode)),
	)

	utterance := strings.TrimSpace(req.Utterance)
	resp := &TurnResponse{TurnID: uuid.NewString(), TurnSeq: seq, Action: ActionContinue}
	record := session.Turn{Seq: seq, Caller: utterance, At: started.UTC()}
	mode := mem.Mode

	switch {
	case utterance == "" && !mem.Locks.Greeted:
		resp.ResponseText = cfg.Greeting
		mem.Locks.Greeted = true
	case utterance == "":
		resp.ResponseText = cfg.NoInputMessage
	case isFarewell(utterance) && mem.Mode != session.ModeBooking:
		resp.ResponseText = cfg.FarewellMessage
		resp.Action = ActionHangup
	case mem.Mode == session.ModeBooking:
		o.bookingTurn(ctx, log, cfg, mem, utterance, resp)
	default:
		if err := o.discoveryTurn(ctx, log, cfg, mem, utterance, resp, &record); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	mem.Locks.Greeted = true

	record.Agent = resp.ResponseText
	if record.Source == "" {
		record.Source = resp.Source
	}
	mem.Record(record)
	resp.Mode = mem.Mode
	resp.State = mem

	// The caller may hang up mid-save; the turn still has to land.
	if err := o.sessions.Save(context.WithoutCancel(ctx), mem); err != nil {
		if errors.Is(err, session.ErrTurnSuperseded) {
			log.Warn("orchestrator: turn superseded, dropping response")
			o.sink.Emit(ctx, events.New(events.TurnSuperseded, req.TenantID, req.CallID, seq, nil))
			return nil, err
		}
		span.RecordError(err)
		return nil, fmt.Errorf("orchestrator: save session: %w", err)
	}

	if o.observer != nil {
		o.observer.ObserveTurn(string(mode), o.now().Sub(started).Seconds())
	}
	log.Info("turn processed", "mode", mode, "action", resp.Action, "source", resp.Source, "tier", resp.Tier)
	return resp, nil
}

// memory resolves the call's memory: the request's state, the stored copy,
// or a fresh one seeded from caller memory.
func (o *Orchestrator) memory(ctx context.Context, req TurnRequest) (*session.Memory, error) {
	mem := req.State
	if mem == nil {
		stored, err := o.sessions.Load(ctx, req.CallID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load session: %w", err)
		}
		mem = stored
	}
	if mem != nil {
		if mem.TenantID != req.TenantID {
			return nil, ErrTenantMismatch
		}
		return mem, nil
	}

	mem = session.New(req.TenantID, req.CallID, o.now())
	mem.CallerPhone = req.CallerPhone
	if o.callers != nil && req.CallerPhone != "" {
		prev, err := o.callers.Load(ctx, req.TenantID, req.CallerPhone)
		if err != nil {
			o.logger.Warn("orchestrator: caller memory unavailable", "tenant_id", req.TenantID, "call_id", req.CallID, "error", err)
		} else {
			prev.Seed(mem)
		}
	}
	return mem, nil
}

func (o *Orchestrator) discoveryTurn(ctx context.Context, log *logging.Logger, cfg *tenant.Config, mem *session.Memory, utterance string, resp *TurnResponse, record *session.Turn) error {
	seq := mem.TurnSeq
	tri := o.classifier.Classify(ctx, utterance, cfg.Triage)
	if tri != nil {
		resp.Tone = tri.Tone
		record.Intent = string(tri.IntentGuess)
		record.Urgency = string(tri.Urgency)
		o.sink.Emit(ctx, events.New(events.TriageResult, mem.TenantID, mem.CallID, seq, map[string]any{
			"intent":     string(tri.IntentGuess),
			"confidence": tri.Confidence,
			"urgency":    string(tri.Urgency),
			"symptoms":   tri.SymptomSummary,
			"card_id":    tri.MatchedCardID,
			"tone":       string(tri.Tone),
		}))
		if tri.SymptomSummary != "" && mem.Acknowledge(tri.SymptomSummary) {
			mem.AddFact("Reported: " + tri.SymptomSummary)
		}
		if tri.IntentGuess == triage.IntentServiceRequest {
			mem.Locks.IssueCaptured = true
		}
	}

	if trigger, ok := consent(mem, utterance); ok {
		o.startBooking(ctx, log, cfg, mem, utterance, trigger, resp)
		return nil
	}

	d, err := o.router.Route(ctx, router.Request{
		TenantID:      mem.TenantID,
		CallID:        mem.CallID,
		TurnSeq:       seq,
		Utterance:     utterance,
		CallSpentUSD:  mem.Tier3SpentUSD,
		SpokenReplies: mem.SpokenReplies,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: route: %w", err)
	}
	mem.Tier3SpentUSD += d.CostUSD
	resp.Source = string(d.Source)
	resp.Tier = d.Tier
	record.Source = string(d.Source)
	record.Tier = d.Tier
	record.ScenarioID = d.ScenarioID

	switch d.Source {
	case router.SourceEscalate:
		resp.ResponseText = cfg.EscalationMessage
		resp.Action = cfg.EscalationAction
	default:
		resp.ResponseText = d.Text
		if d.Source == router.SourceScenario {
			mem.Spoke(d.Text)
		}
	}
	if o.learner != nil && d.Source != router.SourceScenario && d.Reason != router.ReasonInputGuard {
		o.learner.Observe(ctx, learning.Observation{
			TenantID:  mem.TenantID,
			CallID:    mem.CallID,
			Utterance: utterance,
			Source:    string(d.Source),
			Reason:    d.Reason,
			Nearest:   d.Nearest,
		})
	}

	if resp.Action == ActionContinue && shouldOffer(mem, tri) {
		resp.ResponseText = strings.TrimSpace(resp.ResponseText + " " + cfg.SchedulingOffer)
		mem.BookingOffered = true
		mem.OfferTurn = seq
	}
	return nil
}

// consent reports whether utterance agrees to book. A bare yes counts only
// right after the scheduling offer.
func consent(mem *session.Memory, utterance string) (string, bool) {
	if mem.Locks.BookingLocked {
		return "", false
	}
	if booking.IsBookingRequest(utterance) {
		return "explicit_request", true
	}
	if mem.BookingOffered && mem.OfferTurn == mem.TurnSeq-1 && booking.IsAffirmative(utterance) {
		return "offer_accepted", true
	}
	return "", false
}

func shouldOffer(mem *session.Memory, tri *triage.Result) bool {
	if mem.BookingOffered || mem.Locks.BookingLocked || mem.Locks.BookingStarted || tri == nil {
		return false
	}
	return tri.IntentGuess == triage.IntentServiceRequest || tri.Urgency != triage.UrgencyNormal
}

func (o *Orchestrator) startBooking(ctx context.Context, log *logging.Logger, cfg *tenant.Config, mem *session.Memory, utterance, trigger string, resp *TurnResponse) {
	seq := mem.TurnSeq
	mem.Mode = session.ModeBooking
	mem.Booking = booking.NewSession(seq)
	mem.Locks.BookingStarted = true
	o.sink.Emit(ctx, events.New(events.ConsentGranted, mem.TenantID, mem.CallID, seq, map[string]any{
		"trigger": trigger,
	}))
	log.Info("orchestrator: booking consent granted", "trigger", trigger)

	out, err := o.machine.Start(ctx, o.bookingTurnOf(mem, utterance), mem.Booking, cfg.Booking)
	o.applyBooking(log, cfg, mem, out, err, resp)
}

func (o *Orchestrator) bookingTurn(ctx context.Context, log *logging.Logger, cfg *tenant.Config, mem *session.Memory, utterance string, resp *TurnResponse) {
	if mem.Booking == nil {
		mem.Booking = booking.NewSession(mem.TurnSeq)
	}
	out, err := o.machine.Advance(ctx, o.bookingTurnOf(mem, utterance), mem.Booking, cfg.Booking)
	o.applyBooking(log, cfg, mem, out, err, resp)
}

func (o *Orchestrator) bookingTurnOf(mem *session.Memory, utterance string) booking.Turn {
	return booking.Turn{TenantID: mem.TenantID, CallID: mem.CallID, Seq: mem.TurnSeq, Utterance: utterance}
}

// applyBooking turns a machine outcome into the response. A prompt failure
// hands the caller to the tenant's escalation path.
func (o *Orchestrator) applyBooking(log *logging.Logger, cfg *tenant.Config, mem *session.Memory, out booking.Outcome, err error, resp *TurnResponse) {
	resp.Source = "booking"
	if err != nil {
		log.Error("orchestrator: booking prompt unavailable", "error", err)
		resp.ResponseText = cfg.EscalationMessage
		resp.Action = cfg.EscalationAction
		return
	}
	resp.ResponseText = out.PromptText
	switch out.StepID {
	case booking.StepConfirmation, booking.StepComplete:
	default:
		mem.MarkAsked(out.StepID)
	}
	if out.Completed {
		mem.Locks.BookingLocked = true
		mem.Mode = session.ModeDiscovery
		resp.Handoff = booking.FormatSummary(mem.Booking)
		mem.AddFact("Visit requested for " + mem.Booking.Slots.Time.Preference)
	}
}

// EndCall archives the call, folds it into caller memory, and removes the
// live session.
func (o *Orchestrator) EndCall(ctx context.Context, tenantID, callID string) error {
	ctx, span := tracer.Start(ctx, "orchestrator.end_call")
	defer span.End()

	mem, err := o.sessions.Load(ctx, callID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestrator: load session: %w", err)
	}
	if mem == nil {
		return ErrCallNotFound
	}
	if mem.TenantID != tenantID {
		return ErrTenantMismatch
	}
	mem.Mode = session.ModeEnded
	now := o.now()

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, session.NewCallRecord(mem, now)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("orchestrator: archive call: %w", err)
		}
	}
	if o.callers != nil {
		if err := o.callers.Remember(ctx, mem, now); err != nil {
			o.logger.Warn("orchestrator: caller memory not saved", "tenant_id", tenantID, "call_id", callID, "error", err)
		}
	}
	if err := o.sessions.Delete(ctx, callID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestrator: delete session: %w", err)
	}
	o.logger.Info("call ended", "tenant_id", tenantID, "call_id", callID, "turns", mem.TurnSeq)
	return nil
}

var farewellPattern = regexp.MustCompile(`(?i)^\W*(ok(ay)?,?\s+)?(bye|goodbye|good bye|bye bye|that'?s all|that is all|that'?s it|nothing else|no,? that'?s all)(,?\s+(thanks?|thank you))?\W*$`)

func isFarewell(s string) bool {
	return farewellPattern.MatchString(strings.TrimSpace(s))
}
