// Package metrics exposes Prometheus counters and histograms for turn decisions.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/voice-turn-core/internal/events"
)

// TurnMetrics records decision-core outcomes. It doubles as an events.Sink
// so trace events and counters never drift apart.
type TurnMetrics struct {
	tierDecisions      *prometheus.CounterVec
	turnLatency        *prometheus.HistogramVec
	tier3Cost          *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	cacheOutcomes      *prometheus.CounterVec
	bookingEvents      *prometheus.CounterVec
}

var _ events.Sink = (*TurnMetrics)(nil)

func NewTurnMetrics(reg prometheus.Registerer) *TurnMetrics {
	m := &TurnMetrics{
		tierDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "router",
			Name:      "tier_decisions_total",
			Help:      "Turn routing decisions by tier and response source",
		}, []string{"tier", "source", "cached"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voice",
			Subsystem: "turn",
			Name:      "latency_seconds",
			Help:      "End-to-end ProcessTurn latency",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3},
		}, []string{"mode"}),
		tier3Cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "tier3",
			Name:      "cost_usd_total",
			Help:      "Actual Tier 3 spend in USD",
		}, []string{"model"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "booking",
			Name:      "validation_failures_total",
			Help:      "Rejected booking slot writes",
		}, []string{"slot", "kind"}),
		cacheOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and outcome",
		}, []string{"cache", "outcome"}),
		bookingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "booking",
			Name:      "integrity_events_total",
			Help:      "Sanitizer fixes and confirmation rewinds",
		}, []string{"type", "slot"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.tierDecisions, m.turnLatency, m.tier3Cost, m.validationFailures, m.cacheOutcomes, m.bookingEvents)
	return m
}

func (m *TurnMetrics) ObserveTierDecision(tier int, source string, cached bool) {
	if m == nil {
		return
	}
	m.tierDecisions.WithLabelValues(strconv.Itoa(tier), source, strconv.FormatBool(cached)).Inc()
}

func (m *TurnMetrics) ObserveTurn(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(mode).Observe(seconds)
}

func (m *TurnMetrics) AddTier3Cost(model string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.tier3Cost.WithLabelValues(model).Add(usd)
}

func (m *TurnMetrics) ObserveValidationFailure(slot, kind string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(slot, kind).Inc()
}

// ObserveCache satisfies scenario.CacheObserver.
func (m *TurnMetrics) ObserveCache(cache, outcome string) {
	if m == nil {
		return
	}
	m.cacheOutcomes.WithLabelValues(cache, outcome).Inc()
}

// Emit turns trace events into counter updates.
func (m *TurnMetrics) Emit(_ context.Context, evt events.Event) {
	if m == nil {
		return
	}
	switch evt.Type {
	case events.TierDecision:
		tier, _ := evt.Data["tier"].(int)
		source, _ := evt.Data["source"].(string)
		cached, _ := evt.Data["cached"].(bool)
		m.ObserveTierDecision(tier, source, cached)
		if cost, ok := evt.Data["cost_usd"].(float64); ok {
			model, _ := evt.Data["model"].(string)
			m.AddTier3Cost(model, cost)
		}
	case events.SlotValidationFailed:
		slot, _ := evt.Data["slot"].(string)
		m.ObserveValidationFailure(slot, "invalid")
	case events.SlotTypeValidationFailed:
		slot, _ := evt.Data["slot"].(string)
		m.ObserveValidationFailure(slot, "type_mismatch")
	case events.BookingSlotSanityFix, events.BookingStateInvalid:
		slot, _ := evt.Data["slot"].(string)
		m.bookingEvents.WithLabelValues(string(evt.Type), slot).Inc()
	}
}
