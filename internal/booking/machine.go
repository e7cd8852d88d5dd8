package booking

import (
	"context"
	"errors"

	"github.com/wolfman30/voice-turn-core/internal/events"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// Turn identifies the caller utterance being applied.
type Turn struct {
	TenantID  string
	CallID    string
	Seq       int
	Utterance string
}

// Outcome is what the machine decided this turn.
type Outcome struct {
	// StepID is the slot being collected, StepConfirmation, or StepComplete.
	StepID     string
	PromptID   string
	PromptText string
	// Accepted is set when a slot value was written this turn.
	Accepted  bool
	Rewind    *RewindInfo
	Completed bool
}

// Machine is stateless; all state lives in the Session passed in.
type Machine struct {
	prompts   PromptSource
	validator *Validator
	sanitizer *Sanitizer
	checker   *ConfirmationInvariantChecker
	sink      events.Sink
	logger    *logging.Logger
}

func NewMachine(prompts PromptSource, sink events.Sink, logger *logging.Logger) *Machine {
	if prompts == nil {
		panic("booking: prompt source cannot be nil")
	}
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = logging.Default()
	}
	v := NewValidator()
	return &Machine{
		prompts:   prompts,
		validator: v,
		sanitizer: NewSanitizer(v),
		checker:   NewConfirmationInvariantChecker(v),
		sink:      sink,
		logger:    logger,
	}
}

// Start moves a fresh session to its first step. The consent utterance is
// not read as a slot value.
func (m *Machine) Start(ctx context.Context, t Turn, sess *Session, cfg Config) (Outcome, error) {
	return m.next(ctx, t, sess, cfg, "", false)
}

// Advance applies one caller utterance.
func (m *Machine) Advance(ctx context.Context, t Turn, sess *Session, cfg Config) (Outcome, error) {
	switch sess.CurrentStepID {
	case "":
		return m.Start(ctx, t, sess, cfg)
	case StepComplete:
		return m.say(ctx, t, sess, StepComplete, StepComplete, false, nil)
	case StepConfirmation:
		return m.confirm(ctx, t, sess, cfg)
	}

	slot := sess.ActiveSlotID
	if slot == "" {
		slot = sess.CurrentStepID
	}
	var promptID string
	var accepted bool
	if slot == SlotName {
		promptID, accepted = m.collectName(ctx, t, sess)
	} else {
		promptID, accepted = m.collect(ctx, t, sess, cfg, slot)
	}
	m.sanitize(ctx, t, sess)
	return m.next(ctx, t, sess, cfg, promptID, accepted)
}

// Write is the single gate for slot writes: the value is stored only if it
// passes the slot's allowlist. A rejected value leaves the slot untouched.
func (m *Machine) Write(ctx context.Context, t Turn, sess *Session, slot, value string) error {
	parsed, err := m.validator.Parse(slot, value)
	if err != nil {
		sess.MetaFor(slot).Attempts++
		m.emitRejected(ctx, t, slot, err)
		return err
	}
	sess.Slots.Set(slot, parsed)
	meta := sess.MetaFor(slot)
	meta.Confirmed = true
	meta.Source = SourceCaller
	return nil
}

func (m *Machine) collect(ctx context.Context, t Turn, sess *Session, cfg Config, slot string) (string, bool) {
	if err := m.Write(ctx, t, sess, slot, t.Utterance); err != nil {
		if st, ok := cfg.stepForSlot(slot); ok && !st.Required {
			sess.MetaFor(slot).Skipped = true
			return "", false
		}
		return slot + ".retry", false
	}
	return "", true
}

// collectName runs the name sub-flow: a single word is read back for
// confirmation, then the missing part is asked for exactly once.
func (m *Machine) collectName(ctx context.Context, t Turn, sess *Session) (string, bool) {
	meta := sess.MetaFor(SlotName)

	if meta.AwaitingMissingPart {
		meta.AwaitingMissingPart = false
		first := sess.Slots.Name.First
		parsed, err := m.validator.Parse(SlotName, t.Utterance)
		switch {
		case err == nil && parsed.Name.Last == "":
			sess.Slots.Name = NameValue{First: first, Last: parsed.Name.First, Full: first + " " + parsed.Name.First}
			meta.Source = SourceCaller
		case err == nil:
			sess.Slots.Name = parsed.Name
			meta.Source = SourceCaller
		default:
			// The caller declined or we could not parse it; keep the confirmed first name.
			sess.Slots.Name = NameValue{First: first, Full: first}
			meta.Source = SourcePartial
		}
		meta.Confirmed = true
		return "", true
	}

	if meta.AwaitingPartialConfirm {
		meta.AwaitingPartialConfirm = false
		switch {
		case IsAffirmative(t.Utterance):
			sess.Slots.Name.Partial = ""
			if meta.AskedMissingPartOnce {
				sess.Slots.Name.Full = sess.Slots.Name.First
				meta.Confirmed = true
				meta.Source = SourcePartial
				return "", true
			}
			meta.AskedMissingPartOnce = true
			meta.AwaitingMissingPart = true
			return PromptNameMissingLast, false
		case IsNegative(t.Utterance):
			sess.Slots.Clear(SlotName)
			if _, err := m.validator.Parse(SlotName, t.Utterance); err != nil {
				return SlotName, false
			}
		}
	}

	parsed, err := m.validator.Parse(SlotName, t.Utterance)
	if err != nil {
		meta.Attempts++
		m.emitRejected(ctx, t, SlotName, err)
		return "name.retry", false
	}
	if parsed.Name.Last == "" {
		sess.Slots.Name = parsed.Name
		meta.AwaitingPartialConfirm = true
		return PromptNameConfirmPartial, false
	}
	sess.Slots.Name = parsed.Name
	meta.Confirmed = true
	meta.Source = SourceCaller
	return "", true
}

func (m *Machine) confirm(ctx context.Context, t Turn, sess *Session, cfg Config) (Outcome, error) {
	if slot := MentionedSlot(t.Utterance); slot != "" && IsNegative(t.Utterance) {
		if st, ok := cfg.stepForSlot(slot); ok {
			rw := &RewindInfo{StepID: st.ID, SlotID: slot, Reason: "caller correction"}
			return m.rewind(ctx, t, sess, rw, false)
		}
	}
	if IsAffirmative(t.Utterance) {
		if rw := m.checker.Check(sess, cfg); rw != nil {
			return m.rewind(ctx, t, sess, rw, true)
		}
		sess.CurrentStepID = StepComplete
		sess.ActiveSlotID = ""
		return m.say(ctx, t, sess, StepComplete, StepComplete, false, nil)
	}
	return m.say(ctx, t, sess, StepConfirmation, PromptConfirmClarify, false, nil)
}

// next picks the first required step not yet confirmed. When none remain,
// the invariant checker gates entry into CONFIRMATION.
func (m *Machine) next(ctx context.Context, t Turn, sess *Session, cfg Config, promptID string, accepted bool) (Outcome, error) {
	if promptID != "" {
		step := sess.ActiveSlotID
		if step == "" {
			step = sess.CurrentStepID
		}
		return m.say(ctx, t, sess, step, promptID, accepted, nil)
	}
	for _, st := range cfg.steps() {
		meta := sess.MetaFor(st.Slot)
		if meta.Confirmed || (!st.Required && meta.Skipped) {
			continue
		}
		sess.CurrentStepID = st.ID
		sess.ActiveSlotID = st.Slot
		return m.say(ctx, t, sess, st.ID, st.Slot, accepted, nil)
	}
	if rw := m.checker.Check(sess, cfg); rw != nil {
		return m.rewind(ctx, t, sess, rw, true)
	}
	sess.CurrentStepID = StepConfirmation
	sess.ActiveSlotID = ""
	return m.say(ctx, t, sess, StepConfirmation, StepConfirmation, accepted, nil)
}

func (m *Machine) rewind(ctx context.Context, t Turn, sess *Session, rw *RewindInfo, invalid bool) (Outcome, error) {
	if invalid {
		m.sink.Emit(ctx, events.New(events.BookingStateInvalid, t.TenantID, t.CallID, t.Seq, map[string]any{
			"step": rw.StepID, "slot": rw.SlotID, "reason": rw.Reason,
		}))
		m.logger.Warn("booking: rewinding before confirmation", "slot", rw.SlotID, "reason", rw.Reason)
	}
	sess.reset(rw.SlotID)
	sess.CurrentStepID = rw.StepID
	sess.ActiveSlotID = rw.SlotID
	return m.say(ctx, t, sess, rw.StepID, rw.SlotID, false, rw)
}

func (m *Machine) say(ctx context.Context, t Turn, sess *Session, stepID, promptID string, accepted bool, rw *RewindInfo) (Outcome, error) {
	id, text, err := m.render(ctx, t.TenantID, promptID, sess.Slots)
	if err != nil {
		return Outcome{StepID: stepID, Rewind: rw}, err
	}
	return Outcome{
		StepID:     stepID,
		PromptID:   id,
		PromptText: text,
		Accepted:   accepted,
		Rewind:     rw,
		Completed:  stepID == StepComplete,
	}, nil
}

func (m *Machine) sanitize(ctx context.Context, t Turn, sess *Session) {
	for _, fix := range m.sanitizer.Sanitize(sess) {
		m.sink.Emit(ctx, events.New(events.BookingSlotSanityFix, t.TenantID, t.CallID, t.Seq, map[string]any{
			"slot": fix.Slot, "reason": fix.Reason,
		}))
	}
}

func (m *Machine) emitRejected(ctx context.Context, t Turn, slot string, err error) {
	typ := events.SlotValidationFailed
	data := map[string]any{"slot": slot, "reason": err.Error()}
	var verr *ValidationError
	if errors.As(err, &verr) && verr.TypeMismatch() {
		typ = events.SlotTypeValidationFailed
		data["looks_like"] = verr.LooksLike
		data["reason"] = verr.Reason
	}
	m.sink.Emit(ctx, events.New(typ, t.TenantID, t.CallID, t.Seq, data))
}
