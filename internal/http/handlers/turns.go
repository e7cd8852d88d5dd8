package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/voice-turn-core/internal/orchestrator"
	"github.com/wolfman30/voice-turn-core/internal/session"
	"github.com/wolfman30/voice-turn-core/internal/tenancy"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// TurnProcessor is the subset of the orchestrator the voice transport calls.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResponse, error)
	EndCall(ctx context.Context, tenantID, callID string) error
}

// TurnRequest is the POST /v1/turns body. The tenant comes from the
// X-Tenant-Id header.
type TurnRequest struct {
	CallID      string          `json:"callId" validate:"required,max=128"`
	CallerPhone string          `json:"callerPhone,omitempty" validate:"omitempty,max=32"`
	Utterance   string          `json:"utterance" validate:"max=2000"`
	State       *session.Memory `json:"state,omitempty"`
}

// ErrorResponse is returned when a turn cannot be processed at all.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RecoveryText is spoken when the engine fails mid-turn so the caller is
// never left in silence.
const RecoveryText = "I'm sorry, I'm having a bit of trouble. Could you say that again?"

// TurnHandler is the synchronous voice turn endpoint. Voice calls need
// sub-second replies, so turns are processed inline rather than queued.
type TurnHandler struct {
	processor TurnProcessor
	logger    *logging.Logger
}

func NewTurnHandler(processor TurnProcessor, logger *logging.Logger) *TurnHandler {
	if processor == nil {
		panic("handlers: turn processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TurnHandler{processor: processor, logger: logger}
}

// HandleTurn serves POST /v1/turns.
func (h *TurnHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := tenancy.TenantIDFromContext(ctx)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing tenant"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("turns: failed to read body", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad request"})
		return
	}
	var req TurnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	req.CallID = strings.TrimSpace(req.CallID)
	if err := validate().Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationMessage(err)})
		return
	}

	resp, err := h.processor.ProcessTurn(tenancy.WithCallID(ctx, req.CallID), orchestrator.TurnRequest{
		TenantID:    tenantID,
		CallID:      req.CallID,
		CallerPhone: req.CallerPhone,
		Utterance:   req.Utterance,
		State:       req.State,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, session.ErrTurnSuperseded):
		// A newer turn already answered; the transport drops this one.
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "turn superseded"})
	case errors.Is(err, orchestrator.ErrTenantMismatch):
		h.logger.Warn("turns: tenant mismatch", "tenant_id", tenantID, "call_id", req.CallID)
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "call belongs to another tenant"})
	default:
		h.logger.Error("turns: processing failed", "tenant_id", tenantID, "call_id", req.CallID, "error", err)
		writeJSON(w, http.StatusOK, orchestrator.TurnResponse{
			ResponseText: RecoveryText,
			Action:       orchestrator.ActionContinue,
		})
	}
}

// HandleEndCall serves POST /v1/calls/{callID}/end.
func (h *TurnHandler) HandleEndCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := tenancy.TenantIDFromContext(ctx)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing tenant"})
		return
	}
	callID := strings.TrimSpace(chi.URLParam(r, "callID"))
	if callID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing call id"})
		return
	}

	err := h.processor.EndCall(ctx, tenantID, callID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, orchestrator.ErrCallNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "call not found"})
	case errors.Is(err, orchestrator.ErrTenantMismatch):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "call belongs to another tenant"})
	default:
		h.logger.Error("turns: end call failed", "tenant_id", tenantID, "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

var (
	validateOnce  sync.Once
	validatorInst *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() { validatorInst = validator.New(validator.WithRequiredStructEnabled()) })
	return validatorInst
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	return "invalid " + fe.Field() + ": " + fe.Tag()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
