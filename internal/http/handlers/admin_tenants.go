package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/voice-turn-core/internal/invalidation"
	"github.com/wolfman30/voice-turn-core/internal/learning"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// Invalidator announces tenant cache invalidations.
type Invalidator interface {
	Publish(ctx context.Context, tenantID string, kind invalidation.Kind) error
}

// SuggestionLister reads the learning arena.
type SuggestionLister interface {
	List(tenantID string) []learning.View
}

// InvalidateRequest is the optional POST body; an empty body drops everything.
type InvalidateRequest struct {
	Kind string `json:"kind"`
}

// SuggestionsResponse lists a tenant's learning suggestions.
type SuggestionsResponse struct {
	TenantID    string          `json:"tenantId"`
	Total       int             `json:"total"`
	Suggestions []learning.View `json:"suggestions"`
}

// AdminTenantHandler serves tenant maintenance endpoints behind AdminJWT.
type AdminTenantHandler struct {
	invalidator Invalidator
	suggestions SuggestionLister
	logger      *logging.Logger
}

func NewAdminTenantHandler(invalidator Invalidator, suggestions SuggestionLister, logger *logging.Logger) *AdminTenantHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTenantHandler{invalidator: invalidator, suggestions: suggestions, logger: logger}
}

// Invalidate serves POST /admin/tenants/{tenantID}/invalidate.
func (h *AdminTenantHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing tenant id"})
		return
	}
	if h.invalidator == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "invalidation bus not configured"})
		return
	}

	var req InvalidateRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad request"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
	}
	kind, err := invalidation.ParseKind(req.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "kind must be scenarios, config or all"})
		return
	}

	if err := h.invalidator.Publish(r.Context(), tenantID, kind); err != nil {
		if errors.Is(err, invalidation.ErrUnknownKind) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("admin: invalidation publish failed", "tenant_id", tenantID, "kind", kind, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "publish failed"})
		return
	}
	h.logger.Info("admin: invalidation published", "tenant_id", tenantID, "kind", kind)
	writeJSON(w, http.StatusAccepted, map[string]string{"tenantId": tenantID, "kind": string(kind)})
}

// Suggestions serves GET /admin/tenants/{tenantID}/suggestions. The optional
// limit query parameter caps the list.
func (h *AdminTenantHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing tenant id"})
		return
	}
	if h.suggestions == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "learning arena not configured"})
		return
	}
	list := h.suggestions.List(tenantID)
	total := len(list)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		if limit < len(list) {
			list = list[:limit]
		}
	}
	if list == nil {
		list = []learning.View{}
	}
	writeJSON(w, http.StatusOK, SuggestionsResponse{TenantID: tenantID, Total: total, Suggestions: list})
}
