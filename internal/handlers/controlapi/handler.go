// Package controlapi implements the automation surface: a small JSON API for
// scripts and CI pipelines, authenticated with cst_ tokens. Errors are RFC
// 9457 problem documents.
package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// Handler serves the control surface.
type Handler struct {
	campaigns *services.CampaignService
	agents    *services.AgentService
}

// NewHandler creates the control surface handler.
func NewHandler(campaigns *services.CampaignService, agents *services.AgentService) *Handler {
	return &Handler{campaigns: campaigns, agents: agents}
}

// Routes returns the control surface router. Authentication is applied by
// the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/campaigns/start", h.StartCampaigns)
	r.Post("/campaigns/stop", h.StopCampaigns)
	r.Post("/campaigns/status", h.CampaignStatuses)
	r.Get("/campaigns/{id}", h.GetCampaign)
	r.Get("/agents", h.ListAgents)
	return r
}

func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindConflict, core.KindStale, core.KindPreempted:
		return http.StatusConflict
	case core.KindMalformed:
		return http.StatusUnprocessableEntity
	case core.KindTooManyRequests:
		return http.StatusTooManyRequests
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func titleForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusUnprocessableEntity:
		return "Unprocessable Entity"
	case http.StatusTooManyRequests:
		return "Too Many Requests"
	case http.StatusGatewayTimeout:
		return "Gateway Timeout"
	}
	return "Internal Server Error"
}

func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForKind(core.KindOf(err))
	detail := "internal server error"
	var coreErr *core.Error
	if status != http.StatusInternalServerError && errors.As(err, &coreErr) {
		detail = coreErr.Message
	}
	if status == http.StatusInternalServerError {
		debug.Error("control surface internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":     "about:blank",
		"title":    titleForStatus(status),
		"status":   status,
		"detail":   detail,
		"instance": r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type bulkRequest struct {
	IDs []string `json:"ids"`
}

// bulkResult reports the outcome of one campaign in a bulk operation.
// Partial failure is expected; callers inspect each entry.
type bulkResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

func parseBulkIDs(r *http.Request) ([]uuid.UUID, error) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, core.Malformed("invalid request body")
	}
	if len(req.IDs) == 0 {
		return nil, core.Malformed("ids is required")
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, core.Malformed("invalid campaign id " + raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *Handler) bulkApply(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) error) {
	ids, err := parseBulkIDs(r)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	results := make([]bulkResult, 0, len(ids))
	for _, id := range ids {
		res := bulkResult{ID: id.String()}
		if err := fn(id); err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
		}
		if campaign, err := h.campaigns.GetCampaign(r.Context(), id); err == nil {
			res.State = campaign.State
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// StartCampaigns handles POST /campaigns/start.
func (h *Handler) StartCampaigns(w http.ResponseWriter, r *http.Request) {
	h.bulkApply(w, r, func(id uuid.UUID) error {
		return h.campaigns.StartCampaign(r.Context(), id)
	})
}

// StopCampaigns handles POST /campaigns/stop.
func (h *Handler) StopCampaigns(w http.ResponseWriter, r *http.Request) {
	h.bulkApply(w, r, func(id uuid.UUID) error {
		return h.campaigns.PauseCampaign(r.Context(), id)
	})
}

// campaignStatus is the per-campaign summary returned by status queries.
type campaignStatus struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	State   string         `json:"state"`
	Attacks map[string]int `json:"attacks"`
}

// CampaignStatuses handles POST /campaigns/status.
func (h *Handler) CampaignStatuses(w http.ResponseWriter, r *http.Request) {
	ids, err := parseBulkIDs(r)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	statuses := make([]campaignStatus, 0, len(ids))
	for _, id := range ids {
		status, err := h.campaignStatus(r, id)
		if err != nil {
			writeProblem(w, r, err)
			return
		}
		statuses = append(statuses, *status)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": statuses})
}

func (h *Handler) campaignStatus(r *http.Request, id uuid.UUID) (*campaignStatus, error) {
	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		return nil, err
	}
	attacks, err := h.campaigns.ListAttacks(r.Context(), id)
	if err != nil {
		return nil, err
	}
	byState := make(map[string]int)
	for i := range attacks {
		byState[attacks[i].State]++
	}
	return &campaignStatus{
		ID:      campaign.ID.String(),
		Name:    campaign.Name,
		State:   campaign.State,
		Attacks: byState,
	}, nil
}

// GetCampaign handles GET /campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, r, core.NotFound("campaign not found"))
		return
	}
	status, err := h.campaignStatus(r, id)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListAgents handles GET /agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.ListAgents(r.Context())
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}
