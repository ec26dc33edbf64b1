package webapi

import (
	"net/http"
	"strconv"

	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
)

type registerAgentRequest struct {
	Name            string   `json:"name"`
	HostName        string   `json:"host_name"`
	OperatingSystem string   `json:"operating_system"`
	ClientSignature string   `json:"client_signature"`
	Devices         []string `json:"devices"`
}

// RegisterAgent handles POST /agents. The bearer token is returned exactly
// once; only a digest survives server side.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, token, err := h.agents.Register(r.Context(), services.RegisterRequest{
		Name:            req.Name,
		HostName:        req.HostName,
		OperatingSystem: req.OperatingSystem,
		ClientSignature: req.ClientSignature,
		Devices:         req.Devices,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent": agent,
		"token": token,
	})
}

// ListAgents handles GET /agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /agents/{id}.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	agent, err := h.agents.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type adminUpdateAgentRequest struct {
	State  *string             `json:"state"`
	Config *models.AgentConfig `json:"config"`
}

// UpdateAgent handles PATCH /agents/{id}. Operators may flip agents between
// active and stopped and push config tunables.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req adminUpdateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := h.agents.AdminUpdate(r.Context(), id, services.AdminUpdateRequest{
		State:  req.State,
		Config: req.Config,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ListAgentErrors handles GET /agents/{id}/errors.
func (h *Handler) ListAgentErrors(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	errorsList, err := h.agents.ListErrors(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorsList)
}
