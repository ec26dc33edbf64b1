package webapi

import (
	"net/http"

	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

type campaignRequest struct {
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	HashListID  int64  `json:"hash_list_id"`
}

// CreateCampaign handles POST /campaigns.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	campaign := &models.Campaign{
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		HashListID:  req.HashListID,
	}
	if err := h.campaigns.CreateCampaign(r.Context(), campaign); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// ListCampaigns handles GET /projects/{id}/campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	campaigns, err := h.campaigns.ListCampaigns(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

// GetCampaign handles GET /campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// UpdateCampaign handles PUT /campaigns/{id}.
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req campaignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	campaign := &models.Campaign{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
	}
	if err := h.campaigns.UpdateCampaign(r.Context(), campaign); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCampaign handles DELETE /campaigns/{id}.
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.campaigns.DeleteCampaign(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// campaignAction wraps the start/pause/resume/archive endpoints, which share
// their request and response shape.
func (h *Handler) campaignAction(w http.ResponseWriter, r *http.Request, fn func() error) {
	if err := fn(); err != nil {
		writeError(w, err)
		return
	}
	id, _ := pathUUID(r, "id")
	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// StartCampaign handles POST /campaigns/{id}/start.
func (h *Handler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	h.campaignAction(w, r, func() error { return h.campaigns.StartCampaign(r.Context(), id) })
}

// PauseCampaign handles POST /campaigns/{id}/pause.
func (h *Handler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	h.campaignAction(w, r, func() error { return h.campaigns.PauseCampaign(r.Context(), id) })
}

// ResumeCampaign handles POST /campaigns/{id}/resume.
func (h *Handler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	h.campaignAction(w, r, func() error { return h.campaigns.ResumeCampaign(r.Context(), id) })
}

// ArchiveCampaign handles POST /campaigns/{id}/archive.
func (h *Handler) ArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	h.campaignAction(w, r, func() error { return h.campaigns.ArchiveCampaign(r.Context(), id) })
}

type attackRequest struct {
	Position int    `json:"position"`
	Mode     string `json:"mode"`
	HashType int    `json:"hash_type"`

	WordlistKey     string   `json:"wordlist_key"`
	RuleKey         string   `json:"rule_key"`
	Mask            string   `json:"mask"`
	MaskList        []string `json:"mask_list"`
	CustomCharset1  string   `json:"custom_charset_1"`
	CustomCharset2  string   `json:"custom_charset_2"`
	CustomCharset3  string   `json:"custom_charset_3"`
	CustomCharset4  string   `json:"custom_charset_4"`
	MinLength       int      `json:"min_length"`
	MaxLength       int      `json:"max_length"`
	IncrementMode   bool     `json:"increment_mode"`
	WorkloadProfile int      `json:"workload_profile"`
	Optimized       bool     `json:"optimized"`

	TotalKeyspace   int64 `json:"total_keyspace"`
	ComplexityScore int64 `json:"complexity_score"`
}

func (req *attackRequest) toModel() *models.Attack {
	return &models.Attack{
		Position:        req.Position,
		Mode:            req.Mode,
		HashType:        req.HashType,
		WordlistKey:     req.WordlistKey,
		RuleKey:         req.RuleKey,
		Mask:            req.Mask,
		MaskList:        req.MaskList,
		CustomCharset1:  req.CustomCharset1,
		CustomCharset2:  req.CustomCharset2,
		CustomCharset3:  req.CustomCharset3,
		CustomCharset4:  req.CustomCharset4,
		MinLength:       req.MinLength,
		MaxLength:       req.MaxLength,
		IncrementMode:   req.IncrementMode,
		WorkloadProfile: req.WorkloadProfile,
		Optimized:       req.Optimized,
		TotalKeyspace:   req.TotalKeyspace,
		ComplexityScore: req.ComplexityScore,
	}
}

// CreateAttack handles POST /campaigns/{id}/attacks.
func (h *Handler) CreateAttack(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req attackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	attack := req.toModel()
	attack.CampaignID = campaignID
	if err := h.campaigns.CreateAttack(r.Context(), attack); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attack)
}

// ListAttacks handles GET /campaigns/{id}/attacks.
func (h *Handler) ListAttacks(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	attacks, err := h.campaigns.ListAttacks(r.Context(), campaignID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attacks)
}

// GetAttack handles GET /attacks/{id}.
func (h *Handler) GetAttack(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	attack, err := h.campaigns.GetAttack(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attack)
}

// UpdateAttack handles PUT /attacks/{id}.
func (h *Handler) UpdateAttack(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req attackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	attack := req.toModel()
	attack.ID = id
	if err := h.campaigns.UpdateAttack(r.Context(), attack); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.campaigns.GetAttack(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteAttack handles DELETE /attacks/{id}.
func (h *Handler) DeleteAttack(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.campaigns.DeleteAttack(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
