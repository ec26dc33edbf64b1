// Package webapi implements the operator-facing JSON surface backing the web
// UI. Authentication is JWT based; errors use the {"detail": "..."} shape.
package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/unclesp1d3r/cipherswarm/internal/blob"
	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/middleware"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// Handler serves the web surface.
type Handler struct {
	auth      *services.AuthService
	agents    *services.AgentService
	campaigns *services.CampaignService
	cracks    *services.CrackService
	projects  *repository.ProjectRepository
	hashLists *repository.HashListRepository
	store     blob.Store
	broker    *events.Broker
}

// NewHandler creates the web surface handler.
func NewHandler(
	auth *services.AuthService,
	agents *services.AgentService,
	campaigns *services.CampaignService,
	cracks *services.CrackService,
	projects *repository.ProjectRepository,
	hashLists *repository.HashListRepository,
	store blob.Store,
	broker *events.Broker,
) *Handler {
	return &Handler{
		auth:      auth,
		agents:    agents,
		campaigns: campaigns,
		cracks:    cracks,
		projects:  projects,
		hashLists: hashLists,
		store:     store,
		broker:    broker,
	}
}

// statusForKind maps error kinds to the web surface's status codes. Unlike
// the agent surface, conflicts answer 409 here.
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

func writeError(w http.ResponseWriter, err error) {
	status := statusForKind(core.KindOf(err))
	detail := "Internal server error"
	var coreErr *core.Error
	if status != http.StatusInternalServerError && errors.As(err, &coreErr) {
		detail = coreErr.Message
	}
	if status == http.StatusInternalServerError {
		debug.Error("web surface internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Malformed("invalid request body")
	}
	return nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, core.Malformed("invalid " + name)
	}
	return id, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, core.Malformed("invalid " + name)
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, core.NotFound("not found")
	}
	return id, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /login. On success the JWT is returned in the body and
// set as a cookie for browser sessions.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(12 * time.Hour),
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, core.Unauthorized("not authenticated"))
		return
	}
	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.auth.CreateUser(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// IssueControlToken handles POST /control_token. The token is shown once;
// reissuing invalidates the previous one.
func (h *Handler) IssueControlToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, core.Unauthorized("not authenticated"))
		return
	}
	token, err := h.auth.IssueControlToken(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}
