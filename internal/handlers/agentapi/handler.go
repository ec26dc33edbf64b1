// Package agentapi implements the v1 client surface the cracking agents
// speak. Paths, status codes and the legacy error shape {"error": "..."} are
// wire compatible with existing agents and must not drift.
package agentapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/middleware"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// APIVersion is the agent protocol version served by this handler.
const APIVersion = 1

// Handler serves the agent surface.
type Handler struct {
	agents    *services.AgentService
	scheduler *services.TaskScheduler
	progress  *services.ProgressService
	cracks    *services.CrackService
	campaigns *services.CampaignService
}

// NewHandler creates the agent surface handler.
func NewHandler(
	agents *services.AgentService,
	scheduler *services.TaskScheduler,
	progress *services.ProgressService,
	cracks *services.CrackService,
	campaigns *services.CampaignService,
) *Handler {
	return &Handler{
		agents:    agents,
		scheduler: scheduler,
		progress:  progress,
		cracks:    cracks,
		campaigns: campaigns,
	}
}

// statusForKind maps error kinds to the agent surface's status codes.
func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindConflict, core.KindMalformed:
		return http.StatusUnprocessableEntity
	case core.KindStale:
		return http.StatusAccepted
	case core.KindPreempted:
		return http.StatusGone
	case core.KindTooManyRequests:
		return http.StatusTooManyRequests
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	if kind == core.KindTooManyRequests {
		w.Header().Set("Retry-After", "15")
	}
	message := "internal server error"
	var coreErr *core.Error
	if status != http.StatusInternalServerError && errors.As(err, &coreErr) {
		message = coreErr.Message
	}
	if status == http.StatusInternalServerError {
		debug.Error("agent surface internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeStrict decodes a JSON body, rejecting unknown fields so agent bugs
// surface as 422s instead of silently dropped data.
func decodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Malformed("invalid request body")
	}
	return nil
}

func requestAgent(r *http.Request) (*models.Agent, error) {
	agent, ok := middleware.AgentFromContext(r.Context())
	if !ok {
		return nil, core.Unauthorized("missing token")
	}
	return agent, nil
}

// pathAgentMatchesCaller enforces that {id} routes only serve the
// authenticated agent itself.
func pathAgentMatchesCaller(r *http.Request, agent *models.Agent) error {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return core.Malformed("invalid agent id")
	}
	if id != agent.ID {
		return core.Forbidden("token does not match agent")
	}
	return nil
}

func pathTaskID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, core.NotFound("task not found")
	}
	return id, nil
}

// Authenticate handles GET /authenticate.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"agent_id":      agent.ID,
	})
}

// Configuration handles GET /configuration.
func (h *Handler) Configuration(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := h.agents.GetConfiguration(r.Context(), agent.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurationResponse{
		Config:     *cfg,
		APIVersion: APIVersion,
	})
}

// GetAgent handles GET /agents/{id}.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := pathAgentMatchesCaller(r, agent); err != nil {
		writeError(w, err)
		return
	}
	current, err := h.agents.GetAgent(r.Context(), agent.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponse(current))
}

// UpdateAgent handles PUT /agents/{id}.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := pathAgentMatchesCaller(r, agent); err != nil {
		writeError(w, err)
		return
	}
	var req updateAgentRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.agents.UpdateInfo(r.Context(), agent.ID, services.UpdateInfoRequest{
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
	writeJSON(w, http.StatusOK, agentResponse(updated))
}

// Heartbeat handles POST /agents/{id}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := pathAgentMatchesCaller(r, agent); err != nil {
		writeError(w, err)
		return
	}
	var req heartbeatRequest
	if r.ContentLength > 0 {
		if err := decodeStrict(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	feedback, err := h.agents.Heartbeat(r.Context(), agent.ID, req.Activity, clientIP(r), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if feedback == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": feedback})
}

// SubmitBenchmark handles POST /agents/{id}/submit_benchmark.
func (h *Handler) SubmitBenchmark(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := pathAgentMatchesCaller(r, agent); err != nil {
		writeError(w, err)
		return
	}
	var req submitBenchmarkRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, err)
		return
	}
	benchmarks := make([]models.Benchmark, len(req.HashcatBenchmarks))
	for i, b := range req.HashcatBenchmarks {
		benchmarks[i] = models.Benchmark{
			AgentID:     agent.ID,
			HashType:    b.HashType,
			DeviceIndex: b.Device,
			RuntimeMs:   b.Runtime,
			HashSpeed:   b.HashSpeed,
		}
	}
	if err := h.agents.SubmitBenchmark(r.Context(), agent.ID, benchmarks); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitError handles POST /agents/{id}/submit_error.
func (h *Handler) SubmitError(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := pathAgentMatchesCaller(r, agent); err != nil {
		writeError(w, err)
		return
	}
	var req submitErrorRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, err)
		return
	}
	report := services.ErrorReport{
		Severity: req.Severity,
		Message:  req.Message,
		Metadata: req.Metadata,
		TaskID:   req.TaskID,
	}
	if err := h.agents.SubmitError(r.Context(), agent.ID, report); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shutdown handles POST /agents/{id}/shutdown.
func (h *Handler) Shutdown(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := pathAgentMatchesCaller(r, agent); err != nil {
		writeError(w, err)
		return
	}
	if err := h.agents.Shutdown(r.Context(), agent.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewTask handles GET /tasks/new.
func (h *Handler) NewTask(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.scheduler.RequestTask(r.Context(), agent.ID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

// GetTask handles GET /tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.scheduler.GetTask(r.Context(), agent.ID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

// AcceptTask handles POST /tasks/{id}/accept_task.
func (h *Handler) AcceptTask(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.scheduler.AcceptTask(r.Context(), agent.ID, taskID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitStatus handles POST /tasks/{id}/submit_status.
func (h *Handler) SubmitStatus(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req taskStatusRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, err)
		return
	}
	report, err := req.toReport()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.progress.SubmitStatus(r.Context(), agent.ID, taskID, report, time.Now().UTC()); err != nil {
		if core.KindOf(err) == core.KindStale {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitCrack handles POST /tasks/{id}/submit_crack.
func (h *Handler) SubmitCrack(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req submitCrackRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.cracks.SubmitCrack(r.Context(), agent.ID, taskID, req.Hash, req.PlainText, req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	switch result.Outcome {
	case services.CrackNotInList:
		writeError(w, core.NotFound("hash not found in list"))
	default:
		if result.ListComplete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":   fmt.Sprintf("%d uncracked hashes remain", result.Remaining),
			"remaining": result.Remaining,
		})
	}
}

// TaskExhausted handles POST /tasks/{id}/exhausted.
func (h *Handler) TaskExhausted(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.scheduler.MarkExhausted(r.Context(), agent.ID, taskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AbandonTask handles POST /tasks/{id}/abandon.
func (h *Handler) AbandonTask(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.scheduler.AbandonTask(r.Context(), agent.ID, taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   models.TaskStatePending,
	})
}

// GetZaps handles POST /tasks/{id}/get_zaps. The response is a plain-text
// hash list agents feed straight into the cracker's zap input.
func (h *Handler) GetZaps(w http.ResponseWriter, r *http.Request) {
	agent, err := requestAgent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	values, err := h.cracks.GetZaps(r.Context(), agent.ID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(values) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strings.Join(values, "\n")+"\n")
}

// GetAttack handles GET /attacks/{id}.
func (h *Handler) GetAttack(w http.ResponseWriter, r *http.Request) {
	if _, err := requestAgent(r); err != nil {
		writeError(w, err)
		return
	}
	attackID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, core.NotFound("attack not found"))
		return
	}
	attack, err := h.campaigns.GetAttack(r.Context(), attackID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attackResponse(attack))
}

// GetAttackHashList handles GET /attacks/{id}/hash_list.
func (h *Handler) GetAttackHashList(w http.ResponseWriter, r *http.Request) {
	if _, err := requestAgent(r); err != nil {
		writeError(w, err)
		return
	}
	attackID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, core.NotFound("attack not found"))
		return
	}
	values, err := h.campaigns.HashListTextForAttack(r.Context(), attackID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	for _, v := range values {
		_, _ = io.WriteString(w, v+"\n")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
