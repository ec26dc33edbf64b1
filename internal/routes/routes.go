// Package routes assembles the three HTTP surfaces onto one router: the
// agent client API, the operator web API and the automation control API.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/unclesp1d3r/cipherswarm/internal/handlers/agentapi"
	"github.com/unclesp1d3r/cipherswarm/internal/handlers/controlapi"
	"github.com/unclesp1d3r/cipherswarm/internal/handlers/webapi"
	"github.com/unclesp1d3r/cipherswarm/internal/middleware"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
)

// Setup builds the full router.
func Setup(
	agentHandler *agentapi.Handler,
	webHandler *webapi.Handler,
	controlHandler *controlapi.Handler,
	agents *services.AgentService,
	auth *services.AuthService,
) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	registerAgentRoutes(r, agentHandler, agents)
	registerWebRoutes(r, webHandler, auth)

	// The control surface keeps its chi router; mux strips the prefix and
	// hands the rest over.
	control := controlHandler.Routes()
	r.PathPrefix("/api/v1/control/").Handler(
		middleware.RequireControlUser(auth)(http.StripPrefix("/api/v1/control", control)))

	return r
}

// registerAgentRoutes wires the v1 client surface. Paths are frozen; agents
// in the field depend on them.
func registerAgentRoutes(r *mux.Router, h *agentapi.Handler, agents *services.AgentService) {
	api := r.PathPrefix("/api/v1/client").Subrouter()
	api.Use(middleware.RequireAgent(agents))

	api.HandleFunc("/authenticate", h.Authenticate).Methods(http.MethodGet)
	api.HandleFunc("/configuration", h.Configuration).Methods(http.MethodGet)

	api.HandleFunc("/agents/{id}", h.GetAgent).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", h.UpdateAgent).Methods(http.MethodPut)
	api.HandleFunc("/agents/{id}/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/submit_benchmark", h.SubmitBenchmark).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/submit_error", h.SubmitError).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/shutdown", h.Shutdown).Methods(http.MethodPost)

	api.HandleFunc("/tasks/new", h.NewTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", h.GetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/accept_task", h.AcceptTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/submit_status", h.SubmitStatus).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/submit_crack", h.SubmitCrack).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/exhausted", h.TaskExhausted).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/abandon", h.AbandonTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/get_zaps", h.GetZaps).Methods(http.MethodPost)

	api.HandleFunc("/attacks/{id}", h.GetAttack).Methods(http.MethodGet)
	api.HandleFunc("/attacks/{id}/hash_list", h.GetAttackHashList).Methods(http.MethodGet)
}

func registerWebRoutes(r *mux.Router, h *webapi.Handler, auth *services.AuthService) {
	// Public: login and resource downloads. Download URLs come out of
	// Presign and are fetched by agents without a web session.
	r.HandleFunc("/api/v1/web/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/downloads/{key:.+}", h.DownloadResource).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/web").Subrouter()
	api.Use(middleware.RequireWebUser(auth))

	api.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	api.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	api.HandleFunc("/control_token", h.IssueControlToken).Methods(http.MethodPost)

	api.HandleFunc("/projects", h.CreateProject).Methods(http.MethodPost)
	api.HandleFunc("/projects", h.ListProjects).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", h.GetProject).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", h.UpdateProject).Methods(http.MethodPut)
	api.HandleFunc("/projects/{id}", h.DeleteProject).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id}/hash_lists", h.UploadHashList).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/hash_lists", h.ListHashLists).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/campaigns", h.ListCampaigns).Methods(http.MethodGet)

	api.HandleFunc("/hash_lists/{id}", h.GetHashList).Methods(http.MethodGet)
	api.HandleFunc("/hash_lists/{id}/items", h.ListHashItems).Methods(http.MethodGet)
	api.HandleFunc("/hash_lists/{id}/cracks", h.ListCracks).Methods(http.MethodGet)

	api.HandleFunc("/campaigns", h.CreateCampaign).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}", h.GetCampaign).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}", h.UpdateCampaign).Methods(http.MethodPut)
	api.HandleFunc("/campaigns/{id}", h.DeleteCampaign).Methods(http.MethodDelete)
	api.HandleFunc("/campaigns/{id}/start", h.StartCampaign).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/pause", h.PauseCampaign).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/resume", h.ResumeCampaign).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/archive", h.ArchiveCampaign).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/attacks", h.CreateAttack).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/attacks", h.ListAttacks).Methods(http.MethodGet)

	api.HandleFunc("/attacks/{id}", h.GetAttack).Methods(http.MethodGet)
	api.HandleFunc("/attacks/{id}", h.UpdateAttack).Methods(http.MethodPut)
	api.HandleFunc("/attacks/{id}", h.DeleteAttack).Methods(http.MethodDelete)

	api.HandleFunc("/agents", h.RegisterAgent).Methods(http.MethodPost)
	api.HandleFunc("/agents", h.ListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", h.GetAgent).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", h.UpdateAgent).Methods(http.MethodPatch)
	api.HandleFunc("/agents/{id}/errors", h.ListAgentErrors).Methods(http.MethodGet)

	api.HandleFunc("/resources", h.UploadResource).Methods(http.MethodPost)
	api.HandleFunc("/resources/{key:.+}/presign", h.PresignResource).Methods(http.MethodGet)
	api.HandleFunc("/resources/{key:.+}", h.DeleteResource).Methods(http.MethodDelete)

	api.HandleFunc("/live/campaigns", h.LiveCampaigns).Methods(http.MethodGet)
	api.HandleFunc("/live/agents", h.LiveAgents).Methods(http.MethodGet)
	api.HandleFunc("/live/toasts", h.LiveToasts).Methods(http.MethodGet)
}
