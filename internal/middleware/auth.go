package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

type contextKey string

const (
	agentContextKey contextKey = "agent"
	userContextKey  contextKey = "user_id"
)

// bearerToken extracts a bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAgent authenticates the agent surface. Failures answer with the
// legacy error shape.
func RequireAgent(agents *services.AgentService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				debug.Debug("[AUTH] Agent request without bearer token: %s %s", r.Method, r.URL.Path)
				writeAgentError(w, http.StatusUnauthorized, "missing token")
				return
			}
			agent, err := agents.Authenticate(r.Context(), token)
			if err != nil {
				debug.Warning("[AUTH] Agent authentication failed for %s %s", r.Method, r.URL.Path)
				writeAgentError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), agentContextKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentFromContext returns the authenticated agent placed by RequireAgent.
func AgentFromContext(ctx context.Context) (*models.Agent, bool) {
	agent, ok := ctx.Value(agentContextKey).(*models.Agent)
	return agent, ok
}

// RequireWebUser authenticates the web surface: JWT from the token cookie or
// the Authorization header. Failures answer FastAPI-style.
func RequireWebUser(auth *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if cookie, err := r.Cookie("token"); err == nil {
					token = cookie.Value
				}
			}
			if token == "" {
				writeDetailError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			userID, err := auth.ValidateJWT(token)
			if err != nil {
				debug.Warning("[AUTH] Web token rejected for %s %s", r.Method, r.URL.Path)
				writeDetailError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireControlUser authenticates the control surface with cst_ bearer
// tokens. Failures answer as RFC 9457 problem documents.
func RequireControlUser(auth *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeProblem(w, r, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			user, err := auth.AuthenticateControl(r.Context(), token)
			if err != nil {
				debug.Warning("[AUTH] Control token rejected for %s %s", r.Method, r.URL.Path)
				writeProblem(w, r, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user ID placed by the web or
// control middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userContextKey).(int64)
	return id, ok
}

func writeAgentError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeDetailError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":     "about:blank",
		"title":    title,
		"status":   status,
		"detail":   detail,
		"instance": r.URL.Path,
	})
}
