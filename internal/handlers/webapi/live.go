package webapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// sseKeepAlive is the comment-ping interval that keeps idle streams open
// through proxies.
const sseKeepAlive = 25 * time.Second

// LiveCampaigns handles GET /live/campaigns: campaign, attack and task state
// changes as server-sent events.
func (h *Handler) LiveCampaigns(w http.ResponseWriter, r *http.Request) {
	h.streamEvents(w, r, func(evt events.Event) bool {
		return strings.HasPrefix(evt.Type, "campaign.") ||
			strings.HasPrefix(evt.Type, "attack.") ||
			strings.HasPrefix(evt.Type, "task.")
	})
}

// LiveAgents handles GET /live/agents: agent lifecycle changes.
func (h *Handler) LiveAgents(w http.ResponseWriter, r *http.Request) {
	h.streamEvents(w, r, func(evt events.Event) bool {
		return strings.HasPrefix(evt.Type, "agent.")
	})
}

// LiveToasts handles GET /live/toasts: crack results worth surfacing as UI
// notifications.
func (h *Handler) LiveToasts(w http.ResponseWriter, r *http.Request) {
	h.streamEvents(w, r, func(evt events.Event) bool {
		return evt.Type == events.EventTypeCrackRecorded ||
			evt.Type == events.EventTypeHashListComplete
	})
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, match func(events.Event) bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, core.Internal("streaming unsupported"))
		return
	}

	sub := h.broker.Subscribe(events.GlobalChannel)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-sub.C:
			if !open {
				return
			}
			if !match(evt) {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				debug.Error("failed to marshal SSE event: %v", err)
				continue
			}
			if _, err := w.Write([]byte("event: " + evt.Type + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
