package agentapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

func TestStatusForKind(t *testing.T) {
	cases := map[core.Kind]int{
		core.KindNotFound:        http.StatusNotFound,
		core.KindUnauthorized:    http.StatusUnauthorized,
		core.KindForbidden:       http.StatusForbidden,
		core.KindConflict:        http.StatusUnprocessableEntity,
		core.KindMalformed:       http.StatusUnprocessableEntity,
		core.KindStale:           http.StatusAccepted,
		core.KindPreempted:       http.StatusGone,
		core.KindTooManyRequests: http.StatusTooManyRequests,
		core.KindTimeout:         http.StatusGatewayTimeout,
		core.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), "kind %v", kind)
	}
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, core.NotFound("task not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": "task not found"}`, rec.Body.String())
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "internal server error"}`, rec.Body.String())
}

func TestWriteErrorSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, core.TooManyRequests("heartbeat too soon"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "15", rec.Header().Get("Retry-After"))
}

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"activity":"waiting","bogus":1}`))
	var req heartbeatRequest
	err := decodeStrict(r, &req)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestDecodeStrictAcceptsKnownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"activity":"cracking"}`))
	var req heartbeatRequest
	require.NoError(t, decodeStrict(r, &req))
	assert.Equal(t, "cracking", req.Activity)
}

func TestPathAgentMatchesCaller(t *testing.T) {
	agent := &models.Agent{ID: 7}

	r := httptest.NewRequest(http.MethodGet, "/agents/7", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "7"})
	assert.NoError(t, pathAgentMatchesCaller(r, agent))

	r = httptest.NewRequest(http.MethodGet, "/agents/8", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "8"})
	err := pathAgentMatchesCaller(r, agent)
	require.Error(t, err)
	assert.Equal(t, core.KindForbidden, core.KindOf(err))

	r = httptest.NewRequest(http.MethodGet, "/agents/x", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "x"})
	err = pathAgentMatchesCaller(r, agent)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestPathTaskIDRejectsGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/tasks/not-a-uuid", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "not-a-uuid"})
	_, err := pathTaskID(r)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestTaskStatusToReport(t *testing.T) {
	req := taskStatusRequest{
		Time:     time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		Progress: []int64{1200, 5000},
		Rejected: 17,
		DeviceStatuses: []deviceStatus{
			{DeviceID: 1, Speed: 1000},
			{DeviceID: 2, Speed: 2500},
		},
	}
	report, err := req.toReport()
	require.NoError(t, err)
	assert.Equal(t, int64(1200), report.ProgressOffset)
	assert.Equal(t, int64(17), report.Rejected)
	assert.InDelta(t, 3500, report.TotalSpeed, 0.001)
	assert.Equal(t, req.Time, report.ReportedAt)
}

func TestTaskStatusToReportRequiresProgress(t *testing.T) {
	req := taskStatusRequest{}
	_, err := req.toReport()
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestTaskStatusToReportDefaultsReportedAt(t *testing.T) {
	req := taskStatusRequest{Progress: []int64{0}}
	report, err := req.toReport()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), report.ReportedAt, 5*time.Second)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:51234"
	assert.Equal(t, "192.0.2.10", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(r))
}

func TestAgentResponseOmitsSecrets(t *testing.T) {
	a := &models.Agent{
		ID:          3,
		Name:        "rig-01",
		TokenDigest: "should-not-appear",
		State:       models.AgentStateActive,
	}
	wire := agentResponse(a)
	assert.Equal(t, 3, wire.ID)
	assert.Equal(t, "rig-01", wire.Name)
	assert.Equal(t, models.AgentStateActive, wire.State)
}
