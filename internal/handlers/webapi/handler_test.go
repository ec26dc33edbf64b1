package webapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
)

func TestStatusForKindUsesConflict(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusForKind(core.KindConflict))
	assert.Equal(t, http.StatusConflict, statusForKind(core.KindStale))
	assert.Equal(t, http.StatusConflict, statusForKind(core.KindPreempted))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForKind(core.KindMalformed))
	assert.Equal(t, http.StatusNotFound, statusForKind(core.KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(core.KindInternal))
}

func TestWriteErrorDetailShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, core.Conflict("campaign is not active"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"detail": "campaign is not active"}`, rec.Body.String())
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail": "Internal server error"}`, rec.Body.String())
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	var v map[string]interface{}
	err := decodeJSON(r, &v)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestPathHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/projects/12", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "12"})
	id, err := pathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	r = mux.SetURLVars(r, map[string]string{"id": "nope"})
	_, err = pathInt64(r, "id")
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))

	_, err = pathUUID(r, "id")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestLiveToastsFiltersEvents(t *testing.T) {
	broker := events.NewBroker(16)
	h := &Handler{broker: broker}

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/live/toasts", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.LiveToasts(rec, r)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	broker.Publish(events.EventTypeAgentState, events.GlobalChannel, map[string]string{"state": "active"})
	broker.Publish(events.EventTypeCrackRecorded, events.GlobalChannel, map[string]string{"hash": "abc"})

	// Give the stream loop time to drain its channel before shutting down.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not shut down")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: "+events.EventTypeCrackRecorded)
	assert.NotContains(t, body, events.EventTypeAgentState)
}
