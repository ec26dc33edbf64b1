package controlapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
)

func TestStatusForKindUsesConflict(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusForKind(core.KindConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForKind(core.KindMalformed))
	assert.Equal(t, http.StatusNotFound, statusForKind(core.KindNotFound))
}

func TestWriteProblemShape(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/campaigns/start", nil)
	writeProblem(rec, r, core.Conflict("campaign has no attacks"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "about:blank", doc["type"])
	assert.Equal(t, "Conflict", doc["title"])
	assert.Equal(t, float64(http.StatusConflict), doc["status"])
	assert.Equal(t, "campaign has no attacks", doc["detail"])
	assert.Equal(t, "/campaigns/start", doc["instance"])
}

func TestWriteProblemHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/campaigns/start", nil)
	writeProblem(rec, r, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestParseBulkIDs(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"ids": ["11111111-1111-1111-1111-111111111111", "22222222-2222-2222-2222-222222222222"]}`))
	ids, err := parseBulkIDs(r)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestParseBulkIDsRejectsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids": []}`))
	_, err := parseBulkIDs(r)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestParseBulkIDsRejectsGarbageID(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids": ["nope"]}`))
	_, err := parseBulkIDs(r)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}
