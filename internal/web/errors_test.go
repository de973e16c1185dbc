package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

func TestRespondError_MappedError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/templates/missing/reference", nil)

	respondError(rec, req, fmt.Errorf("lookup: %w", core.ErrUnknownTemplate), http.StatusNotFound)

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "TBL002", resp.Code)
	assert.Equal(t, resp.Message, resp.Error)
	assert.NotContains(t, rec.Body.String(), "lookup:")
}

func TestRespondError_UnmappedErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)

	respondError(rec, req, errors.New("dial tcp 10.0.0.5:5432: connection refused"), http.StatusInternalServerError)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "ERR000", resp.Code)
	assert.Equal(t, "An unexpected error occurred", resp.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}
