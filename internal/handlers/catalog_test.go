package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogEndpoints(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.token = ""

	rec := h.do(http.MethodGet, "/api/v1/toys", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decodeJSON(t, rec)["toys"], 6)
	require.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))

	rec = h.do(http.MethodGet, "/api/v1/toys?category=science", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeJSON(t, rec)["toys"], 1)

	rec = h.do(http.MethodGet, "/api/v1/toys/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	require.Equal(t, "Magnetic Tiles", body["name"])
	require.EqualValues(t, 50, body["token_cost"])

	requireError(t, h.do(http.MethodGet, "/api/v1/toys/999", ""), http.StatusNotFound, "toy_not_found")
	requireError(t, h.do(http.MethodGet, "/api/v1/toys/abc", ""), http.StatusBadRequest, "invalid_request")
}
