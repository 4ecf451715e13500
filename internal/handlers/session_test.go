package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionSignInAndOut(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.token = ""

	rec := h.do(http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeJSON(t, rec)
	require.Equal(t, false, first["authenticated"])

	rec = h.do(http.MethodPut, "/api/v1/session/token", `{"token":"tok-9"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	require.Equal(t, true, body["authenticated"])
	require.Equal(t, first["session_id"], body["session_id"])

	// The cookie alone now authenticates bucket calls.
	rec = h.do(http.MethodGet, "/api/v1/bucket", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, h.registry.Len())

	requireError(t, h.do(http.MethodPut, "/api/v1/session/token", `{"token":"  "}`), http.StatusBadRequest, "invalid_request")

	rec = h.do(http.MethodDelete, "/api/v1/session", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Zero(t, h.registry.Len())
	require.Nil(t, h.cookie)

	requireError(t, h.do(http.MethodGet, "/api/v1/bucket", ""), http.StatusUnauthorized, "unauthenticated")
}
