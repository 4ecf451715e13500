package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckoutCompletes(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/bucket/items", `{"toy_id":1,"quantity":2}`).Code)

	rec := h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "order-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	require.Equal(t, "completed", body["status"])
	require.EqualValues(t, 60, body["charged"])
	require.EqualValues(t, 40, body["remaining_limit"])
	require.Equal(t, false, body["reconciliation_required"])
	require.NotEmpty(t, body["checkout_id"])

	bucketBody := body["bucket"].(map[string]any)
	require.Empty(t, bucketBody["items"])

	// A retry with the same key replays the stored response without a second debit.
	replay := h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "order-1")
	require.Equal(t, http.StatusOK, replay.Code)
	require.Equal(t, "true", replay.Header().Get("X-Idempotent-Replay"))
	require.JSONEq(t, rec.Body.String(), replay.Body.String())
	extracts, _ := h.ledger.counts()
	require.Equal(t, 1, extracts)
}

func TestCheckoutRequiresIdempotencyKey(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	requireError(t, h.do(http.MethodPost, "/api/v1/checkout", ""), http.StatusBadRequest, "idempotency_key_required")
}

func TestCheckoutInsufficientFunds(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/bucket/items", `{"toy_id":2,"quantity":3}`).Code)

	body := requireError(t, h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "k"), http.StatusPaymentRequired, "insufficient_funds")
	require.EqualValues(t, 50, body["shortfall"])
	require.EqualValues(t, 150, body["total_cost"])

	rec := h.do(http.MethodGet, "/api/v1/bucket", "")
	require.EqualValues(t, 150, decodeJSON(t, rec)["total_cost"])
	extracts, _ := h.ledger.counts()
	require.Zero(t, extracts)
}

func TestCheckoutEmptyBucket(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	requireError(t, h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "k"), http.StatusUnprocessableEntity, "empty_bucket")
}

func TestCheckoutExtractionRefused(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.ledger.refuse = "limit changed"
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/bucket/items", `{"toy_id":1,"quantity":1}`).Code)

	body := requireError(t, h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "k"), http.StatusConflict, "extraction_failed")
	require.Equal(t, "limit changed", body["message"])

	rec := h.do(http.MethodGet, "/api/v1/bucket", "")
	require.EqualValues(t, 30, decodeJSON(t, rec)["total_cost"])
}

func TestCheckoutClearFailureRequestsReconciliation(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/bucket/items", `{"toy_id":1,"quantity":1}`).Code)
	h.api.setErrors(nil, networkFailure)

	rec := h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "k")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	require.Equal(t, true, body["reconciliation_required"])
	require.EqualValues(t, 30, body["charged"])
	require.NotEmpty(t, body["message"])
}

func TestCheckoutRateLimited(t *testing.T) {
	h := newHarness(t, harnessConfig{perMinute: 1})
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/bucket/items", `{"toy_id":1,"quantity":1}`).Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "a").Code)
	rec := h.do(http.MethodPost, "/api/v1/checkout", "", "Idempotency-Key", "b")
	requireError(t, rec, http.StatusTooManyRequests, "rate_limited")
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}
