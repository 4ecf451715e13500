package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/bucket"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/checkout"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/requestctx"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/session"
)

const maxRequestBody = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a bounded JSON body into dst and writes the 400/413 response itself when it
// cannot. It reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxRequestBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer, got %q", raw)
	}
	return id, nil
}

// shopper returns the request's session and its bearer token, writing 401 when no token is held.
func shopper(w http.ResponseWriter, r *http.Request) (*session.Session, string, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_unavailable", "session is unavailable", http.StatusInternalServerError))
		return nil, "", false
	}
	token := sess.Token()
	if token == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "sign in to continue", http.StatusUnauthorized))
		return nil, "", false
	}
	return sess, token, true
}

func allowRequest(w http.ResponseWriter, r *http.Request, limiter rateLimiter, key string) bool {
	if limiter == nil {
		return true
	}
	allowed, retryAfter := limiter.Allow(key)
	if allowed {
		return true
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests; slow down", http.StatusTooManyRequests))
	return false
}

func sessionKey(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID()
}

// writeDomainError maps workflow, bucket and backend errors onto the JSON error envelope.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		insufficient *checkout.InsufficientFundsError
		extraction   *checkout.ExtractionError
		rejected     *bucket.RejectedError
		authErr      *backend.AuthError
		netErr       *backend.NetworkError
		serverErr    *backend.ServerError
	)

	var apiErr httpx.Error
	switch {
	case errors.As(err, &insufficient):
		apiErr = httpx.NewError("insufficient_funds", "not enough tokens for this bucket", http.StatusPaymentRequired).
			WithDetails(map[string]any{
				"shortfall":       insufficient.Shortfall,
				"total_cost":      insufficient.Total,
				"remaining_limit": insufficient.Remaining,
			})
	case errors.As(err, &extraction):
		msg := backend.SanitizeText(extraction.Message)
		if msg == "" {
			msg = "the rental service refused the token debit"
		}
		apiErr = httpx.NewError("extraction_failed", msg, http.StatusConflict)
	case errors.Is(err, checkout.ErrEmptyBucket):
		apiErr = httpx.NewError("empty_bucket", "the bucket is empty", http.StatusUnprocessableEntity)
	case errors.Is(err, bucket.ErrValidation), errors.Is(err, backend.ErrValidation):
		apiErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, bucket.ErrNotFound):
		apiErr = httpx.NewError("bucket_item_not_found", "the toy is not in the bucket", http.StatusNotFound)
	case errors.Is(err, bucket.ErrDetached):
		apiErr = httpx.NewError("bucket_stale", "the bucket was replaced; reload it", http.StatusConflict)
	case errors.As(err, &rejected):
		msg := backend.SanitizeText(rejected.Message)
		if msg == "" {
			msg = "the rental service did not apply the change"
		}
		apiErr = httpx.NewError("bucket_rejected", msg, http.StatusConflict)
	case errors.As(err, &authErr):
		apiErr = httpx.NewError("unauthenticated", backend.Message(err), http.StatusUnauthorized)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		apiErr = httpx.NewError("timeout", "the request timed out", http.StatusGatewayTimeout)
	case errors.As(err, &netErr):
		apiErr = httpx.NewError("backend_unreachable", backend.Message(err), http.StatusBadGateway)
	case errors.As(err, &serverErr):
		apiErr = httpx.NewError("backend_error", backend.Message(err), http.StatusBadGateway).
			WithDetails(map[string]any{"backend_status": serverErr.Status})
	case errors.Is(err, backend.ErrDecode):
		apiErr = httpx.NewError("backend_bad_response", backend.Message(err), http.StatusBadGateway)
	default:
		apiErr = httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError)
	}

	if apiErr.Status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("request failed", zap.String("code", apiErr.Code), zap.Error(err))
	}
	httpx.WriteError(ctx, w, apiErr)
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
