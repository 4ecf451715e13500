package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
)

const idempotencyHeader = "Idempotency-Key"

// Client wraps the subscription and balance endpoints of the rental backend.
type Client struct {
	api    *backend.Client
	newKey func() string
}

// New constructs a Client over the shared backend transport.
func New(api *backend.Client) *Client {
	return &Client{
		api:    api,
		newKey: func() string { return ulid.Make().String() },
	}
}

// WithToken returns a copy authenticated as the given bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.api = c.api.WithToken(token)
	return &clone
}

type idempotencyKeyContextKey struct{}

// WithIdempotencyKey makes balance mutations issued with ctx reuse key, so a retried storefront
// request maps onto the same backend operation.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, strings.TrimSpace(key))
}

func (c *Client) idempotencyKey(ctx context.Context, op string) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok && key != "" {
		return key + ":" + op
	}
	return c.newKey()
}

// Plans lists the available subscription plans.
func (c *Client) Plans(ctx context.Context) ([]Plan, error) {
	var payload plansPayload
	if err := c.api.Do(ctx, http.MethodGet, "/v1/subscription/plans", nil, &payload); err != nil {
		return nil, err
	}
	plans := make([]Plan, 0, len(payload.Plans))
	for _, p := range payload.Plans {
		plans = append(plans, p.plan())
	}
	return plans, nil
}

// Subscribe starts a subscription to planID.
func (c *Client) Subscribe(ctx context.Context, planID int64) (SubscribeResult, error) {
	if planID <= 0 {
		return SubscribeResult{}, fmt.Errorf("%w: plan id must be positive", backend.ErrValidation)
	}
	var payload subscribePayload
	body := map[string]int64{"plan_id": planID}
	if err := c.api.Do(ctx, http.MethodPost, "/v1/subscription/subscribe", body, &payload); err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{SubscriptionID: int64(payload.SubID), Status: payload.Status}, nil
}

// Details fetches the caller's subscription record.
func (c *Client) Details(ctx context.Context) (Subscription, error) {
	var payload subscriptionPayload
	if err := c.api.Do(ctx, http.MethodGet, "/v1/subscription/details", nil, &payload); err != nil {
		return Subscription{}, err
	}
	return Subscription{
		ID:             int64(payload.SubID),
		PlanID:         int64(payload.PlanID),
		RemainingLimit: int64(payload.RemainingLimit),
		Status:         payload.Status,
		ExpiresAt:      parseTime(payload.ExpiresAt),
	}, nil
}

// Check reports whether the caller has an active subscription.
func (c *Client) Check(ctx context.Context) (bool, error) {
	var payload checkPayload
	if err := c.api.Do(ctx, http.MethodGet, "/v1/subscription/check", nil, &payload); err != nil {
		return false, err
	}
	return payload.SubStatus, nil
}

// ChangePlan moves the subscription to newPlanID and returns the backend status text.
func (c *Client) ChangePlan(ctx context.Context, newPlanID int64) (string, error) {
	if newPlanID <= 0 {
		return "", fmt.Errorf("%w: plan id must be positive", backend.ErrValidation)
	}
	var payload statusPayload
	body := map[string]int64{"new_plan_id": newPlanID}
	if err := c.api.Do(ctx, http.MethodPost, "/v1/subscription/change-plan", body, &payload); err != nil {
		return "", err
	}
	return payload.Status, nil
}

// Unsubscribe cancels the subscription and returns the backend status text.
func (c *Client) Unsubscribe(ctx context.Context) (string, error) {
	var payload statusPayload
	if err := c.api.Do(ctx, http.MethodDelete, "/v1/subscription/unsubscribe", nil, &payload); err != nil {
		return "", err
	}
	return payload.Status, nil
}

// Balance reads the current balance. It always goes to the backend.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	sub, err := c.Details(ctx)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		RemainingLimit: sub.RemainingLimit,
		PlanID:         sub.PlanID,
		ExpiresAt:      sub.ExpiresAt,
	}, nil
}

// Extract debits amount tokens. The backend decides whether the balance suffices; a refusal is
// reported through ExtractResult.Success rather than an error, and the amount is never clamped.
func (c *Client) Extract(ctx context.Context, amount int64) (ExtractResult, error) {
	payload, err := c.balanceOp(ctx, "/v1/subscription/extract-balance", "extract", amount)
	if err != nil {
		return ExtractResult{}, err
	}
	return ExtractResult{
		Success:   bool(payload.OpStatus),
		Remaining: int64(payload.Left),
		Message:   backend.SanitizeText(payload.Msg),
	}, nil
}

// Add credits amount tokens.
func (c *Client) Add(ctx context.Context, amount int64) (AddResult, error) {
	payload, err := c.balanceOp(ctx, "/v1/subscription/add-balance", "add", amount)
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{
		Success:   bool(payload.OpStatus),
		Remaining: int64(payload.Left),
		Message:   backend.SanitizeText(payload.Msg),
	}, nil
}

func (c *Client) balanceOp(ctx context.Context, path, op string, amount int64) (balanceOpPayload, error) {
	if amount < 1 {
		return balanceOpPayload{}, fmt.Errorf("%w: %s amount must be at least 1, got %d", backend.ErrValidation, op, amount)
	}
	var payload balanceOpPayload
	body := map[string]int64{"value": amount}
	key := c.idempotencyKey(ctx, op)
	if err := c.api.Do(ctx, http.MethodPost, path, body, &payload, backend.WithHeader(idempotencyHeader, key)); err != nil {
		return balanceOpPayload{}, err
	}
	return payload, nil
}
