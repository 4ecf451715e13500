package ledger

import (
	"strings"
	"time"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
)

// Plan is a subscription plan offered by the backend.
type Plan struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Price        int64  `json:"price"`
	TokenLimit   int64  `json:"token_limit"`
	DurationDays int    `json:"duration_days,omitempty"`
}

// Subscription is the caller's subscription record.
type Subscription struct {
	ID             int64     `json:"sub_id"`
	PlanID         int64     `json:"plan_id"`
	RemainingLimit int64     `json:"remaining_limit"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Balance mirrors the backend-owned token balance. It may be stale the moment it is read.
type Balance struct {
	RemainingLimit int64     `json:"remaining_limit"`
	PlanID         int64     `json:"plan_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// SubscribeResult is returned by Subscribe.
type SubscribeResult struct {
	SubscriptionID int64  `json:"sub_id"`
	Status         string `json:"status"`
}

// ExtractResult is the outcome of a debit. Success false is a backend refusal, not a transport error.
type ExtractResult struct {
	Success   bool   `json:"success"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

// AddResult is the outcome of a credit.
type AddResult struct {
	Success   bool   `json:"success"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

type plansPayload struct {
	Plans []planPayload `json:"plans"`
}

type planPayload struct {
	ID           backend.Int `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Price        backend.Int `json:"price"`
	Limit        backend.Int `json:"limit"`
	TokenLimit   backend.Int `json:"token_limit"`
	DurationDays backend.Int `json:"duration_days"`
}

func (p planPayload) plan() Plan {
	limit := int64(p.TokenLimit)
	if limit == 0 {
		limit = int64(p.Limit)
	}
	return Plan{
		ID:           int64(p.ID),
		Name:         strings.TrimSpace(p.Name),
		Description:  strings.TrimSpace(p.Description),
		Price:        int64(p.Price),
		TokenLimit:   limit,
		DurationDays: int(p.DurationDays),
	}
}

type subscriptionPayload struct {
	SubID          backend.Int `json:"sub_id"`
	PlanID         backend.Int `json:"plan_id"`
	RemainingLimit backend.Int `json:"remaining_limit"`
	Status         string      `json:"status"`
	ExpiresAt      string      `json:"expires_at"`
}

type subscribePayload struct {
	SubID  backend.Int `json:"sub_id"`
	Status string      `json:"status"`
}

type checkPayload struct {
	SubStatus bool `json:"sub_status"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type balanceOpPayload struct {
	OpStatus backend.Succeeded `json:"op_status"`
	Msg      string            `json:"msg"`
	Left     backend.Int       `json:"left"`
}

func parseTime(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
