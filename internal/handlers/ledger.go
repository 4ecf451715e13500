package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/ledger"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/pricing"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/session"
)

// Ledger is the token ledger as seen by one shopper.
type Ledger interface {
	Plans(ctx context.Context) ([]ledger.Plan, error)
	Subscribe(ctx context.Context, planID int64) (ledger.SubscribeResult, error)
	Details(ctx context.Context) (ledger.Subscription, error)
	Check(ctx context.Context) (bool, error)
	ChangePlan(ctx context.Context, newPlanID int64) (string, error)
	Unsubscribe(ctx context.Context) (string, error)
	Balance(ctx context.Context) (ledger.Balance, error)
	Extract(ctx context.Context, amount int64) (ledger.ExtractResult, error)
	Add(ctx context.Context, amount int64) (ledger.AddResult, error)
}

// LedgerFactory binds the ledger to a bearer token. An empty token yields an anonymous client.
type LedgerFactory func(token string) Ledger

// LedgerDeps wires LedgerHandlers.
type LedgerDeps struct {
	Ledgers   LedgerFactory
	Pricing   *pricing.Converter
	PerMinute int
	Clock     func() time.Time

	// Idempotency guards POST /balance/top-up.
	Idempotency       func(http.Handler) http.Handler
	IdempotencyHeader string
}

// LedgerHandlers exposes balance and subscription endpoints.
type LedgerHandlers struct {
	ledgers     LedgerFactory
	pricing     *pricing.Converter
	limiter     rateLimiter
	idempotency func(http.Handler) http.Handler
	keyHeader   string
}

// NewLedgerHandlers constructs ledger handlers.
func NewLedgerHandlers(deps LedgerDeps) *LedgerHandlers {
	header := strings.TrimSpace(deps.IdempotencyHeader)
	if header == "" {
		header = "Idempotency-Key"
	}
	return &LedgerHandlers{
		ledgers:     deps.Ledgers,
		pricing:     deps.Pricing,
		limiter:     newWindowLimiter(deps.PerMinute, time.Minute, deps.Clock),
		idempotency: deps.Idempotency,
		keyHeader:   header,
	}
}

// Routes registers the balance, plan and subscription endpoints under the API root.
func (h *LedgerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/plans", h.listPlans)
	r.Get("/balance", h.getBalance)
	topUp := r
	if h.idempotency != nil {
		topUp = topUp.With(h.idempotency)
	}
	topUp.Post("/balance/top-up", h.topUp)

	r.Route("/subscription", func(sub chi.Router) {
		sub.Get("/", h.getSubscription)
		sub.Get("/status", h.subscriptionStatus)
		sub.Post("/", h.subscribe)
		sub.Post("/plan", h.changePlan)
		sub.Delete("/", h.unsubscribe)
	})
}

func (h *LedgerHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.ledgers == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("ledger_unavailable", "ledger service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

// authed resolves the shopper's token-scoped ledger, answering 401 for anonymous sessions.
func (h *LedgerHandlers) authed(w http.ResponseWriter, r *http.Request) (Ledger, *session.Session, bool) {
	if !h.available(w, r) {
		return nil, nil, false
	}
	sess, token, ok := shopper(w, r)
	if !ok {
		return nil, nil, false
	}
	return h.ledgers(token), sess, true
}

type plansResponse struct {
	Plans []ledger.Plan `json:"plans"`
}

// listPlans is public; a signed-in shopper's token is forwarded when present.
func (h *LedgerHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	token := ""
	if sess, ok := session.FromContext(ctx); ok {
		token = sess.Token()
	}
	plans, err := h.ledgers(token).Plans(ctx)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	if plans == nil {
		plans = []ledger.Plan{}
	}
	httpx.WriteJSON(w, http.StatusOK, plansResponse{Plans: plans})
}

type balanceResponse struct {
	RemainingLimit int64  `json:"remaining_limit"`
	PlanID         int64  `json:"plan_id"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

func (h *LedgerHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, _, ok := h.authed(w, r)
	if !ok {
		return
	}
	balance, err := l.Balance(ctx)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, balanceResponse{
		RemainingLimit: balance.RemainingLimit,
		PlanID:         balance.PlanID,
		ExpiresAt:      formatTimestamp(balance.ExpiresAt),
	})
}

// topUpRequest names either a token count or a tenge amount; the amount buys whole tokens.
type topUpRequest struct {
	Tokens    int64 `json:"tokens"`
	AmountKZT int64 `json:"amount_kzt"`
}

type topUpResponse struct {
	RemainingLimit int64          `json:"remaining_limit"`
	Quote          *pricing.Quote `json:"quote,omitempty"`
}

func (h *LedgerHandlers) topUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, sess, ok := h.authed(w, r)
	if !ok {
		return
	}
	if !allowRequest(w, r, h.limiter, sessionKey(sess)) {
		return
	}
	var req topUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Tokens != 0 && req.AmountKZT != 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "send tokens or amount_kzt, not both", http.StatusBadRequest))
		return
	}
	if req.AmountKZT != 0 {
		if h.pricing == nil {
			httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "tenge top-ups are not configured", http.StatusServiceUnavailable))
			return
		}
		req.Tokens = h.pricing.TokensFor(req.AmountKZT)
		if req.Tokens < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount_kzt does not buy a whole token", http.StatusBadRequest))
			return
		}
	}
	if req.Tokens < 1 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tokens must be at least 1", http.StatusBadRequest))
		return
	}

	var quote *pricing.Quote
	if h.pricing != nil {
		q, err := h.pricing.Quote(req.Tokens, preferredLanguage(r))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		quote = &q
	}

	if key := strings.TrimSpace(r.Header.Get(h.keyHeader)); key != "" {
		ctx = ledger.WithIdempotencyKey(ctx, key)
	}
	result, err := l.Add(ctx, req.Tokens)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	if !result.Success {
		msg := strings.TrimSpace(result.Message)
		if msg == "" {
			msg = "the rental service refused the top-up"
		}
		httpx.WriteError(ctx, w, httpx.NewError("top_up_rejected", msg, http.StatusConflict).
			WithDetails(map[string]any{"remaining_limit": result.Remaining}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, topUpResponse{RemainingLimit: result.Remaining, Quote: quote})
}

func preferredLanguage(r *http.Request) string {
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		return lang
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

type subscriptionResponse struct {
	SubscriptionID int64  `json:"sub_id"`
	PlanID         int64  `json:"plan_id"`
	RemainingLimit int64  `json:"remaining_limit"`
	Status         string `json:"status,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

func (h *LedgerHandlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, _, ok := h.authed(w, r)
	if !ok {
		return
	}
	sub, err := l.Details(ctx)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subscriptionResponse{
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		RemainingLimit: sub.RemainingLimit,
		Status:         sub.Status,
		ExpiresAt:      formatTimestamp(sub.ExpiresAt),
	})
}

func (h *LedgerHandlers) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, _, ok := h.authed(w, r)
	if !ok {
		return
	}
	active, err := l.Check(ctx)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"active": active})
}

type planRequest struct {
	PlanID int64 `json:"plan_id"`
}

func (h *LedgerHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, _, ok := h.authed(w, r)
	if !ok {
		return
	}
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := l.Subscribe(ctx, req.PlanID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, result)
}

func (h *LedgerHandlers) changePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, _, ok := h.authed(w, r)
	if !ok {
		return
	}
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := l.ChangePlan(ctx, req.PlanID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *LedgerHandlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, _, ok := h.authed(w, r)
	if !ok {
		return
	}
	status, err := l.Unsubscribe(ctx)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}
