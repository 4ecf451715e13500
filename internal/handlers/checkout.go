package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/checkout"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/ledger"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
)

// CheckoutDeps wires CheckoutHandlers.
type CheckoutDeps struct {
	Stores   BucketStores
	Ledgers  LedgerFactory
	Workflow *checkout.Workflow

	// Idempotency guards POST /checkout. Nil leaves the route unguarded.
	Idempotency       func(http.Handler) http.Handler
	IdempotencyHeader string
	PerMinute         int
	Clock             func() time.Time
}

// CheckoutHandlers runs rental checkouts.
type CheckoutHandlers struct {
	stores      BucketStores
	ledgers     LedgerFactory
	workflow    *checkout.Workflow
	idempotency func(http.Handler) http.Handler
	keyHeader   string
	limiter     rateLimiter
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(deps CheckoutDeps) *CheckoutHandlers {
	header := strings.TrimSpace(deps.IdempotencyHeader)
	if header == "" {
		header = "Idempotency-Key"
	}
	return &CheckoutHandlers{
		stores:      deps.Stores,
		ledgers:     deps.Ledgers,
		workflow:    deps.Workflow,
		idempotency: deps.Idempotency,
		keyHeader:   header,
		limiter:     newWindowLimiter(deps.PerMinute, time.Minute, deps.Clock),
	}
}

// Routes registers POST /checkout.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.idempotency != nil {
		group = group.With(h.idempotency)
	}
	group.Post("/checkout", h.checkout)
}

type checkoutResponse struct {
	CheckoutID             string        `json:"checkout_id"`
	Status                 string        `json:"status"`
	Charged                int64         `json:"charged"`
	RemainingLimit         int64         `json:"remaining_limit"`
	ReconciliationRequired bool          `json:"reconciliation_required"`
	Message                string        `json:"message,omitempty"`
	Bucket                 bucketPayload `json:"bucket"`
}

func (h *CheckoutHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil || h.ledgers == nil || h.workflow == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	sess, token, ok := shopper(w, r)
	if !ok {
		return
	}
	if !allowRequest(w, r, h.limiter, sessionKey(sess)) {
		return
	}

	store, err := h.stores.Store(ctx, sess.ID(), token)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	if key := strings.TrimSpace(r.Header.Get(h.keyHeader)); key != "" {
		ctx = ledger.WithIdempotencyKey(ctx, key)
	}
	result := h.workflow.WithLedger(h.ledgers(token)).Run(ctx, store)
	if result.State != checkout.StateCompleted {
		writeDomainError(ctx, w, result.Err)
		return
	}

	resp := checkoutResponse{
		CheckoutID:     result.ID,
		Status:         string(result.State),
		Charged:        result.Charged,
		RemainingLimit: result.Remaining,
		Bucket:         buildBucketPayload(store.Snapshot()),
	}
	if result.Warning != nil {
		resp.ReconciliationRequired = true
		resp.Message = "tokens were charged but the bucket could not be cleared; refresh the bucket and balance"
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
