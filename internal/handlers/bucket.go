package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/bucket"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/checkout"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
)

// BucketStores hands out the per-session bucket store.
type BucketStores interface {
	Store(ctx context.Context, sessionID, token string) (*bucket.Store, error)
	Drop(sessionID string)
}

// BucketHandlers exposes the shopper's bucket.
type BucketHandlers struct {
	stores  BucketStores
	ledgers LedgerFactory
}

// NewBucketHandlers constructs bucket handlers. ledgers backs the affordability preview.
func NewBucketHandlers(stores BucketStores, ledgers LedgerFactory) *BucketHandlers {
	return &BucketHandlers{stores: stores, ledgers: ledgers}
}

// Routes wires the /bucket endpoints onto the provided router.
func (h *BucketHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getBucket)
	r.Delete("/", h.clearBucket)
	r.Post("/items", h.addItem)
	r.Delete("/items", h.removeItems)
	r.Patch("/items/{toyId}", h.updateItem)
	r.Post("/refresh", h.refreshBucket)
	r.Get("/affordability", h.affordability)
}

type bucketPayload struct {
	Items      []bucket.Item `json:"items"`
	TotalCost  int64         `json:"total_cost"`
	TotalItems int           `json:"total_items"`
}

func buildBucketPayload(snap bucket.Snapshot) bucketPayload {
	items := snap.Items
	if items == nil {
		items = []bucket.Item{}
	}
	return bucketPayload{Items: items, TotalCost: snap.TotalCost, TotalItems: snap.TotalItems}
}

// withStore resolves the session's store and runs fn against it, answering with the resulting
// snapshot.
func (h *BucketHandlers) withStore(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, store *bucket.Store) error) {
	ctx := r.Context()
	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bucket_unavailable", "bucket service is unavailable", http.StatusServiceUnavailable))
		return
	}
	sess, token, ok := shopper(w, r)
	if !ok {
		return
	}
	store, err := h.stores.Store(ctx, sess.ID(), token)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	if fn != nil {
		if err := fn(ctx, store); err != nil {
			writeDomainError(ctx, w, err)
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, buildBucketPayload(store.Snapshot()))
}

func (h *BucketHandlers) getBucket(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, nil)
}

type addItemRequest struct {
	ToyID    int64 `json:"toy_id"`
	Quantity *int  `json:"quantity"`
}

func (h *BucketHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	h.withStore(w, r, func(ctx context.Context, store *bucket.Store) error {
		return store.Add(ctx, req.ToyID, quantity)
	})
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *BucketHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	toyID, err := parseID(chi.URLParam(r, "toyId"))
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	h.withStore(w, r, func(ctx context.Context, store *bucket.Store) error {
		return store.UpdateQuantity(ctx, toyID, *req.Quantity)
	})
}

type removeItemsRequest struct {
	ToyIDs []int64 `json:"toy_ids"`
}

func (h *BucketHandlers) removeItems(w http.ResponseWriter, r *http.Request) {
	var req removeItemsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.ToyIDs) == 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "toy_ids must not be empty", http.StatusBadRequest))
		return
	}
	h.withStore(w, r, func(ctx context.Context, store *bucket.Store) error {
		return store.Remove(ctx, req.ToyIDs...)
	})
}

func (h *BucketHandlers) clearBucket(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, func(ctx context.Context, store *bucket.Store) error {
		return store.Clear(ctx)
	})
}

func (h *BucketHandlers) refreshBucket(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, func(ctx context.Context, store *bucket.Store) error {
		return store.Refresh(ctx)
	})
}

type affordabilityResponse struct {
	TotalCost      int64 `json:"total_cost"`
	RemainingLimit int64 `json:"remaining_limit"`
	CanProceed     bool  `json:"can_proceed"`
	Shortfall      int64 `json:"shortfall"`
}

// affordability previews the gate against a fresh balance. Checkout re-reads the balance, so the
// answer is advisory.
func (h *BucketHandlers) affordability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil || h.ledgers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bucket_unavailable", "bucket service is unavailable", http.StatusServiceUnavailable))
		return
	}
	sess, token, ok := shopper(w, r)
	if !ok {
		return
	}
	store, err := h.stores.Store(ctx, sess.ID(), token)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	balance, err := h.ledgers(token).Balance(ctx)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	total := store.Snapshot().TotalCost
	decision := checkout.Evaluate(total, balance.RemainingLimit)
	httpx.WriteJSON(w, http.StatusOK, affordabilityResponse{
		TotalCost:      total,
		RemainingLimit: balance.RemainingLimit,
		CanProceed:     decision.CanProceed,
		Shortfall:      decision.Shortfall,
	})
}
