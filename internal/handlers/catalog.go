package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/catalog"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
)

// CatalogHandlers serves the toy catalog. It needs no session.
type CatalogHandlers struct {
	catalog *catalog.Catalog
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(c *catalog.Catalog) *CatalogHandlers {
	return &CatalogHandlers{catalog: c}
}

// Routes wires the /toys endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listToys)
	r.Get("/{toyId}", h.getToy)
}

type toyListResponse struct {
	Toys []catalog.Toy `json:"toys"`
}

func (h *CatalogHandlers) listToys(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, toyListResponse{Toys: h.catalog.List(r.URL.Query().Get("category"))})
}

func (h *CatalogHandlers) getToy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	id, err := parseID(chi.URLParam(r, "toyId"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	toy, err := h.catalog.Get(id)
	if errors.Is(err, catalog.ErrNotFound) {
		httpx.WriteError(ctx, w, httpx.NewError("toy_not_found", "toy not found", http.StatusNotFound))
		return
	}
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, toy)
}
