package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
)

// Line is one toy/quantity pair sent to the bucket add endpoint.
type Line struct {
	ToyID    int64 `json:"toy_id"`
	Quantity int   `json:"quantity"`
}

// Contents is the server-side bucket as returned by Get.
type Contents struct {
	Items []Item
}

// API is the remote bucket contract. HTTPAPI talks to the rental backend; tests substitute fakes.
type API interface {
	Add(ctx context.Context, lines []Line) error
	Delete(ctx context.Context, toyIDs []int64) error
	Get(ctx context.Context) (Contents, error)
	Create(ctx context.Context) error
}

// RejectedError is returned when the backend answers 2xx but reports that it did not apply the change.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bucket: backend rejected %s", e.Op)
	}
	return fmt.Sprintf("bucket: backend rejected %s: %s", e.Op, e.Message)
}

// HTTPAPI implements API over the backend's /v1/bucket endpoints.
type HTTPAPI struct {
	client *backend.Client
}

// NewHTTPAPI binds the bucket endpoints to a token-scoped backend client.
func NewHTTPAPI(client *backend.Client) *HTTPAPI {
	return &HTTPAPI{client: client}
}

type statusPayload struct {
	Status json.RawMessage `json:"status"`
	Msg    string          `json:"msg"`
}

// rejected treats an explicit negative status as a refusal. A missing status counts as success;
// one that is neither a boolean nor a word, such as 0 or 500, counts as a refusal.
func (p statusPayload) rejected() bool {
	raw := strings.TrimSpace(string(p.Status))
	if raw == "" || raw == "null" {
		return false
	}
	var ok backend.Succeeded
	if err := json.Unmarshal(p.Status, &ok); err != nil {
		return true
	}
	if bool(ok) {
		return false
	}
	var word string
	if err := json.Unmarshal(p.Status, &word); err == nil {
		switch strings.ToLower(strings.TrimSpace(word)) {
		case "error", "failed", "fail", "failure", "rejected", "false":
			return true
		}
		return false
	}
	return true
}

func (a *HTTPAPI) mutate(ctx context.Context, op, path string, body any) error {
	var payload statusPayload
	if err := a.client.Do(ctx, http.MethodPost, path, body, &payload); err != nil {
		return err
	}
	if payload.rejected() {
		return &RejectedError{Op: op, Message: backend.SanitizeText(payload.Msg)}
	}
	return nil
}

// Add implements API.
func (a *HTTPAPI) Add(ctx context.Context, lines []Line) error {
	return a.mutate(ctx, "add", "/v1/bucket/add", map[string][]Line{"toys": lines})
}

// Delete implements API.
func (a *HTTPAPI) Delete(ctx context.Context, toyIDs []int64) error {
	return a.mutate(ctx, "delete", "/v1/bucket/delete", map[string][]int64{"toy_id": toyIDs})
}

// Create implements API.
func (a *HTTPAPI) Create(ctx context.Context) error {
	return a.mutate(ctx, "create", "/v1/bucket/create", struct{}{})
}

type toyPayload struct {
	ID        backend.Int `json:"id"`
	ToyID     backend.Int `json:"toy_id"`
	Name      string      `json:"name"`
	TokenCost backend.Int `json:"token_cost"`
	Cost      backend.Int `json:"cost"`
	Quantity  backend.Int `json:"quantity"`
}

type getPayload struct {
	Toys     []toyPayload    `json:"toys"`
	Quantity json.RawMessage `json:"quantity"`
}

// Get implements API. The backend returns toys and quantities side by side: quantity is either
// an array parallel to toys or an object keyed by toy id. Entries without a quantity count once.
func (a *HTTPAPI) Get(ctx context.Context) (Contents, error) {
	var payload getPayload
	if err := a.client.Do(ctx, http.MethodPost, "/v1/bucket/get", struct{}{}, &payload); err != nil {
		return Contents{}, err
	}

	byIndex, byID, err := decodeQuantities(payload.Quantity)
	if err != nil {
		return Contents{}, fmt.Errorf("%w: bucket quantity: %v", backend.ErrDecode, err)
	}

	merged := make(map[int64]*Item, len(payload.Toys))
	order := make([]int64, 0, len(payload.Toys))
	for i, toy := range payload.Toys {
		id := int64(toy.ID)
		if id == 0 {
			id = int64(toy.ToyID)
		}
		if id <= 0 {
			continue
		}

		qty := int(toy.Quantity)
		if i < len(byIndex) {
			qty = byIndex[i]
		}
		if q, ok := byID[id]; ok {
			qty = q
		}
		if qty < 1 {
			qty = 1
		}

		cost := int64(toy.TokenCost)
		if cost == 0 {
			cost = int64(toy.Cost)
		}
		if cost < 0 {
			cost = 0
		}

		if existing, ok := merged[id]; ok {
			existing.Quantity += qty
			continue
		}
		merged[id] = &Item{ToyID: id, Name: strings.TrimSpace(toy.Name), UnitTokenCost: cost, Quantity: qty}
		order = append(order, id)
	}

	contents := Contents{Items: make([]Item, 0, len(order))}
	for _, id := range order {
		contents.Items = append(contents.Items, *merged[id])
	}
	return contents, nil
}

func decodeQuantities(raw json.RawMessage) ([]int, map[int64]int, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil, nil
	}
	switch trimmed[0] {
	case '[':
		var values []backend.Int
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, nil, err
		}
		out := make([]int, len(values))
		for i, v := range values {
			out[i] = int(v)
		}
		return out, nil, nil
	case '{':
		var values map[string]backend.Int
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, nil, err
		}
		out := make(map[int64]int, len(values))
		for key, v := range values {
			id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
			if err != nil {
				return nil, nil, err
			}
			out[id] = int(v)
		}
		return nil, out, nil
	default:
		return nil, nil, fmt.Errorf("unexpected quantity shape %q", trimmed[:1])
	}
}
