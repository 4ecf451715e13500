package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/bucket"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/catalog"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/checkout"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/ledger"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/idempotency"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/pricing"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/session"
)

type fakeBucketAPI struct {
	mu        sync.Mutex
	qty       map[int64]int
	addErr    error
	deleteErr error
}

func (f *fakeBucketAPI) Add(_ context.Context, lines []bucket.Line) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	for _, l := range lines {
		f.qty[l.ToyID] += l.Quantity
	}
	return nil
}

func (f *fakeBucketAPI) Delete(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, id := range ids {
		delete(f.qty, id)
	}
	return nil
}

func (f *fakeBucketAPI) Get(context.Context) (bucket.Contents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c bucket.Contents
	for id, q := range f.qty {
		c.Items = append(c.Items, bucket.Item{ToyID: id, Quantity: q})
	}
	return c, nil
}

func (f *fakeBucketAPI) Create(context.Context) error { return nil }

func (f *fakeBucketAPI) setErrors(addErr, deleteErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addErr = addErr
	f.deleteErr = deleteErr
}

type stubLedger struct {
	mu           sync.Mutex
	remaining    int64
	refuse       string
	refuseTopUp  string
	err          error
	extractCalls int
	addCalls     int
	tokens       []string
}

func (l *stubLedger) Plans(context.Context) ([]ledger.Plan, error) {
	return []ledger.Plan{{ID: 1, Name: "Basic", Price: 5000, TokenLimit: 100}}, l.err
}

func (l *stubLedger) Subscribe(_ context.Context, planID int64) (ledger.SubscribeResult, error) {
	if planID <= 0 {
		return ledger.SubscribeResult{}, fmt.Errorf("%w: plan id must be positive", backend.ErrValidation)
	}
	return ledger.SubscribeResult{SubscriptionID: 9, Status: "created"}, l.err
}

func (l *stubLedger) Details(context.Context) (ledger.Subscription, error) {
	if l.err != nil {
		return ledger.Subscription{}, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.Subscription{ID: 9, PlanID: 1, RemainingLimit: l.remaining, Status: "active"}, nil
}

func (l *stubLedger) Check(context.Context) (bool, error) { return l.err == nil, l.err }

func (l *stubLedger) ChangePlan(_ context.Context, planID int64) (string, error) {
	if planID <= 0 {
		return "", fmt.Errorf("%w: plan id must be positive", backend.ErrValidation)
	}
	return "changed", l.err
}

func (l *stubLedger) Unsubscribe(context.Context) (string, error) { return "cancelled", l.err }

func (l *stubLedger) Balance(ctx context.Context) (ledger.Balance, error) {
	sub, err := l.Details(ctx)
	if err != nil {
		return ledger.Balance{}, err
	}
	return ledger.Balance{RemainingLimit: sub.RemainingLimit, PlanID: sub.PlanID}, nil
}

func (l *stubLedger) Extract(_ context.Context, amount int64) (ledger.ExtractResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extractCalls++
	if l.refuse != "" {
		return ledger.ExtractResult{Success: false, Remaining: l.remaining, Message: l.refuse}, nil
	}
	l.remaining -= amount
	return ledger.ExtractResult{Success: true, Remaining: l.remaining}, nil
}

func (l *stubLedger) Add(_ context.Context, amount int64) (ledger.AddResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addCalls++
	if l.refuseTopUp != "" {
		return ledger.AddResult{Success: false, Remaining: l.remaining, Message: l.refuseTopUp}, nil
	}
	l.remaining += amount
	return ledger.AddResult{Success: true, Remaining: l.remaining}, nil
}

func (l *stubLedger) counts() (extract, add int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extractCalls, l.addCalls
}

type harnessConfig struct {
	perMinute int
}

type harness struct {
	t        *testing.T
	router   http.Handler
	api      *fakeBucketAPI
	ledger   *stubLedger
	registry *bucket.Registry
	cookie   *http.Cookie
	token    string
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	cat := catalog.Default()
	h := &harness{
		t:      t,
		api:    &fakeBucketAPI{qty: make(map[int64]int)},
		ledger: &stubLedger{remaining: 100},
		token:  "tok-1",
	}

	registry, err := bucket.NewRegistry(bucket.RegistryDeps{
		API:  func(string) bucket.API { return h.api },
		Toys: cat,
	})
	require.NoError(t, err)
	h.registry = registry

	workflow, err := checkout.NewWorkflow(checkout.Deps{Ledger: h.ledger})
	require.NoError(t, err)

	mgr, err := session.NewManager(session.Config{HashKey: []byte("12345678901234567890123456789012")})
	require.NoError(t, err)

	converter, err := pricing.NewConverter(500)
	require.NoError(t, err)

	ledgers := func(token string) Ledger {
		h.ledger.mu.Lock()
		h.ledger.tokens = append(h.ledger.tokens, token)
		h.ledger.mu.Unlock()
		return h.ledger
	}
	guard := idempotency.Middleware(idempotency.NewMemoryStore())

	checkoutHandlers := NewCheckoutHandlers(CheckoutDeps{
		Stores:      registry,
		Ledgers:     ledgers,
		Workflow:    workflow,
		Idempotency: guard,
		PerMinute:   cfg.perMinute,
	})
	ledgerHandlers := NewLedgerHandlers(LedgerDeps{
		Ledgers:     ledgers,
		Pricing:     converter,
		Idempotency: guard,
	})

	h.router = NewRouter(
		WithMiddlewares(session.Middleware(mgr)),
		WithBucketRoutes(NewBucketHandlers(registry, ledgers).Routes),
		WithCatalogRoutes(NewCatalogHandlers(cat).Routes),
		WithSessionRoutes(NewSessionHandlers(registry).Routes),
		WithAdditionalRoutes(checkoutHandlers.Routes),
		WithAdditionalRoutes(ledgerHandlers.Routes),
	)
	return h
}

// do sends a request as the harness shopper, carrying the session cookie between calls.
func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "storefront_session" {
			if c.MaxAge < 0 {
				h.cookie = nil
			} else {
				h.cookie = c
			}
		}
	}
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	require.Equal(t, code, body["error"])
	return body
}

var networkFailure = &backend.NetworkError{Method: http.MethodPost, Path: "/v1/bucket/add", Err: fmt.Errorf("dial tcp: connection refused")}

