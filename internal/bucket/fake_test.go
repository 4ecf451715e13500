package bucket

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
)

type stubToy struct {
	name string
	cost int64
}

type stubCatalog map[int64]stubToy

func (c stubCatalog) LookupToy(id int64) (string, int64, bool) {
	toy, ok := c[id]
	return toy.name, toy.cost, ok
}

var testCatalog = stubCatalog{
	1: {name: "Wooden train", cost: 30},
	2: {name: "Puzzle box", cost: 50},
	3: {name: "Robot kit", cost: 120},
	4: {name: "Rattle", cost: 0},
}

// fakeAPI is an in-memory backend bucket with failure injection.
type fakeAPI struct {
	mu        sync.Mutex
	qty       map[int64]int
	calls     []string
	addErrs   []error
	delErrs   []error
	getErr    error
	createErr error
	missing   bool
	created   bool
	addGate   chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{qty: make(map[int64]int)}
}

func (f *fakeAPI) record(call string) {
	f.calls = append(f.calls, call)
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *fakeAPI) Add(ctx context.Context, lines []Line) error {
	f.mu.Lock()
	gate := f.addGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &backend.NetworkError{Method: http.MethodPost, Path: "/v1/bucket/add", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range lines {
		f.record(fmt.Sprintf("add %d x%d", line.ToyID, line.Quantity))
	}
	if err := popErr(&f.addErrs); err != nil {
		return err
	}
	for _, line := range lines {
		f.qty[line.ToyID] += line.Quantity
	}
	return nil
}

func (f *fakeAPI) Delete(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("delete %v", ids))
	if err := popErr(&f.delErrs); err != nil {
		return err
	}
	for _, id := range ids {
		delete(f.qty, id)
	}
	return nil
}

func (f *fakeAPI) Get(context.Context) (Contents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get")
	if f.getErr != nil {
		return Contents{}, f.getErr
	}
	if f.missing && !f.created {
		return Contents{}, &backend.ServerError{Status: http.StatusNotFound, Body: "bucket not found"}
	}
	var contents Contents
	for id, qty := range f.qty {
		toy := testCatalog[id]
		contents.Items = append(contents.Items, Item{ToyID: id, Name: toy.name, UnitTokenCost: toy.cost, Quantity: qty})
	}
	return contents, nil
}

func (f *fakeAPI) Create(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.createErr != nil {
		return f.createErr
	}
	f.created = true
	return nil
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeAPI) backendQty(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qty[id]
}
