package bucket

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
)

var (
	// ErrValidation reports bad input, such as a quantity below one, an unknown toy or a bucket
	// whose totals would not fit in an int64.
	ErrValidation = errors.New("bucket: invalid input")
	// ErrNotFound reports an operation on a toy that is not in the bucket.
	ErrNotFound = errors.New("bucket: item not found")
	// ErrDetached reports that the store was closed; results arriving afterwards are discarded.
	ErrDetached = errors.New("bucket: store detached")

	errAPIRequired = errors.New("bucket: api is required")
)

// Item is one toy line in the bucket.
type Item struct {
	ToyID         int64  `json:"toy_id"`
	Name          string `json:"name"`
	UnitTokenCost int64  `json:"unit_token_cost"`
	Quantity      int    `json:"quantity"`
}

// Snapshot is an immutable copy of the bucket with derived totals.
type Snapshot struct {
	Items      []Item `json:"items"`
	TotalCost  int64  `json:"total_cost"`
	TotalItems int    `json:"total_items"`
}

// Empty reports whether the bucket holds no items.
func (s Snapshot) Empty() bool {
	return len(s.Items) == 0
}

// ToyIDs lists the ids in the snapshot.
func (s Snapshot) ToyIDs() []int64 {
	ids := make([]int64, 0, len(s.Items))
	for _, item := range s.Items {
		ids = append(ids, item.ToyID)
	}
	return ids
}

// Validate recomputes the totals from the lines and reports a snapshot that does not add up.
func (s Snapshot) Validate() error {
	for _, item := range s.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: toy %d has quantity %d", ErrValidation, item.ToyID, item.Quantity)
		}
	}
	cost, count, err := totals(s.Items)
	if err != nil {
		return err
	}
	if cost != s.TotalCost || count != s.TotalItems {
		return fmt.Errorf("%w: totals %d/%d do not match lines %d/%d", ErrValidation, s.TotalCost, s.TotalItems, cost, count)
	}
	return nil
}

// lineCost is unit times quantity, failing when either is negative or the product overflows.
func lineCost(unit int64, quantity int) (int64, error) {
	if unit < 0 || quantity < 0 {
		return 0, fmt.Errorf("%w: negative cost %d or quantity %d", ErrValidation, unit, quantity)
	}
	q := int64(quantity)
	if unit != 0 && q > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: %d units at %d tokens overflows", ErrValidation, q, unit)
	}
	return unit * q, nil
}

func addQuantity(a, b int) (int, error) {
	if b > math.MaxInt-a {
		return 0, fmt.Errorf("%w: quantity %d + %d overflows", ErrValidation, a, b)
	}
	return a + b, nil
}

// totals sums cost and quantity over items with overflow checks.
func totals(items []Item) (int64, int, error) {
	var (
		cost  int64
		count int
	)
	for _, item := range items {
		line, err := lineCost(item.UnitTokenCost, item.Quantity)
		if err != nil {
			return 0, 0, err
		}
		if line > math.MaxInt64-cost {
			return 0, 0, fmt.Errorf("%w: bucket total overflows at toy %d", ErrValidation, item.ToyID)
		}
		cost += line
		if count, err = addQuantity(count, item.Quantity); err != nil {
			return 0, 0, err
		}
	}
	return cost, count, nil
}

// ToyLookup prices toys for the bucket. The catalog implements it.
type ToyLookup interface {
	LookupToy(id int64) (name string, unitTokenCost int64, ok bool)
}

// StoreDeps wires a Store.
type StoreDeps struct {
	API    API
	Toys   ToyLookup
	Logger *zap.Logger
	Clock  func() time.Time
}

// Store owns one session's bucket. Mutations go to the backend first and are applied locally
// only after the backend acknowledges them. One mutation runs at a time; reads never wait on
// the network.
type Store struct {
	api    API
	toys   ToyLookup
	logger *zap.Logger
	now    func() time.Time

	// writer is a one-slot semaphore held for the whole remote round trip of a mutation.
	writer chan struct{}

	mu       sync.RWMutex
	items    map[int64]Item
	loaded   bool
	detached bool

	lastUsed atomic.Int64
}

// NewStore constructs an empty, unloaded Store.
func NewStore(deps StoreDeps) (*Store, error) {
	if deps.API == nil {
		return nil, errAPIRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Store{
		api:    deps.API,
		toys:   deps.Toys,
		logger: logger,
		now:    clock,
		writer: make(chan struct{}, 1),
		items:  make(map[int64]Item),
	}
	s.touch()
	return s, nil
}

func (s *Store) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

// LastUsed reports when the store last served an operation.
func (s *Store) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Store) acquire(ctx context.Context) error {
	s.touch()
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("bucket: waiting for pending change: %w", ctx.Err())
	}
	if s.isDetached() {
		s.release()
		return ErrDetached
	}
	return nil
}

func (s *Store) release() {
	<-s.writer
}

func (s *Store) isDetached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detached
}

// commit applies a backend-acknowledged change unless the store has been closed meanwhile.
func (s *Store) commit(apply func(items map[int64]Item)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return ErrDetached
	}
	apply(s.items)
	return nil
}

// Close detaches the store. In-flight backend calls still complete, but their results are
// dropped and every later operation fails with ErrDetached.
func (s *Store) Close() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Loaded reports whether the store has been synchronised with the backend at least once.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Snapshot returns an immutable view of the bucket.
func (s *Store) Snapshot() Snapshot {
	s.touch()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.items)
}

// snapshotOf sums without checks: every path that writes items has already run totals over
// the result.
func snapshotOf(items map[int64]Item) Snapshot {
	snap := Snapshot{Items: make([]Item, 0, len(items))}
	for _, item := range items {
		snap.Items = append(snap.Items, item)
		snap.TotalCost += item.UnitTokenCost * int64(item.Quantity)
		snap.TotalItems += item.Quantity
	}
	sort.Slice(snap.Items, func(i, j int) bool { return snap.Items[i].ToyID < snap.Items[j].ToyID })
	return snap
}

// Load fetches the remembered server-side bucket. A bucket the backend does not know yet is
// created and starts empty.
func (s *Store) Load(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.loadLocked(ctx)
}

// EnsureLoaded loads the bucket unless an earlier Load already succeeded.
func (s *Store) EnsureLoaded(ctx context.Context) error {
	if s.Loaded() {
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	if s.Loaded() {
		return nil
	}
	return s.loadLocked(ctx)
}

// Refresh replaces local state with the backend's bucket. Callers use it to reconcile after a
// checkout reported a reconciliation warning.
func (s *Store) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	contents, err := s.api.Get(ctx)
	if backend.IsNotFound(err) {
		if err := s.api.Create(ctx); err != nil {
			return err
		}
		contents, err = Contents{}, nil
	}
	if err != nil {
		return err
	}

	// Lines are priced from the catalog, as in Add. A toy the catalog cannot price stays on the
	// backend but is left out of the local view, so it can never check out for free.
	fresh := make(map[int64]Item, len(contents.Items))
	for _, item := range contents.Items {
		if item.ToyID <= 0 || item.Quantity < 1 {
			continue
		}
		name, cost, ok := s.lookup(item.ToyID)
		if !ok || cost < 0 {
			s.logger.Warn("skipping bucket line the catalog cannot price", zap.Int64("toy_id", item.ToyID), zap.Int("quantity", item.Quantity))
			continue
		}
		if item.Name == "" {
			item.Name = name
		}
		item.UnitTokenCost = cost
		if existing, ok := fresh[item.ToyID]; ok {
			if existing.Quantity, err = addQuantity(existing.Quantity, item.Quantity); err != nil {
				return err
			}
			fresh[item.ToyID] = existing
			continue
		}
		fresh[item.ToyID] = item
	}
	lines := make([]Item, 0, len(fresh))
	for _, item := range fresh {
		lines = append(lines, item)
	}
	if _, _, err := totals(lines); err != nil {
		return fmt.Errorf("bucket: backend contents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return ErrDetached
	}
	s.items = fresh
	s.loaded = true
	return nil
}

func (s *Store) lookup(toyID int64) (string, int64, bool) {
	if s.toys == nil {
		return "", 0, false
	}
	return s.toys.LookupToy(toyID)
}

// checkWith reports whether the bucket would still have representable totals with next in
// place of its current line. Callers hold the writer slot.
func (s *Store) checkWith(next Item) error {
	s.mu.RLock()
	lines := make([]Item, 0, len(s.items)+1)
	for id, item := range s.items {
		if id != next.ToyID {
			lines = append(lines, item)
		}
	}
	s.mu.RUnlock()
	_, _, err := totals(append(lines, next))
	return err
}

// Add puts quantity units of toyID into the bucket, accumulating onto an existing line.
func (s *Store) Add(ctx context.Context, toyID int64, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", ErrValidation, quantity)
	}
	name, cost, ok := s.lookup(toyID)
	if !ok {
		return fmt.Errorf("%w: unknown toy %d", ErrValidation, toyID)
	}
	if cost < 0 {
		return fmt.Errorf("%w: toy %d has a negative token cost", ErrValidation, toyID)
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.RLock()
	current, exists := s.items[toyID]
	s.mu.RUnlock()
	next := Item{ToyID: toyID, Name: name, UnitTokenCost: cost, Quantity: quantity}
	if exists {
		total, err := addQuantity(current.Quantity, quantity)
		if err != nil {
			return err
		}
		next.Quantity = total
	}
	if err := s.checkWith(next); err != nil {
		return err
	}

	if err := s.api.Add(ctx, []Line{{ToyID: toyID, Quantity: quantity}}); err != nil {
		return err
	}
	return s.commit(func(items map[int64]Item) {
		items[toyID] = next
	})
}

// Remove drops every listed toy that is present. Ids not in the bucket are ignored, and when
// none are present no backend call is made.
func (s *Store) Remove(ctx context.Context, toyIDs ...int64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.removeLocked(ctx, toyIDs)
}

func (s *Store) removeLocked(ctx context.Context, toyIDs []int64) error {
	present := s.presentIDs(toyIDs)
	if len(present) == 0 {
		return nil
	}
	if err := s.api.Delete(ctx, present); err != nil {
		return err
	}
	return s.commit(func(items map[int64]Item) {
		for _, id := range present {
			delete(items, id)
		}
	})
}

func (s *Store) presentIDs(toyIDs []int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{}, len(toyIDs))
	present := make([]int64, 0, len(toyIDs))
	for _, id := range toyIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.items[id]; ok {
			present = append(present, id)
		}
	}
	return present
}

// UpdateQuantity sets the quantity of a toy already in the bucket. A quantity of zero or less
// removes it.
//
// The backend has no update endpoint. An increase adds the difference. A decrease deletes the
// line and adds it back with the new quantity; if the second step fails the original quantity
// is restored, and if that fails too the store re-syncs from the backend. The first error is
// returned in every failure case.
func (s *Store) UpdateQuantity(ctx context.Context, toyID int64, quantity int) error {
	if quantity <= 0 {
		return s.Remove(ctx, toyID)
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.RLock()
	current, ok := s.items[toyID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: toy %d", ErrNotFound, toyID)
	}
	next := current
	next.Quantity = quantity
	if err := s.checkWith(next); err != nil {
		return err
	}

	switch {
	case quantity == current.Quantity:
		return nil
	case quantity > current.Quantity:
		if err := s.api.Add(ctx, []Line{{ToyID: toyID, Quantity: quantity - current.Quantity}}); err != nil {
			return err
		}
	default:
		if err := s.api.Delete(ctx, []int64{toyID}); err != nil {
			return err
		}
		if err := s.api.Add(ctx, []Line{{ToyID: toyID, Quantity: quantity}}); err != nil {
			s.restore(ctx, current, err)
			return err
		}
	}

	return s.commit(func(items map[int64]Item) {
		items[toyID] = next
	})
}

func (s *Store) restore(ctx context.Context, original Item, cause error) {
	logger := s.logger.With(zap.Int64("toy_id", original.ToyID), zap.NamedError("cause", cause))
	err := s.api.Add(ctx, []Line{{ToyID: original.ToyID, Quantity: original.Quantity}})
	if err == nil {
		return
	}
	logger.Warn("bucket quantity restore failed; resyncing", zap.Error(err))
	if err := s.loadLocked(ctx); err != nil {
		logger.Error("bucket resync failed", zap.Error(err))
		// The delete went through, so the line is gone on the backend as far as we know.
		_ = s.commit(func(items map[int64]Item) { delete(items, original.ToyID) })
	}
}

// Clear empties the bucket on the backend and then locally. The backend's contents are read
// first, so lines this store has not seen yet are deleted too.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	contents, err := s.api.Get(ctx)
	if err != nil && !backend.IsNotFound(err) {
		return err
	}
	seen := make(map[int64]struct{}, len(contents.Items))
	ids := make([]int64, 0, len(contents.Items))
	collect := func(id int64) {
		if _, dup := seen[id]; dup || id <= 0 {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, item := range contents.Items {
		collect(item.ToyID)
	}
	s.mu.RLock()
	for id := range s.items {
		collect(id)
	}
	s.mu.RUnlock()

	if len(ids) > 0 {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := s.api.Delete(ctx, ids); err != nil {
			return err
		}
	}
	return s.commit(func(items map[int64]Item) {
		for id := range items {
			delete(items, id)
		}
	})
}

func (s *Store) clearLocked(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return s.removeLocked(ctx, ids)
}

// Txn is an exclusive hold on the store. No other mutation runs until Release.
type Txn struct {
	store *Store
	once  sync.Once
}

// Begin waits for the writer slot and returns a hold on it.
func (s *Store) Begin(ctx context.Context) (*Txn, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	return &Txn{store: s}, nil
}

// Snapshot returns the bucket as seen under the hold.
func (t *Txn) Snapshot() Snapshot {
	return t.store.Snapshot()
}

// Clear deletes the lines the store holds without giving up the hold.
func (t *Txn) Clear(ctx context.Context) error {
	return t.store.clearLocked(ctx)
}

// Release gives up the hold. It is safe to call more than once.
func (t *Txn) Release() {
	t.once.Do(t.store.release)
}
