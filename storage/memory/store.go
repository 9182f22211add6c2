// Package memory is an in-process checkout.Store. Ingredient rows are locked
// individually and in ascending id order, and every write is staged on the
// transaction until Commit, so a rolled back attempt leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

var (
	ErrTxDone      = errors.New("transaction already committed or rolled back")
	ErrForeignTx   = errors.New("transaction belongs to another store")
	ErrNotLocked   = errors.New("ingredient is not locked by this transaction")
	ErrNegativeRow = errors.New("current_stock must not be negative")
)

// Store keeps the catalog, ledger and orders in process memory.
type Store struct {
	mu          sync.RWMutex
	menu        map[string]*checkout.MenuItem
	recipes     map[string][]checkout.RecipeRequirement
	ingredients map[string]*checkout.Ingredient
	movements   []*checkout.InventoryMovement
	orders      map[string]*checkout.Order
	orderIDs    []string

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		menu:        make(map[string]*checkout.MenuItem),
		recipes:     make(map[string][]checkout.RecipeRequirement),
		ingredients: make(map[string]*checkout.Ingredient),
		orders:      make(map[string]*checkout.Order),
		locks:       make(map[string]chan struct{}),
		now:         time.Now,
	}
}

var _ checkout.Store = (*Store)(nil)

type tx struct {
	store *Store
	ctx   context.Context

	mu        sync.Mutex
	done      bool
	held      map[string]chan struct{}
	stock     map[string]decimal.Decimal
	movements []*checkout.InventoryMovement
	orders    []*checkout.Order
}

func (s *Store) BeginTx(ctx context.Context) (checkout.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		store: s,
		ctx:   ctx,
		held:  make(map[string]chan struct{}),
		stock: make(map[string]decimal.Decimal),
	}, nil
}

// Commit publishes the staged writes and releases every row lock. It fails,
// and rolls back, when the context the transaction began with is done.
func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()

	if err := t.ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, stock := range t.stock {
		ingredient, ok := s.ingredients[id]
		if !ok {
			return fmt.Errorf("commit: %w: %s", checkout.ErrIngredientNotFound, id)
		}
		updated := *ingredient
		updated.CurrentStock = stock
		updated.UpdatedAt = now
		s.ingredients[id] = &updated
	}
	s.movements = append(s.movements, t.movements...)
	for _, order := range t.orders {
		s.orders[order.ID] = order
		s.orderIDs = append(s.orderIDs, order.ID)
	}
	return nil
}

// Rollback discards the staged writes. Rolling back a finished transaction is
// a no-op.
func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

func (t *tx) release() {
	for id, lock := range t.held {
		<-lock
		delete(t.held, id)
	}
	t.stock = nil
	t.movements = nil
	t.orders = nil
}

func (s *Store) txOf(v checkout.Tx) (*tx, error) {
	t, ok := v.(*tx)
	if !ok || t.store != s {
		return nil, ErrForeignTx
	}
	return t, nil
}

func (s *Store) lockFor(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[id] = lock
	}
	return lock
}

// GetIngredientsForUpdate takes the row lock of every known id in ascending
// order. Locks already held by t are not taken again. Waiting for a lock
// gives up when ctx is done.
func (s *Store) GetIngredientsForUpdate(ctx context.Context, v checkout.Tx, ids []string) (map[string]*checkout.Ingredient, error) {
	t, err := s.txOf(v)
	if err != nil {
		return nil, err
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}

	result := make(map[string]*checkout.Ingredient, len(sorted))
	for _, id := range sorted {
		if _, ok := result[id]; ok {
			continue
		}

		s.mu.RLock()
		_, exists := s.ingredients[id]
		s.mu.RUnlock()
		if !exists {
			continue
		}

		if _, ok := t.held[id]; !ok {
			lock := s.lockFor(id)
			select {
			case lock <- struct{}{}:
				t.held[id] = lock
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		s.mu.RLock()
		ingredient := *s.ingredients[id]
		s.mu.RUnlock()
		if staged, ok := t.stock[id]; ok {
			ingredient.CurrentStock = staged
		}
		result[id] = &ingredient
	}

	return result, nil
}

func (s *Store) UpdateStock(ctx context.Context, v checkout.Tx, ingredientID string, newStock decimal.Decimal, movement *checkout.InventoryMovement) error {
	t, err := s.txOf(v)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	if _, ok := t.held[ingredientID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotLocked, ingredientID)
	}
	if newStock.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeRow, ingredientID)
	}

	t.stock[ingredientID] = newStock
	if movement != nil {
		m := *movement
		t.movements = append(t.movements, &m)
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, v checkout.Tx, order *checkout.Order) error {
	t, err := s.txOf(v)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}

	s.mu.RLock()
	_, exists := s.orders[order.ID]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	for _, staged := range t.orders {
		if staged.ID == order.ID {
			return fmt.Errorf("order %s already exists", order.ID)
		}
	}

	t.orders = append(t.orders, copyOrder(order))
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*checkout.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, checkout.ErrNotFound
	}
	return copyOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, status string, from, to time.Time) ([]*checkout.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []*checkout.Order
	for _, id := range s.orderIDs {
		order := s.orders[id]
		if status != "" && order.Status != status {
			continue
		}
		if !from.IsZero() && order.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !order.CreatedAt.Before(to) {
			continue
		}
		orders = append(orders, copyOrder(order))
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *Store) ListIngredients(_ context.Context) ([]*checkout.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ingredients := make([]*checkout.Ingredient, 0, len(s.ingredients))
	for _, ingredient := range s.ingredients {
		i := *ingredient
		ingredients = append(ingredients, &i)
	}
	sort.Slice(ingredients, func(i, j int) bool { return ingredients[i].ID < ingredients[j].ID })
	return ingredients, nil
}

// ListMovements returns the newest movements first. An empty ingredientID
// lists every ingredient; limit <= 0 means no limit.
func (s *Store) ListMovements(_ context.Context, ingredientID string, limit int) ([]*checkout.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var movements []*checkout.InventoryMovement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if ingredientID != "" && m.IngredientID != ingredientID {
			continue
		}
		c := *m
		movements = append(movements, &c)
		if limit > 0 && len(movements) == limit {
			break
		}
	}
	return movements, nil
}

func (s *Store) ListMenuItems(_ context.Context) ([]*checkout.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*checkout.MenuItem, 0, len(s.menu))
	for _, item := range s.menu {
		i := *item
		items = append(items, &i)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (s *Store) GetMenuItems(_ context.Context, ids []string) (map[string]*checkout.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make(map[string]*checkout.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := s.menu[id]; ok {
			i := *item
			items[id] = &i
		}
	}
	return items, nil
}

func (s *Store) GetRecipes(_ context.Context, menuItemIDs []string) (map[string][]checkout.RecipeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipes := make(map[string][]checkout.RecipeRequirement, len(menuItemIDs))
	for _, id := range menuItemIDs {
		if reqs := s.recipes[id]; len(reqs) > 0 {
			recipes[id] = append([]checkout.RecipeRequirement(nil), reqs...)
		}
	}
	return recipes, nil
}

func (s *Store) ReplaceRecipe(_ context.Context, menuItemID string, requirements []checkout.RecipeRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.menu[menuItemID]; !ok {
		return checkout.ErrNotFound
	}
	for _, req := range requirements {
		if _, ok := s.ingredients[req.IngredientID]; !ok {
			return fmt.Errorf("%w: %s", checkout.ErrIngredientNotFound, req.IngredientID)
		}
	}

	if len(requirements) == 0 {
		delete(s.recipes, menuItemID)
		return nil
	}
	s.recipes[menuItemID] = append([]checkout.RecipeRequirement(nil), requirements...)
	return nil
}

// EnsureIngredient inserts ingredient if it is unknown. An existing row keeps
// its stock and only takes the new name and unit.
func (s *Store) EnsureIngredient(_ context.Context, ingredient *checkout.Ingredient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.ingredients[ingredient.ID]; ok {
		updated := *existing
		updated.Name = ingredient.Name
		updated.Unit = ingredient.Unit
		s.ingredients[ingredient.ID] = &updated
		return nil
	}

	if ingredient.CurrentStock.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeRow, ingredient.ID)
	}
	i := *ingredient
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = s.now()
	}
	s.ingredients[i.ID] = &i
	return nil
}

func (s *Store) UpsertMenuItem(_ context.Context, item *checkout.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	i := *item
	if existing, ok := s.menu[item.ID]; ok {
		i.CreatedAt = existing.CreatedAt
	} else if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	s.menu[i.ID] = &i
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copyOrder(order *checkout.Order) *checkout.Order {
	o := *order
	o.Items = append([]checkout.OrderItem(nil), order.Items...)
	return &o
}
