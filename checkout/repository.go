package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tx is an open storage transaction. Every stock and order write happens
// inside one.
type Tx interface {
	Commit() error
	Rollback() error
}

// CatalogRepository reads menu items and recipes. Reads are not locked;
// callers accept that a concurrent admin edit applies to a later attempt.
type CatalogRepository interface {
	ListMenuItems(ctx context.Context) ([]*MenuItem, error)
	GetMenuItems(ctx context.Context, ids []string) (map[string]*MenuItem, error)
	// GetRecipes returns the requirements of each menu item in recipe order.
	// Items without requirements are absent from the map.
	GetRecipes(ctx context.Context, menuItemIDs []string) (map[string][]RecipeRequirement, error)
	ReplaceRecipe(ctx context.Context, menuItemID string, requirements []RecipeRequirement) error
}

// LedgerRepository is the storage side of the ingredient ledger.
type LedgerRepository interface {
	BeginTx(ctx context.Context) (Tx, error)

	// GetIngredientsForUpdate locks the named rows for the rest of tx, in
	// ascending id order. Unknown ids are absent from the result.
	GetIngredientsForUpdate(ctx context.Context, tx Tx, ids []string) (map[string]*Ingredient, error)

	// UpdateStock writes the new stock of one locked ingredient and records
	// the movement that produced it.
	UpdateStock(ctx context.Context, tx Tx, ingredientID string, newStock decimal.Decimal, movement *InventoryMovement) error

	ListIngredients(ctx context.Context) ([]*Ingredient, error)
	ListMovements(ctx context.Context, ingredientID string, limit int) ([]*InventoryMovement, error)
}

// OrderRepository persists orders.
type OrderRepository interface {
	CreateOrder(ctx context.Context, tx Tx, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// ListOrders returns orders with the given status created in [from, to).
	// A zero bound is unbounded.
	ListOrders(ctx context.Context, status string, from, to time.Time) ([]*Order, error)
}

// SeedRepository provisions catalog and ledger rows. EnsureIngredient never
// changes the stock of an ingredient that already exists.
type SeedRepository interface {
	EnsureIngredient(ctx context.Context, ingredient *Ingredient) error
	UpsertMenuItem(ctx context.Context, item *MenuItem) error
}

// Store is everything a storage backend provides.
type Store interface {
	CatalogRepository
	LedgerRepository
	OrderRepository
	SeedRepository
	Ping(ctx context.Context) error
	Close() error
}
