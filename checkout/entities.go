package checkout

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

// Movement types recorded in the inventory journal
const (
	MovementTypeDecreased = "decreased"
	MovementTypeIncreased = "increased"
)

// MenuItem is a sellable item of the cafe menu.
type MenuItem struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Category    string          `json:"category" db:"category"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Available   bool            `json:"available" db:"available"`
	ImageURL    string          `json:"image_url,omitempty" db:"image_url"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// RecipeRequirement is the quantity of one ingredient consumed per unit of a
// menu item sold.
type RecipeRequirement struct {
	MenuItemID       string          `json:"menu_item_id" db:"menu_item_id"`
	IngredientID     string          `json:"ingredient_id" db:"ingredient_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required" db:"quantity_required"`
}

// Ingredient is one row of the stock ledger.
type Ingredient struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Unit         string          `json:"unit" db:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock" db:"current_stock"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// InventoryMovement records a single stock change.
type InventoryMovement struct {
	ID             string          `json:"id" db:"id"`
	IngredientID   string          `json:"ingredient_id" db:"ingredient_id"`
	OrderID        string          `json:"order_id,omitempty" db:"order_id"`
	ChangeQuantity decimal.Decimal `json:"change_quantity" db:"change_quantity"`
	MovementType   string          `json:"movement_type" db:"movement_type"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// CartLine is one entry of a cart submitted for checkout. It is never
// persisted on its own.
type CartLine struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// OrderItem is a line of a persisted order, priced at resolution time.
type OrderItem struct {
	MenuItemID string          `json:"menu_item_id" db:"menu_item_id"`
	Quantity   int             `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Subtotal returns unit price times quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the terminal output of a successful checkout.
type Order struct {
	ID          string          `json:"id" db:"id"`
	Status      string          `json:"status" db:"status"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Items       []OrderItem     `json:"items"`
}

// NewOrder builds a pending order whose total is the sum of its item subtotals.
func NewOrder(id string, items []OrderItem, createdAt time.Time) *Order {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}

	return &Order{
		ID:          id,
		Status:      OrderStatusPending,
		TotalAmount: total,
		CreatedAt:   createdAt,
		Items:       items,
	}
}

// Complete moves a pending order to completed.
func (o *Order) Complete() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be completed")
	}

	o.Status = OrderStatusCompleted
	return nil
}

// Fail moves a pending order to failed.
func (o *Order) Fail() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be marked as failed")
	}

	o.Status = OrderStatusFailed
	return nil
}

// Requirement is the aggregated ingredient demand of a whole cart, keyed by
// ingredient id.
type Requirement map[string]decimal.Decimal

// Add sums qty into the total needed for ingredientID.
func (r Requirement) Add(ingredientID string, qty decimal.Decimal) {
	if current, ok := r[ingredientID]; ok {
		r[ingredientID] = current.Add(qty)
		return
	}
	r[ingredientID] = qty
}

// IngredientIDs returns the ingredient ids in ascending order, which is also
// the lock acquisition order.
func (r Requirement) IngredientIDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shortage describes how much of an ingredient a cart is missing.
type Shortage struct {
	IngredientID string          `json:"ingredient_id"`
	Needed       decimal.Decimal `json:"needed"`
	Available    decimal.Decimal `json:"available"`
	Missing      decimal.Decimal `json:"missing"`
}
