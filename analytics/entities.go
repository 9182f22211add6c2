package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTopItems is the number of popular items reported when the caller
// does not ask for a specific count.
const DefaultTopItems = 5

// DateRange selects orders created in [From, To). A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls in the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// ItemPopularity is how much of one menu item completed orders sold.
type ItemPopularity struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// Summary is derived from completed orders only.
type Summary struct {
	From                time.Time        `json:"from,omitzero"`
	To                  time.Time        `json:"to,omitzero"`
	TotalRevenue        decimal.Decimal  `json:"total_revenue"`
	CompletedOrderCount int              `json:"completed_order_count"`
	AverageOrderValue   decimal.Decimal  `json:"average_order_value"`
	TopItems            []ItemPopularity `json:"top_items"`
}
