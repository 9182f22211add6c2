package checkout

import (
	"github.com/shopspring/decimal"
)

// Resolution is the output of the cart resolver: the aggregated ingredient
// requirement and the priced line items of the future order.
type Resolution struct {
	Requirement Requirement
	Items       []OrderItem
}

// Resolve expands cart lines into an aggregated requirement using only the
// snapshot. It has no side effects.
//
// Requirements are summed per ingredient across every line, so two lines
// sharing an ingredient are checked against stock together.
func Resolve(snapshot *CatalogSnapshot, lines []CartLine) (*Resolution, error) {
	if len(lines) == 0 {
		return nil, &RejectedError{Reason: ReasonInvalidQuantity, Line: -1}
	}

	resolution := &Resolution{
		Requirement: Requirement{},
		Items:       make([]OrderItem, 0, len(lines)),
	}

	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, &RejectedError{Reason: ReasonInvalidQuantity, Line: i, MenuItemID: line.MenuItemID}
		}

		item, ok := snapshot.MenuItem(line.MenuItemID)
		if !ok || !item.Available {
			return nil, &RejectedError{Reason: ReasonInvalidItem, Line: i, MenuItemID: line.MenuItemID}
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, req := range snapshot.RequirementsFor(line.MenuItemID) {
			resolution.Requirement.Add(req.IngredientID, req.QuantityRequired.Mul(qty))
		}

		resolution.Items = append(resolution.Items, OrderItem{
			MenuItemID: item.ID,
			Quantity:   line.Quantity,
			UnitPrice:  item.Price,
		})
	}

	return resolution, nil
}

// MenuItemIDs returns the menu item ids referenced by lines.
func MenuItemIDs(lines []CartLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.MenuItemID)
	}
	return ids
}
