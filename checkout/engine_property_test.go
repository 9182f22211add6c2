package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/matheusmosca/cafe-checkout/checkout"
	"github.com/matheusmosca/cafe-checkout/storage/memory"
)

var zeroTime time.Time

// Any batch of concurrent carts either completes or is rejected, stock never
// goes negative, and what left the ledger is exactly what completed orders
// consumed.
func TestSubmitCheckout_StockConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := memory.New()

		ingredients := []string{"beans", "milk", "sugar"}
		initial := make(map[string]decimal.Decimal, len(ingredients))
		for _, id := range ingredients {
			qty := decimal.NewFromInt(int64(rapid.IntRange(0, 30).Draw(rt, "stock_"+id)))
			initial[id] = qty
			if err := store.EnsureIngredient(ctx, &checkout.Ingredient{ID: id, Name: id, Unit: "u", CurrentStock: qty}); err != nil {
				rt.Fatal(err)
			}
		}

		items := []string{"espresso", "latte", "sweet-latte"}
		recipes := map[string][]checkout.RecipeRequirement{}
		for _, item := range items {
			if err := store.UpsertMenuItem(ctx, &checkout.MenuItem{ID: item, Name: item, Price: decimal.NewFromInt(3), Available: true}); err != nil {
				rt.Fatal(err)
			}
			var reqs []checkout.RecipeRequirement
			for _, id := range ingredients {
				if rapid.Bool().Draw(rt, item+"_uses_"+id) {
					reqs = append(reqs, checkout.RecipeRequirement{
						MenuItemID:       item,
						IngredientID:     id,
						QuantityRequired: decimal.NewFromInt(int64(rapid.IntRange(1, 4).Draw(rt, item+"_qty_"+id))),
					})
				}
			}
			if err := store.ReplaceRecipe(ctx, item, reqs); err != nil {
				rt.Fatal(err)
			}
			recipes[item] = reqs
		}

		cartGen := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) checkout.CartLine {
			return checkout.CartLine{
				MenuItemID: rapid.SampledFrom(items).Draw(t, "item"),
				Quantity:   rapid.IntRange(1, 3).Draw(t, "quantity"),
			}
		}), 1, 3)
		carts := rapid.SliceOfN(cartGen, 1, 8).Draw(rt, "carts")

		engine := newEngine(store, checkout.EngineConfig{})
		results := make([]error, len(carts))
		var wg sync.WaitGroup
		for i, cart := range carts {
			wg.Add(1)
			go func(i int, cart []checkout.CartLine) {
				defer wg.Done()
				_, results[i] = engine.SubmitCheckout(ctx, cart)
			}(i, cart)
		}
		wg.Wait()

		consumed := map[string]decimal.Decimal{}
		completed := 0
		for i, err := range results {
			if err != nil {
				if !errors.Is(err, checkout.ErrInsufficientStock) {
					rt.Fatalf("cart %d: unexpected error %v", i, err)
				}
				continue
			}
			completed++
			for _, line := range carts[i] {
				for _, req := range recipes[line.MenuItemID] {
					consumed[req.IngredientID] = consumed[req.IngredientID].Add(req.QuantityRequired.Mul(decimal.NewFromInt(int64(line.Quantity))))
				}
			}
		}

		current, err := store.ListIngredients(ctx)
		if err != nil {
			rt.Fatal(err)
		}
		for _, ingredient := range current {
			if ingredient.CurrentStock.IsNegative() {
				rt.Fatalf("%s went negative: %s", ingredient.ID, ingredient.CurrentStock)
			}
			want := initial[ingredient.ID].Sub(consumed[ingredient.ID])
			if !ingredient.CurrentStock.Equal(want) {
				rt.Fatalf("%s: stock %s, want %s", ingredient.ID, ingredient.CurrentStock, want)
			}
		}

		orders, err := store.ListOrders(ctx, checkout.OrderStatusCompleted, zeroTime, zeroTime)
		if err != nil {
			rt.Fatal(err)
		}
		if len(orders) != completed {
			rt.Fatalf("%d orders persisted, %d checkouts completed", len(orders), completed)
		}
	})
}
