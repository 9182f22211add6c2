package postgres

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

// testStore connects to CHECKOUT_TEST_DATABASE_URL. Every test works on its
// own ids so runs can share a database.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CHECKOUT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHECKOUT_TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.DiscardHandler)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn, 5, logger)
	require.NoError(t, err)

	store := New(pool, logger)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CheckoutRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	beans, item := "beans-"+suffix, "espresso-"+suffix

	require.NoError(t, store.EnsureIngredient(ctx, &checkout.Ingredient{ID: beans, Name: "Beans", Unit: "g", CurrentStock: decimal.NewFromInt(40)}))
	require.NoError(t, store.UpsertMenuItem(ctx, &checkout.MenuItem{ID: item, Name: "Espresso", Category: "coffee", Price: decimal.RequireFromString("2.50"), Available: true}))
	require.NoError(t, store.ReplaceRecipe(ctx, item, []checkout.RecipeRequirement{{MenuItemID: item, IngredientID: beans, QuantityRequired: decimal.NewFromInt(18)}}))

	engine := checkout.NewEngine(store, checkout.EngineConfig{Logger: slog.New(slog.DiscardHandler)})

	order, err := engine.SubmitCheckout(ctx, []checkout.CartLine{{MenuItemID: item, Quantity: 2}})
	require.NoError(t, err)

	persisted, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", persisted.TotalAmount.StringFixed(2))
	require.Len(t, persisted.Items, 1)

	_, err = engine.SubmitCheckout(ctx, []checkout.CartLine{{MenuItemID: item, Quantity: 1}})
	assert.ErrorIs(t, err, checkout.ErrInsufficientStock)

	movements, err := store.ListMovements(ctx, beans, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, order.ID, movements[0].OrderID)
}

func TestStore_ConcurrentCheckoutsSerialize(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	x, a := "x-"+suffix, "a-"+suffix

	require.NoError(t, store.EnsureIngredient(ctx, &checkout.Ingredient{ID: x, Name: "X", Unit: "count", CurrentStock: decimal.NewFromInt(5)}))
	require.NoError(t, store.UpsertMenuItem(ctx, &checkout.MenuItem{ID: a, Name: "A", Price: decimal.NewFromInt(1), Available: true}))
	require.NoError(t, store.ReplaceRecipe(ctx, a, []checkout.RecipeRequirement{{MenuItemID: a, IngredientID: x, QuantityRequired: decimal.NewFromInt(3)}}))

	engine := checkout.NewEngine(store, checkout.EngineConfig{Logger: slog.New(slog.DiscardHandler)})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.SubmitCheckout(ctx, []checkout.CartLine{{MenuItemID: a, Quantity: 1}})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, checkout.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	rows, err := store.GetIngredientsForUpdate(ctx, tx, []string{x})
	require.NoError(t, err)
	assert.True(t, rows[x].CurrentStock.Equal(decimal.NewFromInt(2)))
}

func TestStore_ReplaceRecipeUnknownIngredient(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	item := "item-" + uuid.NewString()[:8]
	require.NoError(t, store.UpsertMenuItem(ctx, &checkout.MenuItem{ID: item, Name: "Item", Price: decimal.NewFromInt(1), Available: true}))

	err := store.ReplaceRecipe(ctx, item, []checkout.RecipeRequirement{{IngredientID: "missing-" + item, QuantityRequired: decimal.NewFromInt(1)}})
	assert.ErrorIs(t, err, checkout.ErrIngredientNotFound)

	assert.ErrorIs(t, store.ReplaceRecipe(ctx, "missing-"+item, nil), checkout.ErrNotFound)
}

func TestStore_QuantitiesKeepFullPrecision(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	saffron, item := "saffron-"+suffix, "saffron-latte-"+suffix
	logger := slog.New(slog.DiscardHandler)

	require.NoError(t, store.EnsureIngredient(ctx, &checkout.Ingredient{ID: saffron, Name: "Saffron", Unit: "g", CurrentStock: decimal.RequireFromString("1")}))
	require.NoError(t, store.UpsertMenuItem(ctx, &checkout.MenuItem{ID: item, Name: "Saffron Latte", Price: decimal.NewFromInt(6), Available: true}))

	ledger := checkout.NewLedger(store, logger, nil, 0)
	restocked, err := ledger.Restock(ctx, saffron, decimal.RequireFromString("0.0004"))
	require.NoError(t, err)

	rows, err := store.ListIngredients(ctx)
	require.NoError(t, err)
	var stored decimal.Decimal
	for _, ingredient := range rows {
		if ingredient.ID == saffron {
			stored = ingredient.CurrentStock
		}
	}
	assert.True(t, stored.Equal(decimal.RequireFromString("1.0004")), stored.String())
	assert.True(t, stored.Equal(restocked.CurrentStock))

	movements, err := store.ListMovements(ctx, saffron, 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.True(t, movements[0].ChangeQuantity.Equal(decimal.RequireFromString("0.0004")))

	require.NoError(t, store.ReplaceRecipe(ctx, item, []checkout.RecipeRequirement{{MenuItemID: item, IngredientID: saffron, QuantityRequired: decimal.RequireFromString("0.0002")}}))
	recipes, err := store.GetRecipes(ctx, []string{item})
	require.NoError(t, err)
	require.Len(t, recipes[item], 1)
	assert.True(t, recipes[item][0].QuantityRequired.Equal(decimal.RequireFromString("0.0002")))
}
