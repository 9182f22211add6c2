package seed

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/cafe-checkout/checkout"
	"github.com/matheusmosca/cafe-checkout/storage/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDefault(t *testing.T) {
	file, err := Default()

	require.NoError(t, err)
	assert.Len(t, file.Menu, 10)
	assert.NotEmpty(t, file.Ingredients)
	for _, item := range file.Menu {
		assert.NotEmpty(t, item.Recipe, "menu item %s has no recipe", item.ID)
	}
}

func TestApply_ProvisionsEmptyStore(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := memory.New()
	file, err := Default()
	require.NoError(t, err)

	// Act
	err = Apply(ctx, store, file, discard())

	// Assert
	require.NoError(t, err)

	menu, err := store.ListMenuItems(ctx)
	require.NoError(t, err)
	assert.Len(t, menu, 10)

	recipes, err := store.GetRecipes(ctx, []string{"latte"})
	require.NoError(t, err)
	require.Len(t, recipes["latte"], 2)
	assert.Equal(t, "espresso_beans", recipes["latte"][0].IngredientID)
	assert.True(t, recipes["latte"][1].QuantityRequired.Equal(decimal.NewFromInt(240)))
}

func TestApply_KeepsStockAndRecipes(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := memory.New()
	file, err := Default()
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, store, file, discard()))

	engine := checkout.NewEngine(store, checkout.EngineConfig{Logger: discard()})
	_, err = engine.SubmitCheckout(ctx, []checkout.CartLine{{MenuItemID: "croissant", Quantity: 3}})
	require.NoError(t, err)
	require.NoError(t, engine.Catalog().ReplaceRecipe(ctx, "croissant", []checkout.RecipeRequirement{
		{IngredientID: "croissant_dough", QuantityRequired: decimal.NewFromInt(2)},
	}))

	// Act
	err = Apply(ctx, store, file, discard())

	// Assert
	require.NoError(t, err)

	ingredients, err := store.ListIngredients(ctx)
	require.NoError(t, err)
	for _, ingredient := range ingredients {
		if ingredient.ID == "croissant_dough" {
			assert.True(t, ingredient.CurrentStock.Equal(decimal.NewFromInt(37)))
		}
	}

	recipes, err := store.GetRecipes(ctx, []string{"croissant"})
	require.NoError(t, err)
	assert.True(t, recipes["croissant"][0].QuantityRequired.Equal(decimal.NewFromInt(2)))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "ingredients:\n  - id: x\n    colour: red\n",
			want: "colour",
		},
		{
			name: "duplicate ingredient",
			doc:  "ingredients:\n  - {id: x, stock: \"1\"}\n  - {id: x, stock: \"1\"}\n",
			want: "duplicate ingredient",
		},
		{
			name: "negative stock",
			doc:  "ingredients:\n  - {id: x, stock: \"-1\"}\n",
			want: "negative stock",
		},
		{
			name: "unknown recipe ingredient",
			doc:  "menu:\n  - id: a\n    price: \"1\"\n    recipe:\n      - {ingredient: x, quantity: \"1\"}\n",
			want: "unknown ingredient",
		},
		{
			name: "zero quantity",
			doc:  "ingredients:\n  - {id: x}\nmenu:\n  - id: a\n    price: \"1\"\n    recipe:\n      - {ingredient: x, quantity: \"0\"}\n",
			want: "positive quantity",
		},
		{
			name: "bad price",
			doc:  "menu:\n  - {id: a, price: cheap}\n",
			want: "price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))

			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	doc := "ingredients:\n  - {id: x, name: X, unit: count, stock: \"4\"}\nmenu:\n  - id: a\n    name: A\n    price: \"2.25\"\n    available: false\n    recipe:\n      - {ingredient: x, quantity: \"1\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	file, err := LoadFile(path)
	require.NoError(t, err)

	store := memory.New()
	require.NoError(t, Apply(context.Background(), store, file, discard()))

	items, err := store.GetMenuItems(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.False(t, items["a"].Available)
	assert.Equal(t, "2.25", items["a"].Price.StringFixed(2))
}

func TestLoad_Empty(t *testing.T) {
	file, err := Load(strings.NewReader(""))

	require.NoError(t, err)
	assert.Empty(t, file.Menu)
}
