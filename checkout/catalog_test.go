package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) ListMenuItems(ctx context.Context) ([]*MenuItem, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]*MenuItem)
	return items, args.Error(1)
}

func (m *MockCatalogRepository) GetMenuItems(ctx context.Context, ids []string) (map[string]*MenuItem, error) {
	args := m.Called(ctx, ids)
	items, _ := args.Get(0).(map[string]*MenuItem)
	return items, args.Error(1)
}

func (m *MockCatalogRepository) GetRecipes(ctx context.Context, menuItemIDs []string) (map[string][]RecipeRequirement, error) {
	args := m.Called(ctx, menuItemIDs)
	recipes, _ := args.Get(0).(map[string][]RecipeRequirement)
	return recipes, args.Error(1)
}

func (m *MockCatalogRepository) ReplaceRecipe(ctx context.Context, menuItemID string, requirements []RecipeRequirement) error {
	return m.Called(ctx, menuItemID, requirements).Error(0)
}

func TestRecipeCatalog_SnapshotDeduplicatesIDs(t *testing.T) {
	// Arrange
	repo := &MockCatalogRepository{}
	repo.On("GetMenuItems", mock.Anything, []string{"a", "b"}).
		Return(map[string]*MenuItem{"a": {ID: "a", Price: d("1"), Available: true}}, nil)
	repo.On("GetRecipes", mock.Anything, []string{"a", "b"}).
		Return(map[string][]RecipeRequirement{"a": {{MenuItemID: "a", IngredientID: "x", QuantityRequired: d("2")}}}, nil)
	catalog := NewRecipeCatalog(repo)

	// Act
	snapshot, err := catalog.Snapshot(context.Background(), []string{"b", "a", "b"})

	// Assert
	require.NoError(t, err)
	_, ok := snapshot.MenuItem("a")
	assert.True(t, ok)
	_, ok = snapshot.MenuItem("b")
	assert.False(t, ok)
	assert.Len(t, snapshot.RequirementsFor("a"), 1)
	assert.Empty(t, snapshot.RequirementsFor("b"))
	repo.AssertExpectations(t)
}

func TestRecipeCatalog_SnapshotFailure(t *testing.T) {
	repo := &MockCatalogRepository{}
	repo.On("GetMenuItems", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewRecipeCatalog(repo).Snapshot(context.Background(), []string{"a"})

	assert.ErrorContains(t, err, "db down")
}

func TestRecipeCatalog_ReplaceRecipe(t *testing.T) {
	// Arrange
	repo := &MockCatalogRepository{}
	repo.On("GetMenuItems", mock.Anything, []string{"a"}).
		Return(map[string]*MenuItem{"a": {ID: "a"}}, nil)
	repo.On("ReplaceRecipe", mock.Anything, "a", mock.MatchedBy(func(reqs []RecipeRequirement) bool {
		return len(reqs) == 1 && reqs[0].MenuItemID == "a" && reqs[0].IngredientID == "x"
	})).Return(nil)

	// Act
	err := NewRecipeCatalog(repo).ReplaceRecipe(context.Background(), "a", []RecipeRequirement{
		{IngredientID: "x", QuantityRequired: d("1.5")},
	})

	// Assert
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestRecipeCatalog_ReplaceRecipeRejects(t *testing.T) {
	tests := []struct {
		name string
		reqs []RecipeRequirement
		want error
	}{
		{
			name: "zero quantity",
			reqs: []RecipeRequirement{{IngredientID: "x", QuantityRequired: d("0")}},
			want: ErrInvalidAmount,
		},
		{
			name: "negative quantity",
			reqs: []RecipeRequirement{{IngredientID: "x", QuantityRequired: d("-1")}},
			want: ErrInvalidAmount,
		},
		{
			name: "duplicate ingredient",
			reqs: []RecipeRequirement{
				{IngredientID: "x", QuantityRequired: d("1")},
				{IngredientID: "x", QuantityRequired: d("2")},
			},
			want: ErrInvalidRecipe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockCatalogRepository{}

			err := NewRecipeCatalog(repo).ReplaceRecipe(context.Background(), "a", tt.reqs)

			assert.ErrorIs(t, err, tt.want)
			repo.AssertNotCalled(t, "ReplaceRecipe", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRecipeCatalog_ReplaceRecipeUnknownItem(t *testing.T) {
	repo := &MockCatalogRepository{}
	repo.On("GetMenuItems", mock.Anything, []string{"ghost"}).Return(map[string]*MenuItem{}, nil)

	err := NewRecipeCatalog(repo).ReplaceRecipe(context.Background(), "ghost", nil)

	assert.ErrorIs(t, err, ErrNotFound)
	repo.AssertNotCalled(t, "ReplaceRecipe", mock.Anything, mock.Anything, mock.Anything)
}
