package checkout

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecipeCatalog hands out per-attempt snapshots of menu items and recipes.
type RecipeCatalog struct {
	repository CatalogRepository
	tracer     trace.Tracer
}

// NewRecipeCatalog creates a RecipeCatalog.
func NewRecipeCatalog(repository CatalogRepository) *RecipeCatalog {
	return &RecipeCatalog{
		repository: repository,
		tracer:     otel.Tracer("checkout/catalog"),
	}
}

// CatalogSnapshot is a consistent read of the items and recipes one checkout
// attempt needs. It is never refreshed.
type CatalogSnapshot struct {
	items   map[string]*MenuItem
	recipes map[string][]RecipeRequirement
}

// NewCatalogSnapshot builds a snapshot from already loaded data.
func NewCatalogSnapshot(items map[string]*MenuItem, recipes map[string][]RecipeRequirement) *CatalogSnapshot {
	if items == nil {
		items = map[string]*MenuItem{}
	}
	if recipes == nil {
		recipes = map[string][]RecipeRequirement{}
	}
	return &CatalogSnapshot{items: items, recipes: recipes}
}

// Snapshot reads the given menu items and their recipes.
func (c *RecipeCatalog) Snapshot(ctx context.Context, menuItemIDs []string) (*CatalogSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.snapshot")
	defer span.End()

	ids := uniqueSorted(menuItemIDs)
	span.SetAttributes(attribute.Int("catalog.menu_items", len(ids)))

	items, err := c.repository.GetMenuItems(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read menu items: %w", err)
	}

	recipes, err := c.repository.GetRecipes(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read recipes: %w", err)
	}

	return NewCatalogSnapshot(items, recipes), nil
}

// MenuItem returns the snapshotted menu item.
func (s *CatalogSnapshot) MenuItem(id string) (*MenuItem, bool) {
	item, ok := s.items[id]
	return item, ok
}

// RequirementsFor returns the recipe of menuItemID in recipe order. An item
// with no requirements returns an empty slice.
func (s *CatalogSnapshot) RequirementsFor(menuItemID string) []RecipeRequirement {
	return s.recipes[menuItemID]
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Menu lists every menu item.
func (c *RecipeCatalog) Menu(ctx context.Context) ([]*MenuItem, error) {
	return c.repository.ListMenuItems(ctx)
}

// ReplaceRecipe swaps the recipe of a menu item. Attempts that already took
// their snapshot keep the old recipe.
func (c *RecipeCatalog) ReplaceRecipe(ctx context.Context, menuItemID string, requirements []RecipeRequirement) error {
	ctx, span := c.tracer.Start(ctx, "catalog.replace_recipe")
	defer span.End()
	span.SetAttributes(attribute.String("menu_item_id", menuItemID))

	seen := make(map[string]struct{}, len(requirements))
	for i := range requirements {
		if !requirements[i].QuantityRequired.IsPositive() {
			return fmt.Errorf("ingredient %s: %w", requirements[i].IngredientID, ErrInvalidAmount)
		}
		if _, ok := seen[requirements[i].IngredientID]; ok {
			return fmt.Errorf("%w: ingredient %s listed twice", ErrInvalidRecipe, requirements[i].IngredientID)
		}
		seen[requirements[i].IngredientID] = struct{}{}
		requirements[i].MenuItemID = menuItemID
	}

	items, err := c.repository.GetMenuItems(ctx, []string{menuItemID})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read menu item: %w", err)
	}
	if _, ok := items[menuItemID]; !ok {
		return ErrNotFound
	}

	if err := c.repository.ReplaceRecipe(ctx, menuItemID, requirements); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to replace recipe: %w", err)
	}
	return nil
}
