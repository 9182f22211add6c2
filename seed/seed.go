package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

//go:embed cafe.yaml
var defaultFile []byte

type Ingredient struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Unit  string `yaml:"unit"`
	Stock string `yaml:"stock"`
}

type Requirement struct {
	Ingredient string `yaml:"ingredient"`
	Quantity   string `yaml:"quantity"`
}

type MenuItem struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Price       string        `yaml:"price"`
	Category    string        `yaml:"category"`
	ImageURL    string        `yaml:"image_url"`
	Available   *bool         `yaml:"available"`
	Recipe      []Requirement `yaml:"recipe"`
}

// File is a provisioning document: the starting ledger and the menu with
// its recipes.
type File struct {
	Ingredients []Ingredient `yaml:"ingredients"`
	Menu        []MenuItem   `yaml:"menu"`
}

// Repository is what Apply writes through.
type Repository interface {
	checkout.SeedRepository
	GetRecipes(ctx context.Context, menuItemIDs []string) (map[string][]checkout.RecipeRequirement, error)
	ReplaceRecipe(ctx context.Context, menuItemID string, requirements []checkout.RecipeRequirement) error
}

// Default returns the embedded cafe menu.
func Default() (*File, error) {
	return Load(bytes.NewReader(defaultFile))
}

func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a seed document. Unknown fields are errors.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks ids are unique, amounts parse, stock is non-negative,
// recipe quantities are positive and recipes only name ingredients of the
// same file.
func (f *File) Validate() error {
	ingredients := make(map[string]bool, len(f.Ingredients))
	for _, ingredient := range f.Ingredients {
		if ingredient.ID == "" {
			return errors.New("seed: ingredient without id")
		}
		if ingredients[ingredient.ID] {
			return fmt.Errorf("seed: duplicate ingredient %q", ingredient.ID)
		}
		ingredients[ingredient.ID] = true

		stock, err := parse(ingredient.Stock)
		if err != nil {
			return fmt.Errorf("seed: ingredient %q stock: %w", ingredient.ID, err)
		}
		if stock.IsNegative() {
			return fmt.Errorf("seed: ingredient %q has negative stock", ingredient.ID)
		}
	}

	items := make(map[string]bool, len(f.Menu))
	for _, item := range f.Menu {
		if item.ID == "" {
			return errors.New("seed: menu item without id")
		}
		if items[item.ID] {
			return fmt.Errorf("seed: duplicate menu item %q", item.ID)
		}
		items[item.ID] = true

		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return fmt.Errorf("seed: menu item %q price: %w", item.ID, err)
		}
		if price.IsNegative() {
			return fmt.Errorf("seed: menu item %q has negative price", item.ID)
		}

		seen := make(map[string]bool, len(item.Recipe))
		for _, req := range item.Recipe {
			if !ingredients[req.Ingredient] {
				return fmt.Errorf("seed: menu item %q uses unknown ingredient %q", item.ID, req.Ingredient)
			}
			if seen[req.Ingredient] {
				return fmt.Errorf("seed: menu item %q lists ingredient %q twice", item.ID, req.Ingredient)
			}
			seen[req.Ingredient] = true

			qty, err := decimal.NewFromString(req.Quantity)
			if err != nil {
				return fmt.Errorf("seed: menu item %q quantity of %q: %w", item.ID, req.Ingredient, err)
			}
			if !qty.IsPositive() {
				return fmt.Errorf("seed: menu item %q needs a positive quantity of %q", item.ID, req.Ingredient)
			}
		}
	}
	return nil
}

// Apply provisions the file into repo. Ingredients that already exist keep
// their stock and menu items that already have a recipe keep it, so running
// it on every start is safe.
func Apply(ctx context.Context, repo Repository, f *File, logger *slog.Logger) error {
	if err := f.Validate(); err != nil {
		return err
	}

	for _, ingredient := range f.Ingredients {
		stock, _ := parse(ingredient.Stock)
		err := repo.EnsureIngredient(ctx, &checkout.Ingredient{
			ID:           ingredient.ID,
			Name:         ingredient.Name,
			Unit:         ingredient.Unit,
			CurrentStock: stock,
		})
		if err != nil {
			return fmt.Errorf("failed to provision ingredient %s: %w", ingredient.ID, err)
		}
	}

	ids := make([]string, len(f.Menu))
	for i, item := range f.Menu {
		ids[i] = item.ID

		available := true
		if item.Available != nil {
			available = *item.Available
		}
		err := repo.UpsertMenuItem(ctx, &checkout.MenuItem{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Category:    item.Category,
			Price:       decimal.RequireFromString(item.Price),
			Available:   available,
			ImageURL:    item.ImageURL,
		})
		if err != nil {
			return fmt.Errorf("failed to provision menu item %s: %w", item.ID, err)
		}
	}

	existing, err := repo.GetRecipes(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to read recipes: %w", err)
	}

	seeded := 0
	for _, item := range f.Menu {
		if len(item.Recipe) == 0 || len(existing[item.ID]) > 0 {
			continue
		}

		reqs := make([]checkout.RecipeRequirement, len(item.Recipe))
		for i, req := range item.Recipe {
			reqs[i] = checkout.RecipeRequirement{
				MenuItemID:       item.ID,
				IngredientID:     req.Ingredient,
				QuantityRequired: decimal.RequireFromString(req.Quantity),
			}
		}
		if err := repo.ReplaceRecipe(ctx, item.ID, reqs); err != nil {
			return fmt.Errorf("failed to provision recipe of %s: %w", item.ID, err)
		}
		seeded++
	}

	logger.InfoContext(ctx, "seed applied",
		"ingredients", len(f.Ingredients),
		"menu_items", len(f.Menu),
		"recipes_created", seeded,
	)
	return nil
}

func parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
