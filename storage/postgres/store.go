// Package postgres implements checkout.Store on PostgreSQL through a pgx
// connection pool. Ingredient rows are locked with SELECT ... FOR UPDATE in
// ascending id order.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

// Schema is the PostgreSQL DDL of the checkout tables.
//
//go:embed schema.sql
var Schema string

const foreignKeyViolation = "23503"

// Store implements checkout.Store using PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

var _ checkout.Store = (*Store)(nil)

// New creates a Store over an open pool. The pool is closed by Close.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "postgres")}
}

// Connect opens a pool and waits up to attempts seconds for the database to
// accept connections.
func Connect(ctx context.Context, dsn string, attempts int, logger *slog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("connected to database", "driver", "pgx")
			return pool, nil
		}
		logger.Info("waiting for database", "attempt", i+1, "of", attempts)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("database not ready after %d attempts", attempts)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// pgTx commits with the context it began with, so a transaction whose
// deadline passed cannot commit.
type pgTx struct {
	tx  pgx.Tx
	ctx context.Context
}

func (t *pgTx) Commit() error {
	return t.tx.Commit(t.ctx)
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (s *Store) BeginTx(ctx context.Context) (checkout.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx, ctx: ctx}, nil
}

func txOf(tx checkout.Tx) pgx.Tx {
	return tx.(*pgTx).tx
}

func (s *Store) GetIngredientsForUpdate(ctx context.Context, tx checkout.Tx, ids []string) (map[string]*checkout.Ingredient, error) {
	rows, err := txOf(tx).Query(ctx, `
		SELECT id, name, unit, current_stock, updated_at
		FROM ingredients
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ingredients: %w", err)
	}

	ingredients, err := pgx.CollectRows(rows, scanIngredient)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ingredients: %w", err)
	}

	result := make(map[string]*checkout.Ingredient, len(ingredients))
	for _, ingredient := range ingredients {
		result[ingredient.ID] = ingredient
	}
	return result, nil
}

func (s *Store) UpdateStock(ctx context.Context, tx checkout.Tx, ingredientID string, newStock decimal.Decimal, movement *checkout.InventoryMovement) error {
	pg := txOf(tx)

	tag, err := pg.Exec(ctx, `
		UPDATE ingredients
		SET current_stock = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, ingredientID, newStock)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return checkout.ErrIngredientNotFound
	}

	if movement == nil {
		return nil
	}

	_, err = pg.Exec(ctx, `
		INSERT INTO inventory_movements (id, ingredient_id, order_id, change_quantity, movement_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, movement.ID, movement.IngredientID, nullable(movement.OrderID), movement.ChangeQuantity, movement.MovementType, movement.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement record: %w", err)
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, tx checkout.Tx, order *checkout.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO orders (id, status, total_amount, created_at)
		VALUES ($1, $2, $3, $4)
	`, order.ID, order.Status, order.TotalAmount, order.CreatedAt)
	for i, item := range order.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, line_no, menu_item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, i, item.MenuItemID, item.Quantity, item.UnitPrice)
	}

	if err := txOf(tx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*checkout.Order, error) {
	var order checkout.Order
	err := s.db.QueryRow(ctx, `
		SELECT id, status, total_amount, created_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.Status, &order.TotalAmount, &order.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, checkout.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := s.orderItems(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	order.Items = items[orderID]
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, status string, from, to time.Time) ([]*checkout.Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, status, total_amount, created_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at, id
	`, status, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*checkout.Order, error) {
		var order checkout.Order
		err := row.Scan(&order.ID, &order.Status, &order.TotalAmount, &order.CreatedAt)
		return &order, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
	}
	items, err := s.orderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		order.Items = items[order.ID]
	}
	return orders, nil
}

func (s *Store) orderItems(ctx context.Context, orderIDs []string) (map[string][]checkout.OrderItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT order_id, menu_item_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]checkout.OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var item checkout.OrderItem
		if err := rows.Scan(&orderID, &item.MenuItemID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return items, nil
}

func (s *Store) ListIngredients(ctx context.Context) ([]*checkout.Ingredient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, unit, current_stock, updated_at
		FROM ingredients
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	return pgx.CollectRows(rows, scanIngredient)
}

func (s *Store) ListMovements(ctx context.Context, ingredientID string, limit int) ([]*checkout.InventoryMovement, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, ingredient_id, COALESCE(order_id, ''), change_quantity, movement_type, created_at
		FROM inventory_movements
		WHERE ($1 = '' OR ingredient_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ingredientID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*checkout.InventoryMovement, error) {
		var m checkout.InventoryMovement
		err := row.Scan(&m.ID, &m.IngredientID, &m.OrderID, &m.ChangeQuantity, &m.MovementType, &m.CreatedAt)
		return &m, err
	})
}

const menuItemColumns = `id, name, description, category, price, available, image_url, created_at, updated_at`

func (s *Store) ListMenuItems(ctx context.Context) ([]*checkout.MenuItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+menuItemColumns+` FROM menu_items ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	return pgx.CollectRows(rows, scanMenuItem)
}

func (s *Store) GetMenuItems(ctx context.Context, ids []string) (map[string]*checkout.MenuItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+menuItemColumns+` FROM menu_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get menu items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanMenuItem)
	if err != nil {
		return nil, fmt.Errorf("failed to get menu items: %w", err)
	}

	result := make(map[string]*checkout.MenuItem, len(items))
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

func (s *Store) GetRecipes(ctx context.Context, menuItemIDs []string) (map[string][]checkout.RecipeRequirement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT menu_item_id, ingredient_id, quantity_required
		FROM recipe_requirements
		WHERE menu_item_id = ANY($1)
		ORDER BY menu_item_id, position
	`, menuItemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipes: %w", err)
	}

	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (checkout.RecipeRequirement, error) {
		var r checkout.RecipeRequirement
		err := row.Scan(&r.MenuItemID, &r.IngredientID, &r.QuantityRequired)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recipes: %w", err)
	}

	recipes := make(map[string][]checkout.RecipeRequirement)
	for _, r := range reqs {
		recipes[r.MenuItemID] = append(recipes[r.MenuItemID], r)
	}
	return recipes, nil
}

func (s *Store) ReplaceRecipe(ctx context.Context, menuItemID string, requirements []checkout.RecipeRequirement) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM menu_items WHERE id = $1)`, menuItemID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check menu item: %w", err)
		}
		if !exists {
			return checkout.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM recipe_requirements WHERE menu_item_id = $1`, menuItemID); err != nil {
			return fmt.Errorf("failed to clear recipe: %w", err)
		}

		for i, r := range requirements {
			_, err := tx.Exec(ctx, `
				INSERT INTO recipe_requirements (menu_item_id, ingredient_id, quantity_required, position)
				VALUES ($1, $2, $3, $4)
			`, menuItemID, r.IngredientID, r.QuantityRequired, i)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return fmt.Errorf("%w: %s", checkout.ErrIngredientNotFound, r.IngredientID)
			}
			if err != nil {
				return fmt.Errorf("failed to insert recipe requirement: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) EnsureIngredient(ctx context.Context, ingredient *checkout.Ingredient) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ingredients (id, name, unit, current_stock, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    unit = EXCLUDED.unit
	`, ingredient.ID, ingredient.Name, ingredient.Unit, ingredient.CurrentStock)
	if err != nil {
		return fmt.Errorf("failed to ensure ingredient %s: %w", ingredient.ID, err)
	}
	return nil
}

func (s *Store) UpsertMenuItem(ctx context.Context, item *checkout.MenuItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO menu_items (id, name, description, category, price, available, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    category = EXCLUDED.category,
		    price = EXCLUDED.price,
		    available = EXCLUDED.available,
		    image_url = EXCLUDED.image_url,
		    updated_at = NOW()
	`, item.ID, item.Name, item.Description, item.Category, item.Price, item.Available, item.ImageURL)
	if err != nil {
		return fmt.Errorf("failed to upsert menu item %s: %w", item.ID, err)
	}
	return nil
}

func scanIngredient(row pgx.CollectableRow) (*checkout.Ingredient, error) {
	var i checkout.Ingredient
	err := row.Scan(&i.ID, &i.Name, &i.Unit, &i.CurrentStock, &i.UpdatedAt)
	return &i, err
}

func scanMenuItem(row pgx.CollectableRow) (*checkout.MenuItem, error) {
	var m checkout.MenuItem
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Category, &m.Price, &m.Available, &m.ImageURL, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
