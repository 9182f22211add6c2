// Package sqlstore implements checkout.Store over database/sql. It runs on
// PostgreSQL through lib/pq, where ingredient rows are locked with FOR UPDATE,
// and on an embedded SQLite file through modernc.org/sqlite, where a single
// connection serializes every transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

// Store is a checkout.Store over a database/sql handle in one of the supported dialects.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

var _ checkout.Store = (*Store)(nil)

// New wraps db, which must already be open for dialect.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "sqlstore", "dialect", dialect.Name),
		now:     time.Now,
	}
}

// OpenPostgres opens a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(Postgres.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens the database file at path with a single connection, which
// makes every transaction exclusive.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(SQLite.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Info("schema applied")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (s *Store) BeginTx(ctx context.Context) (checkout.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func txOf(tx checkout.Tx) *sql.Tx {
	return tx.(*sqlTx).tx
}

func (s *Store) GetIngredientsForUpdate(ctx context.Context, tx checkout.Tx, ids []string) (map[string]*checkout.Ingredient, error) {
	result := make(map[string]*checkout.Ingredient, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := txOf(tx).QueryContext(ctx, s.q(`
		SELECT id, name, unit, current_stock, updated_at
		FROM ingredients
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id`+s.dialect.lockSuffix), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ingredients: %w", err)
	}

	ingredients, err := collect(rows, scanIngredient)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ingredients: %w", err)
	}
	for _, ingredient := range ingredients {
		result[ingredient.ID] = ingredient
	}
	return result, nil
}

func (s *Store) UpdateStock(ctx context.Context, tx checkout.Tx, ingredientID string, newStock decimal.Decimal, movement *checkout.InventoryMovement) error {
	stx := txOf(tx)
	now := s.now()

	res, err := stx.ExecContext(ctx, s.q(`
		UPDATE ingredients
		SET current_stock = ?,
		    updated_at = ?
		WHERE id = ?
	`), newStock.String(), s.dialect.timeArg(now), ingredientID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if affected != 1 {
		return checkout.ErrIngredientNotFound
	}

	if movement == nil {
		return nil
	}

	_, err = stx.ExecContext(ctx, s.q(`
		INSERT INTO inventory_movements (id, ingredient_id, order_id, change_quantity, movement_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), movement.ID, movement.IngredientID, nullString(movement.OrderID), movement.ChangeQuantity.String(), movement.MovementType, s.dialect.timeArg(movement.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert movement record: %w", err)
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, tx checkout.Tx, order *checkout.Order) error {
	stx := txOf(tx)

	_, err := stx.ExecContext(ctx, s.q(`
		INSERT INTO orders (id, status, total_amount, created_at)
		VALUES (?, ?, ?, ?)
	`), order.ID, order.Status, order.TotalAmount.String(), s.dialect.timeArg(order.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err := stx.ExecContext(ctx, s.q(`
			INSERT INTO order_items (order_id, line_no, menu_item_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`), order.ID, i, item.MenuItemID, item.Quantity, item.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*checkout.Order, error) {
	var order checkout.Order
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, status, total_amount, created_at
		FROM orders
		WHERE id = ?
	`), orderID).Scan(&order.ID, &order.Status, &order.TotalAmount, timestamp{&order.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
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
	var (
		where []string
		args  []any
	)
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if !from.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, s.dialect.timeArg(from))
	}
	if !to.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, s.dialect.timeArg(to))
	}

	query := `SELECT id, status, total_amount, created_at FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders, err := collect(rows, func(r *sql.Rows) (*checkout.Order, error) {
		var order checkout.Order
		err := r.Scan(&order.ID, &order.Status, &order.TotalAmount, timestamp{&order.CreatedAt})
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
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT order_id, menu_item_id, quantity, unit_price
		FROM order_items
		WHERE order_id IN (`+placeholders(len(orderIDs))+`)
		ORDER BY order_id, line_no
	`), stringArgs(orderIDs)...)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit, current_stock, updated_at
		FROM ingredients
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	return collect(rows, scanIngredient)
}

func (s *Store) ListMovements(ctx context.Context, ingredientID string, limit int) ([]*checkout.InventoryMovement, error) {
	query := `
		SELECT id, ingredient_id, COALESCE(order_id, ''), change_quantity, movement_type, created_at
		FROM inventory_movements`
	var args []any
	if ingredientID != "" {
		query += ` WHERE ingredient_id = ?`
		args = append(args, ingredientID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (*checkout.InventoryMovement, error) {
		var m checkout.InventoryMovement
		err := r.Scan(&m.ID, &m.IngredientID, &m.OrderID, &m.ChangeQuantity, &m.MovementType, timestamp{&m.CreatedAt})
		return &m, err
	})
}

const menuItemColumns = `id, name, description, category, price, available, image_url, created_at, updated_at`

func (s *Store) ListMenuItems(ctx context.Context) ([]*checkout.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuItemColumns+` FROM menu_items ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	return collect(rows, scanMenuItem)
}

func (s *Store) GetMenuItems(ctx context.Context, ids []string) (map[string]*checkout.MenuItem, error) {
	result := make(map[string]*checkout.MenuItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+menuItemColumns+` FROM menu_items WHERE id IN (`+placeholders(len(ids))+`)`), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get menu items: %w", err)
	}
	items, err := collect(rows, scanMenuItem)
	if err != nil {
		return nil, fmt.Errorf("failed to get menu items: %w", err)
	}
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

func (s *Store) GetRecipes(ctx context.Context, menuItemIDs []string) (map[string][]checkout.RecipeRequirement, error) {
	recipes := make(map[string][]checkout.RecipeRequirement)
	if len(menuItemIDs) == 0 {
		return recipes, nil
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT menu_item_id, ingredient_id, quantity_required
		FROM recipe_requirements
		WHERE menu_item_id IN (`+placeholders(len(menuItemIDs))+`)
		ORDER BY menu_item_id, position
	`), stringArgs(menuItemIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipes: %w", err)
	}
	reqs, err := collect(rows, func(r *sql.Rows) (checkout.RecipeRequirement, error) {
		var req checkout.RecipeRequirement
		err := r.Scan(&req.MenuItemID, &req.IngredientID, &req.QuantityRequired)
		return req, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recipes: %w", err)
	}

	for _, req := range reqs {
		recipes[req.MenuItemID] = append(recipes[req.MenuItemID], req)
	}
	return recipes, nil
}

func (s *Store) ReplaceRecipe(ctx context.Context, menuItemID string, requirements []checkout.RecipeRequirement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM menu_items WHERE id = ?`), menuItemID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check menu item: %w", err)
	}
	if exists == 0 {
		return checkout.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM recipe_requirements WHERE menu_item_id = ?`), menuItemID); err != nil {
		return fmt.Errorf("failed to clear recipe: %w", err)
	}

	for i, req := range requirements {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO recipe_requirements (menu_item_id, ingredient_id, quantity_required, position)
			VALUES (?, ?, ?, ?)
		`), menuItemID, req.IngredientID, req.QuantityRequired.String(), i)
		if err != nil && s.dialect.fkError(err) {
			return fmt.Errorf("%w: %s", checkout.ErrIngredientNotFound, req.IngredientID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert recipe requirement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recipe: %w", err)
	}
	return nil
}

func (s *Store) EnsureIngredient(ctx context.Context, ingredient *checkout.Ingredient) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO ingredients (id, name, unit, current_stock, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name,
		    unit = excluded.unit
	`), ingredient.ID, ingredient.Name, ingredient.Unit, ingredient.CurrentStock.String(), s.dialect.timeArg(s.now()))
	if err != nil {
		return fmt.Errorf("failed to ensure ingredient %s: %w", ingredient.ID, err)
	}
	return nil
}

func (s *Store) UpsertMenuItem(ctx context.Context, item *checkout.MenuItem) error {
	now := s.dialect.timeArg(s.now())
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO menu_items (id, name, description, category, price, available, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name,
		    description = excluded.description,
		    category = excluded.category,
		    price = excluded.price,
		    available = excluded.available,
		    image_url = excluded.image_url,
		    updated_at = excluded.updated_at
	`), item.ID, item.Name, item.Description, item.Category, item.Price.String(), item.Available, item.ImageURL, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert menu item %s: %w", item.ID, err)
	}
	return nil
}

func collect[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanIngredient(r *sql.Rows) (*checkout.Ingredient, error) {
	var i checkout.Ingredient
	err := r.Scan(&i.ID, &i.Name, &i.Unit, &i.CurrentStock, timestamp{&i.UpdatedAt})
	return &i, err
}

func scanMenuItem(r *sql.Rows) (*checkout.MenuItem, error) {
	var m checkout.MenuItem
	err := r.Scan(&m.ID, &m.Name, &m.Description, &m.Category, &m.Price, &m.Available, &m.ImageURL, timestamp{&m.CreatedAt}, timestamp{&m.UpdatedAt})
	return &m, err
}
