package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ledger owns ingredient stock. It is the only component that writes
// current_stock.
type Ledger struct {
	repository LedgerRepository
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	timeout    time.Duration
	now        func() time.Time
}

// NewLedger creates a Ledger. timeout bounds a restock transaction.
func NewLedger(repository LedgerRepository, logger *slog.Logger, metrics *Metrics, timeout time.Duration) *Ledger {
	return &Ledger{
		repository: repository,
		logger:     logger.With("component", "ledger"),
		tracer:     otel.Tracer("checkout/ledger"),
		metrics:    metrics,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Availability is the result of checking a requirement against locked stock.
type Availability struct {
	Satisfied bool
	Shortages []Shortage
}

// CheckAvailability locks every ingredient in req for the rest of tx and
// compares the requirement with current stock. It writes nothing.
func (l *Ledger) CheckAvailability(ctx context.Context, tx Tx, req Requirement) (*Availability, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.check_availability")
	defer span.End()
	span.SetAttributes(attribute.Int("ledger.ingredients", len(req)))

	stock, err := l.repository.GetIngredientsForUpdate(ctx, tx, req.IngredientIDs())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock ingredients: %w", err)
	}

	shortages := shortagesOf(stock, req)
	if len(shortages) > 0 {
		span.SetAttributes(attribute.Int("ledger.shortages", len(shortages)))
	}

	return &Availability{Satisfied: len(shortages) == 0, Shortages: shortages}, nil
}

// Deduct subtracts the whole requirement from stock inside tx. When any
// ingredient is short it returns a *StockError and deducts nothing.
func (l *Ledger) Deduct(ctx context.Context, tx Tx, req Requirement, orderID string) error {
	ctx, span := l.tracer.Start(ctx, "ledger.deduct")
	defer span.End()

	ids := req.IngredientIDs()
	stock, err := l.repository.GetIngredientsForUpdate(ctx, tx, ids)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to lock ingredients: %w", err)
	}

	if shortages := shortagesOf(stock, req); len(shortages) > 0 {
		span.SetStatus(codes.Error, "insufficient stock")
		return &StockError{Shortages: shortages}
	}

	now := l.now()
	for _, id := range ids {
		needed := req[id]
		if needed.IsZero() {
			continue
		}

		movement := &InventoryMovement{
			ID:             uuid.New().String(),
			IngredientID:   id,
			OrderID:        orderID,
			ChangeQuantity: needed.Neg(),
			MovementType:   MovementTypeDecreased,
			CreatedAt:      now,
		}
		if err := l.repository.UpdateStock(ctx, tx, id, stock[id].CurrentStock.Sub(needed), movement); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to deduct ingredient %s: %w", id, err)
		}
	}

	return nil
}

// Restock adds amount to one ingredient in its own transaction. It is
// serialized against checkouts by the same row lock.
func (l *Ledger) Restock(ctx context.Context, ingredientID string, amount decimal.Decimal) (*Ingredient, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	ctx, span := l.tracer.Start(ctx, "ledger.restock")
	defer span.End()
	span.SetAttributes(
		attribute.String("ingredient_id", ingredientID),
		attribute.String("amount", amount.String()),
	)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin restock: %w", err)
	}
	defer tx.Rollback()

	stock, err := l.repository.GetIngredientsForUpdate(ctx, tx, []string{ingredientID})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock ingredient: %w", err)
	}

	ingredient, ok := stock[ingredientID]
	if !ok {
		return nil, ErrIngredientNotFound
	}

	now := l.now()
	newStock := ingredient.CurrentStock.Add(amount)
	movement := &InventoryMovement{
		ID:             uuid.New().String(),
		IngredientID:   ingredientID,
		ChangeQuantity: amount,
		MovementType:   MovementTypeIncreased,
		CreatedAt:      now,
	}
	if err := l.repository.UpdateStock(ctx, tx, ingredientID, newStock, movement); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to restock ingredient %s: %w", ingredientID, err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to commit restock: %w", err)
	}

	l.metrics.RecordRestock(ctx, ingredientID)
	l.logger.InfoContext(ctx, "ingredient restocked",
		"ingredient_id", ingredientID,
		"amount", amount.String(),
		"current_stock", newStock.String())

	restocked := *ingredient
	restocked.CurrentStock = newStock
	restocked.UpdatedAt = now
	return &restocked, nil
}

// Ingredients lists the ledger without locking.
func (l *Ledger) Ingredients(ctx context.Context) ([]*Ingredient, error) {
	return l.repository.ListIngredients(ctx)
}

// Movements lists the most recent stock changes of one ingredient.
func (l *Ledger) Movements(ctx context.Context, ingredientID string, limit int) ([]*InventoryMovement, error) {
	return l.repository.ListMovements(ctx, ingredientID, limit)
}

// shortagesOf compares req with stock. Ingredients missing from stock are
// treated as having nothing available.
func shortagesOf(stock map[string]*Ingredient, req Requirement) []Shortage {
	var shortages []Shortage
	for _, id := range req.IngredientIDs() {
		needed := req[id]
		available := decimal.Zero
		if ingredient, ok := stock[id]; ok {
			available = ingredient.CurrentStock
		}

		if missing := needed.Sub(available); missing.IsPositive() {
			shortages = append(shortages, Shortage{
				IngredientID: id,
				Needed:       needed,
				Available:    available,
				Missing:      missing,
			})
		}
	}
	return shortages
}
