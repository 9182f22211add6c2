package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of a checkout attempt.
type State string

const (
	StateResolving  State = "resolving"
	StateValidating State = "validating"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
	StateAborted    State = "aborted"
)

// DefaultCheckoutTimeout bounds the validating and committing steps when the
// engine is built without an explicit timeout.
const DefaultCheckoutTimeout = 5 * time.Second

// EventPublisher is notified of completed orders after their transaction
// committed. Publishing failures never undo a checkout.
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, order *Order) error
}

// Engine turns carts into completed orders. It is the only entry point that
// writes stock and orders together.
type Engine struct {
	catalog   *RecipeCatalog
	ledger    *Ledger
	orders    OrderRepository
	tx        interface{ BeginTx(ctx context.Context) (Tx, error) }
	publisher EventPublisher
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
}

// EngineConfig holds the optional collaborators of an Engine.
type EngineConfig struct {
	Timeout   time.Duration
	Publisher EventPublisher
	Metrics   *Metrics
	Logger    *slog.Logger
}

// NewEngine wires an Engine over a single store.
func NewEngine(store Store, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckoutTimeout
	}

	return &Engine{
		catalog:   NewRecipeCatalog(store),
		ledger:    NewLedger(store, logger, cfg.Metrics, timeout),
		orders:    store,
		tx:        store,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "checkout"),
		tracer:    otel.Tracer("checkout/engine"),
		timeout:   timeout,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Ledger returns the ledger the engine deducts from, for restocks.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Catalog returns the recipe catalog the engine snapshots.
func (e *Engine) Catalog() *RecipeCatalog {
	return e.catalog
}

// SubmitCheckout runs one checkout attempt. On success the returned order is
// completed and persisted. Otherwise the error is a *RejectedError or an
// *AbortedError and neither stock nor orders changed.
func (e *Engine) SubmitCheckout(ctx context.Context, lines []CartLine) (*Order, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "checkout.submit")
	defer span.End()
	span.SetAttributes(attribute.Int("checkout.lines", len(lines)))

	order, state, err := e.run(ctx, lines)

	reason, _ := ReasonOf(err)
	e.metrics.RecordCheckout(ctx, state, reason, float64(time.Since(start).Microseconds())/1000)
	span.SetAttributes(attribute.String("checkout.state", string(state)))

	switch state {
	case StateCompleted:
		span.SetAttributes(
			attribute.String("order_id", order.ID),
			attribute.String("order.total", order.TotalAmount.String()),
		)
		e.logger.InfoContext(ctx, "checkout completed",
			"order_id", order.ID,
			"total", order.TotalAmount.String(),
			"items", len(order.Items))
		e.publish(ctx, order)
		return order, nil

	case StateRejected:
		span.SetStatus(codes.Error, string(reason))
		e.logger.InfoContext(ctx, "checkout rejected", "reason", reason, "error", err)
		return nil, err

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
		e.logger.ErrorContext(ctx, "checkout aborted", "reason", reason, "error", err)
		return nil, err
	}
}

func (e *Engine) run(ctx context.Context, lines []CartLine) (*Order, State, error) {
	// Resolving
	snapshot, err := e.catalog.Snapshot(ctx, MenuItemIDs(lines))
	if err != nil {
		return nil, StateAborted, e.abort(ctx, err)
	}

	resolution, err := Resolve(snapshot, lines)
	if err != nil {
		return nil, StateRejected, err
	}

	// Validating and committing share one transaction and one deadline.
	txCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.tx.BeginTx(txCtx)
	if err != nil {
		return nil, StateAborted, e.abort(txCtx, err)
	}
	defer tx.Rollback()

	availability, err := e.ledger.CheckAvailability(txCtx, tx, resolution.Requirement)
	if err != nil {
		return nil, StateAborted, e.abort(txCtx, err)
	}
	if !availability.Satisfied {
		return nil, StateRejected, &RejectedError{
			Reason:    ReasonInsufficientStock,
			Line:      -1,
			Shortages: availability.Shortages,
		}
	}

	order := NewOrder(e.newID(), resolution.Items, e.now().UTC())

	if err := e.ledger.Deduct(txCtx, tx, resolution.Requirement, order.ID); err != nil {
		var stockErr *StockError
		if errors.As(err, &stockErr) {
			return nil, StateRejected, &RejectedError{
				Reason:    ReasonInsufficientStock,
				Line:      -1,
				Shortages: stockErr.Shortages,
			}
		}
		return nil, StateAborted, e.abort(txCtx, err)
	}

	if err := order.Complete(); err != nil {
		return nil, StateAborted, e.abort(txCtx, err)
	}

	if err := e.orders.CreateOrder(txCtx, tx, order); err != nil {
		return nil, StateAborted, e.abort(txCtx, fmt.Errorf("failed to create order: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, StateAborted, e.abort(txCtx, fmt.Errorf("failed to commit checkout: %w", err))
	}

	e.metrics.RecordDeductions(ctx, len(resolution.Requirement))
	return order, StateCompleted, nil
}

// abort classifies an infrastructure failure. The caller's deferred rollback
// releases anything the transaction held.
func (e *Engine) abort(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &AbortedError{Reason: ReasonTimeout, Err: err}
	}
	return &AbortedError{Reason: ReasonPersistenceFailure, Err: err}
}

func (e *Engine) publish(ctx context.Context, order *Order) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishOrderCompleted(ctx, order); err != nil {
		e.logger.WarnContext(ctx, "failed to publish order event", "order_id", order.ID, "error", err)
	}
}

// GetOrder returns a persisted order.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return e.orders.GetOrder(ctx, orderID)
}
