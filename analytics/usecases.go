package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

// Repository is the read side the aggregator needs. It never touches the
// ledger.
type Repository interface {
	ListOrders(ctx context.Context, status string, from, to time.Time) ([]*checkout.Order, error)
	GetMenuItems(ctx context.Context, ids []string) (map[string]*checkout.MenuItem, error)
}

// Aggregator derives sales metrics from completed orders.
type Aggregator struct {
	repository Repository
	topItems   int
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewAggregator(repository Repository, topItems int, logger *slog.Logger) *Aggregator {
	if topItems <= 0 {
		topItems = DefaultTopItems
	}
	return &Aggregator{
		repository: repository,
		topItems:   topItems,
		logger:     logger.With("component", "analytics"),
		tracer:     otel.Tracer("analytics"),
	}
}

// Summarize reports revenue, order count, average order value and the most
// sold items of the completed orders in r. An empty range reports zeros.
func (a *Aggregator) Summarize(ctx context.Context, r DateRange) (*Summary, error) {
	ctx, span := a.tracer.Start(ctx, "analytics.summarize")
	defer span.End()

	orders, err := a.repository.ListOrders(ctx, checkout.OrderStatusCompleted, r.From, r.To)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list completed orders: %w", err)
	}

	summary := &Summary{
		From:              r.From,
		To:                r.To,
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		TopItems:          []ItemPopularity{},
	}

	popularity := map[string]*ItemPopularity{}
	for _, order := range orders {
		// the store filters already; this keeps the contract for any reader
		if order.Status != checkout.OrderStatusCompleted || !r.Contains(order.CreatedAt) {
			continue
		}

		summary.CompletedOrderCount++
		summary.TotalRevenue = summary.TotalRevenue.Add(order.TotalAmount)

		for _, item := range order.Items {
			p, ok := popularity[item.MenuItemID]
			if !ok {
				p = &ItemPopularity{MenuItemID: item.MenuItemID, Revenue: decimal.Zero}
				popularity[item.MenuItemID] = p
			}
			p.Quantity += item.Quantity
			p.Revenue = p.Revenue.Add(item.Subtotal())
		}
	}

	if summary.CompletedOrderCount > 0 {
		summary.AverageOrderValue = summary.TotalRevenue.DivRound(decimal.NewFromInt(int64(summary.CompletedOrderCount)), 2)
	}

	summary.TopItems = a.rank(ctx, popularity)

	span.SetAttributes(
		attribute.Int("analytics.completed_orders", summary.CompletedOrderCount),
		attribute.String("analytics.revenue", summary.TotalRevenue.String()),
	)
	return summary, nil
}

func (a *Aggregator) rank(ctx context.Context, popularity map[string]*ItemPopularity) []ItemPopularity {
	ranked := make([]ItemPopularity, 0, len(popularity))
	for _, p := range popularity {
		ranked = append(ranked, *p)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Quantity != ranked[j].Quantity {
			return ranked[i].Quantity > ranked[j].Quantity
		}
		if c := ranked[i].Revenue.Cmp(ranked[j].Revenue); c != 0 {
			return c > 0
		}
		return ranked[i].MenuItemID < ranked[j].MenuItemID
	})

	if len(ranked) > a.topItems {
		ranked = ranked[:a.topItems]
	}
	if len(ranked) == 0 {
		return ranked
	}

	ids := make([]string, len(ranked))
	for i, p := range ranked {
		ids[i] = p.MenuItemID
	}
	items, err := a.repository.GetMenuItems(ctx, ids)
	if err != nil {
		// names are decoration; the figures stand without them
		a.logger.WarnContext(ctx, "failed to resolve menu item names", "error", err)
		return ranked
	}
	for i := range ranked {
		if item, ok := items[ranked[i].MenuItemID]; ok {
			ranked[i].Name = item.Name
		}
	}
	return ranked
}
