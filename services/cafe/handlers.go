package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/cafe-checkout/analytics"
	"github.com/matheusmosca/cafe-checkout/checkout"
)

type CheckoutUseCase interface {
	SubmitCheckout(ctx context.Context, lines []checkout.CartLine) (*checkout.Order, error)
	GetOrder(ctx context.Context, orderID string) (*checkout.Order, error)
}

type CatalogUseCase interface {
	Menu(ctx context.Context) ([]*checkout.MenuItem, error)
	ReplaceRecipe(ctx context.Context, menuItemID string, requirements []checkout.RecipeRequirement) error
}

type InventoryUseCase interface {
	Ingredients(ctx context.Context) ([]*checkout.Ingredient, error)
	Movements(ctx context.Context, ingredientID string, limit int) ([]*checkout.InventoryMovement, error)
	Restock(ctx context.Context, ingredientID string, amount decimal.Decimal) (*checkout.Ingredient, error)
}

type AnalyticsUseCase interface {
	Summarize(ctx context.Context, r analytics.DateRange) (*analytics.Summary, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CheckoutRequest is the body of POST /api/checkout.
type CheckoutRequest struct {
	Items []CartLineRequest `json:"items"`
}

// CartLineRequest takes the quantity as a decimal so that a fractional value
// is rejected with a reason instead of failing to decode.
type CartLineRequest struct {
	MenuItemID string          `json:"menu_item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

var maxLineQuantity = decimal.NewFromInt(math.MaxInt32)

// cartLines converts the request lines. A quantity that is not a whole number
// in range rejects the cart at that line.
func (r CheckoutRequest) cartLines() ([]checkout.CartLine, error) {
	lines := make([]checkout.CartLine, len(r.Items))
	for i, item := range r.Items {
		if !item.Quantity.IsInteger() || item.Quantity.Abs().GreaterThan(maxLineQuantity) {
			return nil, &checkout.RejectedError{
				Reason:     checkout.ReasonInvalidQuantity,
				Line:       i,
				MenuItemID: item.MenuItemID,
			}
		}
		lines[i] = checkout.CartLine{MenuItemID: item.MenuItemID, Quantity: int(item.Quantity.IntPart())}
	}
	return lines, nil
}

type RestockRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type RecipeRequest struct {
	Requirements []RequirementRequest `json:"requirements"`
}

type RequirementRequest struct {
	IngredientID     string          `json:"ingredient_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
}

type CafeHandler struct {
	checkout  CheckoutUseCase
	catalog   CatalogUseCase
	inventory InventoryUseCase
	analytics AnalyticsUseCase
	health    HealthChecker
	tracer    trace.Tracer
}

func NewCafeHandler(
	checkoutUseCase CheckoutUseCase,
	catalog CatalogUseCase,
	inventory InventoryUseCase,
	analyticsUseCase AnalyticsUseCase,
	health HealthChecker,
	tracer trace.Tracer,
) *CafeHandler {
	return &CafeHandler{
		checkout:  checkoutUseCase,
		catalog:   catalog,
		inventory: inventory,
		analytics: analyticsUseCase,
		health:    health,
		tracer:    tracer,
	}
}

func (h *CafeHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.POST("/checkout", h.Checkout)
	api.GET("/orders/:id", h.GetOrder)
	api.GET("/menu", h.Menu)
	api.PUT("/menu/:id/recipe", h.ReplaceRecipe)
	api.GET("/inventory", h.Inventory)
	api.GET("/inventory/:id/movements", h.Movements)
	api.POST("/inventory/:id/restock", h.Restock)
	api.GET("/analytics/summary", h.Summary)
}

func (h *CafeHandler) Checkout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.checkout")
	defer span.End()

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("cart.lines", len(req.Items)))

	lines, err := req.cartLines()
	if err != nil {
		span.RecordError(err)
		c.JSON(checkoutStatus(err), checkoutErrorBody(err))
		return
	}

	order, err := h.checkout.SubmitCheckout(ctx, lines)
	if err != nil {
		span.RecordError(err)
		c.JSON(checkoutStatus(err), checkoutErrorBody(err))
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusCreated, order)
}

func (h *CafeHandler) GetOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *CafeHandler) Menu(c *gin.Context) {
	items, err := h.catalog.Menu(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *CafeHandler) ReplaceRecipe(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.replace_recipe")
	defer span.End()

	var req RecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requirements := make([]checkout.RecipeRequirement, len(req.Requirements))
	for i, r := range req.Requirements {
		requirements[i] = checkout.RecipeRequirement{
			IngredientID:     r.IngredientID,
			QuantityRequired: r.QuantityRequired,
		}
	}

	menuItemID := c.Param("id")
	if err := h.catalog.ReplaceRecipe(ctx, menuItemID, requirements); err != nil {
		span.RecordError(err)
		status := errorStatus(err)
		if errors.Is(err, checkout.ErrIngredientNotFound) {
			// the menu item exists, the body names an unknown ingredient
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"menu_item_id": menuItemID, "requirements": requirements})
}

func (h *CafeHandler) Inventory(c *gin.Context) {
	ingredients, err := h.inventory.Ingredients(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingredients": ingredients})
}

func (h *CafeHandler) Movements(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	movements, err := h.inventory.Movements(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

func (h *CafeHandler) Restock(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.restock")
	defer span.End()

	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ingredient, err := h.inventory.Restock(ctx, c.Param("id"), req.Amount)
	if err != nil {
		span.RecordError(err)
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ingredient)
}

// Summary accepts RFC 3339 from and to bounds, both optional.
func (h *CafeHandler) Summary(c *gin.Context) {
	var (
		r   analytics.DateRange
		err error
	)
	if raw := c.Query("from"); raw != "" {
		if r.From, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if r.To, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is before from"})
		return
	}

	summary, err := h.analytics.Summarize(c.Request.Context(), r)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *CafeHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cafe-service",
	})
}

// checkoutStatus maps a checkout failure to its HTTP status.
func checkoutStatus(err error) int {
	reason, ok := checkout.ReasonOf(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch reason {
	case checkout.ReasonInvalidItem, checkout.ReasonInvalidQuantity:
		return http.StatusBadRequest
	case checkout.ReasonInsufficientStock:
		return http.StatusConflict
	case checkout.ReasonTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func checkoutErrorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}

	var rejected *checkout.RejectedError
	if errors.As(err, &rejected) {
		body["reason"] = rejected.Reason
		if rejected.Line >= 0 {
			body["line"] = rejected.Line
			body["menu_item_id"] = rejected.MenuItemID
		}
		if len(rejected.Shortages) > 0 {
			body["shortages"] = rejected.Shortages
		}
		return body
	}

	var aborted *checkout.AbortedError
	if errors.As(err, &aborted) {
		body["reason"] = aborted.Reason
		// infrastructure detail stays in the logs
		body["error"] = "checkout aborted: " + string(aborted.Reason)
	}
	return body
}

// errorStatus maps the errors of the admin and lookup endpoints.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, checkout.ErrNotFound), errors.Is(err, checkout.ErrIngredientNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrInvalidAmount), errors.Is(err, checkout.ErrInvalidRecipe):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
