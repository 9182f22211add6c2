package checkout

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder(t *testing.T) {
	// Arrange
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []OrderItem{
		{MenuItemID: "latte", Quantity: 2, UnitPrice: decimal.RequireFromString("3.75")},
		{MenuItemID: "croissant", Quantity: 3, UnitPrice: decimal.RequireFromString("2.00")},
	}

	// Act
	order := NewOrder("order-1", items, createdAt)

	// Assert
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, "13.50", order.TotalAmount.StringFixed(2))
	assert.Equal(t, createdAt, order.CreatedAt)
	assert.Len(t, order.Items, 2)
}

func TestNewOrder_TotalHasNoFloatDrift(t *testing.T) {
	items := make([]OrderItem, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, OrderItem{MenuItemID: "x", Quantity: 1, UnitPrice: decimal.RequireFromString("0.10")})
	}

	order := NewOrder("order-1", items, time.Now())

	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(1)), "got %s", order.TotalAmount)
}

func TestOrderTransitions(t *testing.T) {
	order := NewOrder("order-1", nil, time.Now())

	require.NoError(t, order.Complete())
	assert.Equal(t, OrderStatusCompleted, order.Status)

	assert.Error(t, order.Complete())
	assert.Error(t, order.Fail())

	failed := NewOrder("order-2", nil, time.Now())
	require.NoError(t, failed.Fail())
	assert.Equal(t, OrderStatusFailed, failed.Status)
}

func TestRequirement_AddSums(t *testing.T) {
	req := Requirement{}

	req.Add("milk", decimal.RequireFromString("150"))
	req.Add("espresso-beans", decimal.RequireFromString("18"))
	req.Add("milk", decimal.RequireFromString("200.5"))

	assert.Equal(t, "350.5", req["milk"].String())
	assert.Equal(t, []string{"espresso-beans", "milk"}, req.IngredientIDs())
}

func TestReasonOf(t *testing.T) {
	reason, ok := ReasonOf(&RejectedError{Reason: ReasonInvalidItem, Line: 0})
	assert.True(t, ok)
	assert.Equal(t, ReasonInvalidItem, reason)

	reason, ok = ReasonOf(&AbortedError{Reason: ReasonTimeout})
	assert.True(t, ok)
	assert.Equal(t, ReasonTimeout, reason)

	_, ok = ReasonOf(assert.AnError)
	assert.False(t, ok)
}

func TestErrorsWrapSentinels(t *testing.T) {
	assert.ErrorIs(t, &RejectedError{Reason: ReasonInsufficientStock}, ErrInsufficientStock)
	assert.ErrorIs(t, &RejectedError{Reason: ReasonInvalidQuantity}, ErrInvalidQuantity)
	assert.ErrorIs(t, &StockError{}, ErrInsufficientStock)

	aborted := &AbortedError{Reason: ReasonPersistenceFailure, Err: assert.AnError}
	assert.ErrorIs(t, aborted, ErrPersistenceFailure)
	assert.ErrorIs(t, aborted, assert.AnError)
	assert.ErrorIs(t, &AbortedError{Reason: ReasonTimeout}, ErrTimeout)
}
