package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitionTable(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderPending:    {OrderConfirmed, OrderCancelled},
		OrderConfirmed:  {OrderProcessing, OrderCancelled},
		OrderProcessing: {OrderShipped, OrderCancelled},
		OrderShipped:    {OrderDelivered, OrderCancelled},
		OrderDelivered:  {OrderRefunded},
	}
	for _, from := range OrderStatuses() {
		for _, to := range OrderStatuses() {
			want := false
			for _, s := range allowed[from] {
				want = want || s == to
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, OrderCancelled.IsTerminal())
	assert.True(t, OrderRefunded.IsTerminal())
	assert.False(t, OrderDelivered.IsTerminal())
	assert.True(t, OrderShipped.IsExceptional(OrderCancelled))
	assert.False(t, OrderPending.IsExceptional(OrderCancelled))
}

func TestOrderTransition(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{Status: OrderProcessing}

	changed, err := o.Transition(OrderProcessing, "", "", at)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = o.Transition(OrderShipped, "", "TRK-9", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "TRK-9", o.TrackingNumber)
	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, at, *o.ShippedAt)

	_, err = o.Transition(OrderRefunded, "", "", at)
	var ite *IllegalTransitionError
	require.True(t, errors.As(err, &ite))
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, []OrderStatus{OrderDelivered, OrderCancelled}, ite.Allowed)
	assert.Equal(t, OrderShipped, o.Status)

	changed, err = o.Transition(OrderCancelled, "lost", "", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "lost", o.CancellationReason)
	assert.NotNil(t, o.CancelledAt)

	_, err = o.Transition("archived", "", "", at)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAllowedTransitionsIsACopy(t *testing.T) {
	got := OrderPending.AllowedTransitions()
	got[0] = OrderRefunded
	assert.True(t, OrderPending.CanTransitionTo(OrderConfirmed))
}

func TestOrderCheckTotals(t *testing.T) {
	o := &Order{
		Subtotal:       decimal.RequireFromString("90000"),
		DiscountAmount: decimal.RequireFromString("9000"),
		ShippingAmount: decimal.RequireFromString("1500"),
		TaxAmount:      decimal.RequireFromString("6075"),
		Total:          decimal.RequireFromString("88575"),
	}
	require.NoError(t, o.CheckTotals())

	o.Total = decimal.RequireFromString("88576")
	assert.ErrorIs(t, o.CheckTotals(), ErrValidation)
}

func TestOrderCloneIsDeep(t *testing.T) {
	at := time.Now()
	o := &Order{Items: []OrderItem{{Quantity: 1}}, ShippedAt: &at}
	c := o.Clone()
	c.Items[0].Quantity = 5
	*c.ShippedAt = at.Add(time.Hour)
	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, at, *o.ShippedAt)
}
