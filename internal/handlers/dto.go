package handlers

import (
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type cartRequest struct {
	Lines      []domain.CartLine `json:"lines" binding:"required,min=1"`
	CouponCode string            `json:"coupon_code"`
	Currency   string            `json:"currency"`
}

func (r cartRequest) cart() domain.Cart {
	return domain.Cart{Lines: r.Lines, CouponCode: r.CouponCode, Currency: r.Currency}
}

type checkoutRequest struct {
	cartRequest
	CustomerEmail   string         `json:"customer_email"`
	ShippingAddress domain.Address `json:"shipping_address"`
	BillingAddress  domain.Address `json:"billing_address"`
}

type statusRequest struct {
	Status         domain.OrderStatus `json:"status" binding:"required"`
	Reason         string             `json:"reason"`
	TrackingNumber string             `json:"tracking_number"`
	AdminNotes     string             `json:"admin_notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type refundRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	AdminNotes string          `json:"admin_notes"`
}

type orderItemResponse struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type orderResponse struct {
	ID                 uuid.UUID                 `json:"id"`
	OrderNumber        string                    `json:"order_number"`
	CustomerID         uuid.UUID                 `json:"customer_id"`
	CustomerEmail      string                    `json:"customer_email"`
	Status             domain.OrderStatus        `json:"status"`
	PaymentStatus      domain.OrderPaymentStatus `json:"payment_status"`
	AllowedTransitions []domain.OrderStatus      `json:"allowed_transitions"`
	Currency           string                    `json:"currency"`
	Subtotal           decimal.Decimal           `json:"subtotal"`
	Discount           decimal.Decimal           `json:"discount_amount"`
	Shipping           decimal.Decimal           `json:"shipping_amount"`
	Tax                decimal.Decimal           `json:"tax_amount"`
	Total              decimal.Decimal           `json:"total"`
	CouponCode         string                    `json:"coupon_code,omitempty"`
	Items              []orderItemResponse       `json:"items"`
	ShippingAddress    domain.Address            `json:"shipping_address"`
	BillingAddress     domain.Address            `json:"billing_address"`
	TrackingNumber     string                    `json:"tracking_number,omitempty"`
	CancellationReason string                    `json:"cancellation_reason,omitempty"`
	AdminNotes         string                    `json:"admin_notes,omitempty"`
	Archived           bool                      `json:"archived,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
	ShippedAt          *time.Time                `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time                `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time                `json:"cancelled_at,omitempty"`
}

// newOrderResponse hides admin notes from customers.
func newOrderResponse(o *domain.Order, actor domain.Actor) *orderResponse {
	if o == nil {
		return nil
	}
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Discount:    it.Discount,
			Tax:         it.Tax,
			LineTotal:   it.LineTotal,
		})
	}
	resp := &orderResponse{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		CustomerID:         o.CustomerID,
		CustomerEmail:      o.CustomerEmail,
		Status:             o.Status,
		PaymentStatus:      o.PaymentStatus,
		AllowedTransitions: o.Status.AllowedTransitions(),
		Currency:           o.Currency,
		Subtotal:           o.Subtotal,
		Discount:           o.DiscountAmount,
		Shipping:           o.ShippingAmount,
		Tax:                o.TaxAmount,
		Total:              o.Total,
		CouponCode:         o.CouponCode,
		Items:              items,
		ShippingAddress:    o.ShippingAddress,
		BillingAddress:     o.BillingAddress,
		TrackingNumber:     o.TrackingNumber,
		CancellationReason: o.CancellationReason,
		Archived:           !o.Visible(),
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		ShippedAt:          o.ShippedAt,
		DeliveredAt:        o.DeliveredAt,
		CancelledAt:        o.CancelledAt,
	}
	if actor.IsAdmin() {
		resp.AdminNotes = o.AdminNotes
	}
	return resp
}

type paymentResponse struct {
	ID               uuid.UUID            `json:"id"`
	OrderID          uuid.UUID            `json:"order_id"`
	Reference        string               `json:"reference"`
	Amount           decimal.Decimal      `json:"amount"`
	RefundedAmount   decimal.Decimal      `json:"refunded_amount"`
	Currency         string               `json:"currency"`
	Status           domain.PaymentStatus `json:"status"`
	Method           domain.PaymentMethod `json:"method"`
	AuthorizationURL string               `json:"authorization_url,omitempty"`
	FailureReason    string               `json:"failure_reason,omitempty"`
	PaidAt           *time.Time           `json:"paid_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

func newPaymentResponse(p *domain.Payment) *paymentResponse {
	if p == nil {
		return nil
	}
	return &paymentResponse{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Reference:        p.Reference,
		Amount:           p.Amount,
		RefundedAmount:   p.RefundedAmount,
		Currency:         p.Currency,
		Status:           p.Status,
		Method:           p.Method,
		AuthorizationURL: p.AuthorizationURL,
		FailureReason:    p.FailureReason,
		PaidAt:           p.PaidAt,
		CreatedAt:        p.CreatedAt,
	}
}

type checkoutResponse struct {
	Order            *orderResponse   `json:"order"`
	Payment          *paymentResponse `json:"payment"`
	AuthorizationURL string           `json:"authorization_url"`
}

func newCheckoutResponse(res *service.CheckoutResult, actor domain.Actor) checkoutResponse {
	return checkoutResponse{
		Order:            newOrderResponse(res.Order, actor),
		Payment:          newPaymentResponse(res.Payment),
		AuthorizationURL: res.AuthorizationURL,
	}
}

type verifyResponse struct {
	Payment  *paymentResponse `json:"payment"`
	Order    *orderResponse   `json:"order,omitempty"`
	Replayed bool             `json:"replayed"`
}

type refundResponse struct {
	ID            uuid.UUID           `json:"id"`
	Reference     string              `json:"reference"`
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentID     uuid.UUID           `json:"payment_id"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	Status        domain.RefundStatus `json:"status"`
	Reason        string              `json:"reason,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func newRefundResponse(r *domain.Refund) refundResponse {
	return refundResponse{
		ID:            r.ID,
		Reference:     r.Reference,
		OrderID:       r.OrderID,
		PaymentID:     r.PaymentID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        r.Status,
		Reason:        r.Reason,
		FailureReason: r.FailureReason,
		ProcessedAt:   r.ProcessedAt,
		CreatedAt:     r.CreatedAt,
	}
}

type quoteResponse struct {
	Subtotal decimal.Decimal     `json:"subtotal"`
	Discount decimal.Decimal     `json:"discount_amount"`
	Shipping decimal.Decimal     `json:"shipping_amount"`
	Tax      decimal.Decimal     `json:"tax_amount"`
	Total    decimal.Decimal     `json:"total"`
	Items    []orderItemResponse `json:"items"`
}

func newQuoteResponse(q *domain.Quote) quoteResponse {
	items := make([]orderItemResponse, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Discount:    it.Discount,
			Tax:         it.Tax,
			LineTotal:   it.LineTotal,
		})
	}
	return quoteResponse{
		Subtotal: q.Subtotal,
		Discount: q.Discount,
		Shipping: q.Shipping,
		Tax:      q.Tax,
		Total:    q.Total,
		Items:    items,
	}
}

type productResponse struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	SKU               string           `json:"sku,omitempty"`
	Price             decimal.Decimal  `json:"price"`
	StockQuantity     int              `json:"stock_quantity"`
	LowStockThreshold int              `json:"low_stock_threshold"`
	Band              domain.StockBand `json:"stock_band"`
}

func newProductResponse(p *domain.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		Name:              p.Name,
		SKU:               p.SKU,
		Price:             p.Price,
		StockQuantity:     p.StockQuantity,
		LowStockThreshold: p.LowStockThreshold,
		Band:              p.Band(),
	}
}
