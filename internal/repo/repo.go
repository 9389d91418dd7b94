package repo

import (
	"context"
	"database/sql"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type OrderRepo interface {
	// CreateOrder inserts the order and its items and assigns the order number.
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindByIdForUpdate reads the order and holds a row lock until the transaction ends.
	FindByIdForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// UpdateOrderStatus persists the lifecycle fields of order, but only if the stored status is still from.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.OrderPaymentStatus) error
	// SetInventoryHeld flips the hold flag and reports whether it changed.
	SetInventoryHeld(ctx context.Context, id uuid.UUID, held bool) (bool, error)
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
	CountPaidWithCoupon(ctx context.Context, customerID uuid.UUID, code string) (int, error)
}

// PaymentCompletion is the gateway-confirmed outcome written onto a pending payment.
type PaymentCompletion struct {
	Status          domain.PaymentStatus
	GatewayRef      string
	Method          domain.PaymentMethod
	FailureReason   string
	GatewayResponse string
	PaidAt          *time.Time
}

type PaymentRepo interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindByReference(ctx context.Context, reference string) (*domain.Payment, error)
	FindByReferenceForUpdate(ctx context.Context, reference string) (*domain.Payment, error)
	// FindCollectedByOrder returns and locks the order's successful payment, refunded or not.
	FindCollectedByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	FindLatestByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	SetGatewayDetails(ctx context.Context, reference, gatewayRef, authorizationURL string) error
	// Complete settles a payment only while it is still pending or processing; false means another caller won.
	Complete(ctx context.Context, reference string, c PaymentCompletion) (bool, error)
	// ApplyRefund adds amount to refunded_amount only if the result stays within the payment amount.
	ApplyRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, status domain.PaymentStatus) (bool, error)
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

type RefundRepo interface {
	CreateRefund(ctx context.Context, refund *domain.Refund) error
	FindByReference(ctx context.Context, reference string) (*domain.Refund, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Refund, error)
	// SumOpenByPayment totals refunds for the payment that are still pending or processing.
	SumOpenByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	// Finish moves a refund to a terminal status; false means it was already terminal.
	Finish(ctx context.Context, refund *domain.Refund) (bool, error)
	// FindStalePending lists refunds created before the cutoff that never reached a terminal status.
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Refund, error)
}

type CouponRepo interface {
	CreateCoupon(ctx context.Context, coupon *domain.Coupon) error
	// FindByCode matches case-insensitively and skips archived coupons.
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
	// IncrementUsage bumps times_used unless the usage limit is reached.
	IncrementUsage(ctx context.Context, id uuid.UUID) (bool, error)
}

type InventoryRepo interface {
	CreateProduct(ctx context.Context, product *domain.Product) error
	FindProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	// DecrementStock is a conditional decrement; false means the stock floor would be violated.
	DecrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
	RestoreStock(ctx context.Context, id uuid.UUID, quantity int) error
	ListByBand(ctx context.Context, band domain.StockBand, limit int) ([]domain.Product, error)
}

// Repos groups repositories bound to the same connection or transaction.
type Repos struct {
	Orders    OrderRepo
	Payments  PaymentRepo
	Refunds   RefundRepo
	Coupons   CouponRepo
	Inventory InventoryRepo
}

// Store is the unit-of-work boundary. Everything done through the Repos passed to fn commits
// together or not at all.
type Store interface {
	Repos() Repos
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
