package service

import (
	"context"
	"fmt"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/observability"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StatusUpdate is an operator request to move an order along its lifecycle.
type StatusUpdate struct {
	Status         domain.OrderStatus
	Reason         string
	TrackingNumber string
	AdminNotes     string
}

type OrderService interface {
	GetOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, u StatusUpdate) (*domain.Order, error)
	CancelOrder(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.Order, error)
	ArchiveOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	PreviewDiscount(ctx context.Context, actor domain.Actor, cart domain.Cart) (*domain.Quote, error)
	ListProductsByStockBand(ctx context.Context, actor domain.Actor, band domain.StockBand, limit int) ([]domain.Product, error)
}

type orderService struct {
	store     repo.Store
	ledger    *InventoryLedger
	discounts *DiscountCalculator
	pricing   domain.PricingPolicy
	publisher domain.Publisher
	tel       *observability.Telemetry
	now       func() time.Time
}

func NewOrderService(
	store repo.Store,
	ledger *InventoryLedger,
	discounts *DiscountCalculator,
	pricing domain.PricingPolicy,
	publisher domain.Publisher,
	tel *observability.Telemetry,
) OrderService {
	if tel == nil {
		tel = observability.Nop()
	}
	return &orderService{
		store:     store,
		ledger:    ledger,
		discounts: discounts,
		pricing:   pricing,
		publisher: publisher,
		tel:       tel,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *orderService) GetOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
	o, err := s.store.Repos().Orders.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessOrder(o) {
		return nil, domain.ErrNotFound
	}
	if !o.Visible() && !actor.IsAdmin() {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, u StatusUpdate) (order *domain.Order, err error) {
	ctx, run := s.tel.Start(ctx, "order.update_status", "UpdateOrderStatus",
		attribute.String("order.id", id.String()),
		attribute.String("order.requested_status", string(u.Status)),
	)
	defer func() { finish(run, err) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("update order status: %w", domain.ErrForbidden)
	}
	return s.applyStatus(ctx, run, id, u, nil)
}

// CancelOrder lets admins cancel per the transition table and customers cancel their own order
// while it is still pending or confirmed.
func (s *orderService) CancelOrder(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (order *domain.Order, err error) {
	ctx, run := s.tel.Start(ctx, "order.cancel", "CancelOrder", attribute.String("order.id", id.String()))
	defer func() { finish(run, err) }()

	guard := func(o *domain.Order) error {
		if actor.IsAdmin() {
			return nil
		}
		if !actor.CanAccessOrder(o) || !o.Visible() {
			return domain.ErrNotFound
		}
		if o.Status != domain.OrderPending && o.Status != domain.OrderConfirmed && o.Status != domain.OrderCancelled {
			return fmt.Errorf("customers may only cancel pending or confirmed orders: %w", domain.ErrForbidden)
		}
		return nil
	}
	return s.applyStatus(ctx, run, id, StatusUpdate{Status: domain.OrderCancelled, Reason: reason}, guard)
}

func (s *orderService) applyStatus(ctx context.Context, run *observability.Run, id uuid.UUID, u StatusUpdate, guard func(*domain.Order) error) (*domain.Order, error) {
	var (
		order  *domain.Order
		events []domain.Event
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		o, err := r.Orders.FindByIdForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(o); err != nil {
				return err
			}
		}
		ev, err := transitionOrder(ctx, r, s.ledger, o, u, s.now())
		if err != nil {
			return err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		run.Status("NO_OP")
	}
	run.With(zap.String("order_id", id.String()), zap.String("order_status", string(order.Status)))
	publish(ctx, s.publisher, events...)
	return order, nil
}

// transitionOrder validates u against the order as currently persisted and writes the result with
// a status compare-and-set. Entering cancelled restores stock if the order still holds it.
func transitionOrder(ctx context.Context, r repo.Repos, ledger *InventoryLedger, o *domain.Order, u StatusUpdate, now time.Time) (*domain.OrderStatusChanged, error) {
	old := o.Status
	changed, err := o.Transition(u.Status, u.Reason, u.TrackingNumber, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	if u.AdminNotes != "" {
		if o.AdminNotes != "" {
			o.AdminNotes += "\n"
		}
		o.AdminNotes += u.AdminNotes
	}
	if err := r.Orders.UpdateOrderStatus(ctx, o, old); err != nil {
		return nil, err
	}

	if o.Status == domain.OrderCancelled {
		if err := releaseHeldStock(ctx, r, ledger, o); err != nil {
			return nil, err
		}
	}
	if old.IsExceptional(o.Status) {
		logging.FromContext(ctx).Warn("order_cancelled_after_shipment",
			zap.String("order_id", o.ID.String()),
			zap.String("tracking_number", o.TrackingNumber),
		)
	}

	ev := domain.NewOrderStatusChanged(o, old)
	return &ev, nil
}

// releaseHeldStock restores the order's lines once, however many paths try to release them.
func releaseHeldStock(ctx context.Context, r repo.Repos, ledger *InventoryLedger, o *domain.Order) error {
	released, err := r.Orders.SetInventoryHeld(ctx, o.ID, false)
	if err != nil {
		return err
	}
	o.InventoryHeld = false
	if !released {
		return nil
	}
	return ledger.RestoreItems(ctx, r, o.Items)
}

func (s *orderService) ArchiveOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (err error) {
	ctx, run := s.tel.Start(ctx, "order.archive", "ArchiveOrder", attribute.String("order.id", id.String()))
	defer func() { finish(run, err) }()

	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return s.store.Repos().Orders.Archive(ctx, id, s.now())
}

func (s *orderService) PreviewDiscount(ctx context.Context, actor domain.Actor, cart domain.Cart) (quote *domain.Quote, err error) {
	ctx, run := s.tel.Start(ctx, "coupon.preview", "PreviewDiscount")
	defer func() { finish(run, err) }()

	if err := cart.Validate(); err != nil {
		return nil, err
	}
	applied, err := s.discounts.Calculate(ctx, s.store.Repos(), actor.ID, cart.CouponCode, cart.Lines)
	if err != nil {
		return nil, err
	}
	q := s.pricing.Quote(cart.Lines, applied.Amount, applied.Eligible)
	return &q, nil
}

func (s *orderService) ListProductsByStockBand(ctx context.Context, actor domain.Actor, band domain.StockBand, limit int) ([]domain.Product, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	switch band {
	case domain.StockUntracked, domain.StockIn, domain.StockLow, domain.StockOut:
	default:
		return nil, domain.Validationf("unknown stock band %q", band)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Repos().Inventory.ListByBand(ctx, band, limit)
}
