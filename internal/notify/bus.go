// Package notify delivers domain events to customer-facing sinks. Delivery is fire-and-forget:
// a slow or failing sink never blocks or rolls back the operation that emitted the event.
package notify

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/observability"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: bus stopped")
)

const (
	defaultQueueSize   = 1024
	defaultConcurrency = 8
	handlerTimeout     = 30 * time.Second
)

// Bus is an in-memory, non-durable event fanout.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]domain.EventHandler
	queue       chan domain.Event
	stopped     bool
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
	concurrency int
	log         *zap.Logger
	metrics     *observability.Metrics
}

func NewBus(logger *zap.Logger, metrics *observability.Metrics) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:        make(map[string][]domain.EventHandler),
		queue:       make(chan domain.Event, defaultQueueSize),
		concurrency: defaultConcurrency,
		log:         logger.With(zap.String("component", "notify")),
		metrics:     metrics,
	}
}

var _ domain.Publisher = (*Bus)(nil)

func (b *Bus) Subscribe(eventName string, h domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.dispatchLoop(context.WithoutCancel(ctx))
		b.log.Info("event_bus_started")
	})
}

// Stop closes the queue and waits for queued events to be delivered or ctx to end.
func (b *Bus) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		close(b.queue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.log.Info("event_bus_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues e without waiting for delivery. A full queue drops the event.
func (b *Bus) Publish(ctx context.Context, e domain.Event) error {
	if e == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrStopped
	}

	select {
	case b.queue <- e:
		logging.FromContext(ctx).Debug("event_enqueued", zap.String("event", e.EventName()))
		return nil
	default:
		b.metrics.NotificationFailed(e.EventName())
		logging.FromContext(ctx).Warn("event_dropped_queue_full", zap.String("event", e.EventName()))
		return ErrQueueFull
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for e := range b.queue {
		b.fanout(ctx, e)
	}
}

func (b *Bus) fanout(ctx context.Context, e domain.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]domain.EventHandler(nil), b.subs[name]...)
	b.mu.RUnlock()

	logger := b.log.With(zap.String("event", name))
	if len(handlers) == 0 {
		logger.Debug("event_dropped_no_subscriber")
		return
	}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.metrics.NotificationFailed(name)
					logger.Error("event_handler_panic",
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(logging.ContextWithLogger(ctx, logger), handlerTimeout)
			defer cancel()
			if err := h(hctx, e); err != nil {
				b.metrics.NotificationFailed(name)
				logger.Warn("event_handler_error", zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
