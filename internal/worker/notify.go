package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/service"
	"cloudpay-cashier/internal/upstream"
)

const (
	defaultQueueSize    = 256
	defaultRecoverEvery = time.Minute
	recoverBatch        = 100
)

type NotifyStore interface {
	FindByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error)
	FindByNotifyStatus(ctx context.Context, status domain.NotifyStatus, limit int) ([]domain.Order, error)
	UpdateNotifyStatus(ctx context.Context, orderNo string, status domain.NotifyStatus) error
}

type NotifyOptions struct {
	Async        bool
	Workers      int
	QueueSize    int
	RecoverEvery time.Duration
}

// NotifyWorker delivers PAID events to the upstream platform. Paid orders are
// persisted with notify_status=queued before they reach it, so anything lost
// to a crash or a full queue is picked up again by Recover.
type NotifyWorker struct {
	store   NotifyStore
	runtime service.RuntimeSource
	opts    NotifyOptions
	queue   chan string
	logger  *slog.Logger

	inflight sync.Map
}

func NewNotifyWorker(store NotifyStore, runtime service.RuntimeSource, opts NotifyOptions, logger *slog.Logger) *NotifyWorker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.RecoverEvery <= 0 {
		opts.RecoverEvery = defaultRecoverEvery
	}
	return &NotifyWorker{
		store:   store,
		runtime: runtime,
		opts:    opts,
		queue:   make(chan string, opts.QueueSize),
		logger:  logger.With("worker", "notify"),
	}
}

// Notify implements service.Notifier. In synchronous mode it blocks for the
// whole retry schedule.
func (w *NotifyWorker) Notify(ctx context.Context, order *domain.Order) {
	if !w.opts.Async {
		w.Deliver(context.WithoutCancel(ctx), order)
		return
	}
	w.enqueue(order.OrderNo)
}

func (w *NotifyWorker) enqueue(orderNo string) bool {
	select {
	case w.queue <- orderNo:
		return true
	default:
		w.logger.Warn("notify queue full; left for recovery", "order_no", orderNo)
		return false
	}
}

// Run starts the worker pool and the recovery loop, and blocks until ctx is
// done and every worker has returned.
func (w *NotifyWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}

	w.logger.Info("notify worker started", "workers", w.opts.Workers, "async", w.opts.Async)
	if _, err := w.Recover(ctx); err != nil {
		w.logger.Error("notify recovery failed", "error", err.Error())
	}

	ticker := time.NewTicker(w.opts.RecoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			if _, err := w.Recover(ctx); err != nil {
				w.logger.Error("notify recovery failed", "error", err.Error())
			}
		}
	}
}

func (w *NotifyWorker) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case orderNo := <-w.queue:
			w.deliverQueued(ctx, orderNo)
		}
	}
}

// deliverQueued reloads the order under the in-flight guard so a duplicate
// queue entry sees the status written by the earlier delivery.
func (w *NotifyWorker) deliverQueued(ctx context.Context, orderNo string) {
	if _, busy := w.inflight.LoadOrStore(orderNo, struct{}{}); busy {
		return
	}
	defer w.inflight.Delete(orderNo)

	order, err := w.store.FindByOrderNo(ctx, orderNo)
	if err != nil {
		w.logger.Error("load order for notification", "order_no", orderNo, "error", err.Error())
		return
	}
	if order.NotifyStatus != domain.NotifyQueued {
		return
	}
	w.dispatch(ctx, order)
}

// Recover re-enqueues paid orders still waiting for delivery.
func (w *NotifyWorker) Recover(ctx context.Context) (int, error) {
	orders, err := w.store.FindByNotifyStatus(ctx, domain.NotifyQueued, recoverBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range orders {
		if _, busy := w.inflight.Load(o.OrderNo); busy {
			continue
		}
		if !w.enqueue(o.OrderNo) {
			break
		}
		n++
	}
	if n > 0 {
		w.logger.Info("re-enqueued pending notifications", "count", n)
	}
	return n, nil
}

// Deliver runs the dispatcher for one order and records the outcome. Only one
// delivery per order runs at a time in this process.
func (w *NotifyWorker) Deliver(ctx context.Context, order *domain.Order) upstream.DispatchResult {
	if _, busy := w.inflight.LoadOrStore(order.OrderNo, struct{}{}); busy {
		return upstream.DispatchResult{}
	}
	defer w.inflight.Delete(order.OrderNo)
	return w.dispatch(ctx, order)
}

func (w *NotifyWorker) dispatch(ctx context.Context, order *domain.Order) upstream.DispatchResult {
	res := w.runtime.Current().Dispatcher.Dispatch(ctx, order)
	if ctx.Err() != nil {
		// Interrupted by shutdown; the order stays queued for the next start.
		return res
	}
	if err := w.store.UpdateNotifyStatus(ctx, order.OrderNo, res.NotifyStatus()); err != nil {
		w.logger.Error("update notify status", "order_no", order.OrderNo, "error", err.Error())
	}
	return res
}
