package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/service"
)

type StuckOrderFinder interface {
	FindStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Order, error)
}

type Settler interface {
	Settle(ctx context.Context, order *domain.Order, tradeNo, money string) (bool, error)
}

// ReconciliationWorker asks the gateway about orders that have sat in
// processing without a callback, and settles the ones it reports paid.
type ReconciliationWorker struct {
	orders   StuckOrderFinder
	settler  Settler
	runtime  service.RuntimeSource
	interval time.Duration
	after    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciliationWorker(
	orders StuckOrderFinder,
	settler Settler,
	runtime service.RuntimeSource,
	interval time.Duration,
	after time.Duration,
	logger *slog.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orders:   orders,
		settler:  settler,
		runtime:  runtime,
		interval: interval,
		after:    after,
		logger:   logger.With("worker", "reconciliation"),
		now:      time.Now,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	if rw.interval <= 0 {
		return
	}
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started", "interval", rw.interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rw.Process(ctx); err != nil {
				rw.logger.Error("reconciliation failed", "error", err.Error())
			}
		}
	}
}

// Process checks one batch of stuck orders and returns how many were settled.
func (rw *ReconciliationWorker) Process(ctx context.Context) (int, error) {
	gw := rw.runtime.Current().Gateway
	if gw == nil {
		return 0, nil
	}

	stuck, err := rw.orders.FindStuckProcessing(ctx, rw.now().Add(-rw.after), 50)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}
	rw.logger.Info("found stuck orders", "count", len(stuck))

	settled := 0
	for i := range stuck {
		order := &stuck[i]
		res, err := gw.QueryOutTradeNo(ctx, order.OrderNo)
		if errors.Is(err, domain.ErrUnsupportedOperation) {
			rw.logger.Debug("active gateway scheme cannot query orders; skipping reconciliation")
			return settled, nil
		}
		if err != nil {
			rw.logger.Warn("query stuck order", "order_no", order.OrderNo, "error", err.Error())
			continue
		}
		if !res.Paid() {
			continue
		}
		if res.OutTradeNo != order.OrderNo {
			rw.logger.Error("gateway query returned a different order", "order_no", order.OrderNo, "out_trade_no", res.OutTradeNo)
			continue
		}

		applied, err := rw.settler.Settle(ctx, order, res.TradeNo, res.Money)
		if err != nil {
			rw.logger.Error("settle stuck order", "order_no", order.OrderNo, "error", err.Error())
			continue
		}
		if applied {
			settled++
			rw.logger.Info("stuck order settled from gateway query", "order_no", order.OrderNo, "trade_no", res.TradeNo)
		}
	}
	return settled, nil
}
