package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/repo"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]domain.Order)}
}

func (m *memStore) FindByOrderNo(_ context.Context, orderNo string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNo]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (m *memStore) Create(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.OrderNo]; ok {
		return domain.ErrDuplicateOrder
	}
	m.nextID++
	order.ID = m.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.OrderNo] = *order
	return nil
}

func (m *memStore) MarkProcessing(_ context.Context, orderNo, paymentType string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNo]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !o.Status.CanTransitionTo(domain.OrderProcessing) {
		return nil, domain.ErrInvalidTransition
	}
	o.Status = domain.OrderProcessing
	o.PaymentType = paymentType
	m.orders[orderNo] = o
	return &o, nil
}

func (m *memStore) MarkPaid(_ context.Context, orderNo, tradeNo string, paidAt time.Time, notify domain.NotifyStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNo]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.Status == domain.OrderPaid {
		return false, nil
	}
	o.Status = domain.OrderPaid
	o.TradeNo = tradeNo
	o.PaidAt = &paidAt
	o.NotifyStatus = notify
	m.orders[orderNo] = o
	return true, nil
}

func (m *memStore) List(_ context.Context, filter repo.ListFilter) ([]domain.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(o.OrderNo, filter.Search) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := int64(len(out))
	start := (filter.Page - 1) * filter.Limit
	if start > len(out) {
		start = len(out)
	}
	end := start + filter.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (m *memStore) Stats(context.Context) (domain.OrderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s domain.OrderStats
	for _, o := range m.orders {
		s.Total++
		switch o.Status {
		case domain.OrderPending:
			s.Pending++
		case domain.OrderProcessing:
			s.Processing++
		case domain.OrderPaid:
			s.Paid++
			s.PaidAmountMinor += o.Amount
		}
	}
	return s, nil
}

func (m *memStore) DeleteExpiredPending(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, o := range m.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(before) {
			delete(m.orders, k)
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (r *recordingNotifier) Notify(_ context.Context, order *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order.OrderNo)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":             "postgres://cashier@localhost/cashier",
		"CASHIER_URL":              "http://cashier.test",
		"EPAY_API_URL":             "https://pay.test",
		"EPAY_PID":                 "1000",
		"EPAY_KEY":                 "merchant-key",
		"ALLOWED_CALLBACK_DOMAINS": "x.test",
	}
}

func mapLookup(m map[string]string) config.Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
