package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/repo"
)

type AdminOrderStore interface {
	List(ctx context.Context, filter repo.ListFilter) ([]domain.Order, int64, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
	DeleteExpiredPending(ctx context.Context, createdBefore time.Time) (int64, error)
}

type AttemptLog interface {
	ListByOrderNo(ctx context.Context, orderNo string, limit int) ([]domain.NotifyAttempt, error)
}

type ConfigStore interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
}

// Reloader rebuilds the active runtime from environment and stored overrides.
type Reloader interface {
	Reload(ctx context.Context) error
}

type AdminService interface {
	ListOrders(ctx context.Context, filter repo.ListFilter) (*OrderPage, error)
	Stats(ctx context.Context) (*StatsView, error)
	CleanupExpired(ctx context.Context) (int64, error)
	Notifications(ctx context.Context, orderNo string) ([]domain.NotifyAttempt, error)
	StoredConfig(ctx context.Context) (map[string]string, error)
	UpdateConfig(ctx context.Context, values map[string]string) error
	ReloadConfig(ctx context.Context) error
}

type OrderPage struct {
	Orders []domain.Order
	Total  int64
	Page   int
	Limit  int
}

type StatsView struct {
	domain.OrderStats
	PaidAmount string
}

type adminService struct {
	orders   AdminOrderStore
	attempts AttemptLog
	configs  ConfigStore
	reloader Reloader
	runtime  RuntimeSource
	env      config.Lookup
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdminService(
	orders AdminOrderStore,
	attempts AttemptLog,
	configs ConfigStore,
	reloader Reloader,
	runtime RuntimeSource,
	env config.Lookup,
	logger *slog.Logger,
) AdminService {
	return &adminService{
		orders:   orders,
		attempts: attempts,
		configs:  configs,
		reloader: reloader,
		runtime:  runtime,
		env:      env,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *adminService) ListOrders(ctx context.Context, filter repo.ListFilter) (*OrderPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "is not a known order status")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = repo.DefaultPageLimit
	}
	if filter.Limit > repo.MaxPageLimit {
		filter.Limit = repo.MaxPageLimit
	}
	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *adminService) Stats(ctx context.Context) (*StatsView, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsView{
		OrderStats: stats,
		PaidAmount: domain.FormatMajor(stats.PaidAmountMinor, s.runtime.Current().Config.AmountPrecision),
	}, nil
}

// CleanupExpired deletes pending orders older than the configured expiry.
func (s *adminService) CleanupExpired(ctx context.Context) (int64, error) {
	expiry := s.runtime.Current().Config.OrderExpiry
	n, err := s.orders.DeleteExpiredPending(ctx, s.now().Add(-expiry))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired pending orders deleted", "count", n, "older_than", expiry.String())
	}
	return n, nil
}

func (s *adminService) Notifications(ctx context.Context, orderNo string) ([]domain.NotifyAttempt, error) {
	if err := domain.ValidateOrderNo(orderNo); err != nil {
		return nil, err
	}
	return s.attempts.ListByOrderNo(ctx, orderNo, repo.MaxPageLimit)
}

// StoredConfig returns persisted overrides with secrets masked.
func (s *adminService) StoredConfig(ctx context.Context) (map[string]string, error) {
	stored, err := s.configs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range stored {
		if config.IsSecret(k) && v != "" {
			stored[k] = "******"
		}
	}
	return stored, nil
}

// UpdateConfig persists overrides after checking that the merged
// configuration still loads. The active runtime changes only on reload.
func (s *adminService) UpdateConfig(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return domain.NewValidationError("config", "no values given")
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !config.IsOverridable(k) {
			return domain.NewValidationError(k, "cannot be changed at runtime")
		}
	}

	stored, err := s.configs.GetAll(ctx)
	if err != nil {
		return err
	}
	for k, v := range values {
		stored[k] = v
	}
	if _, err := config.LoadFrom(config.Overlay(s.env, stored)); err != nil {
		return domain.NewValidationError("config", err.Error())
	}
	if err := s.configs.Set(ctx, values); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	s.logger.Info("configuration overrides saved", "keys", keys)
	return nil
}

func (s *adminService) ReloadConfig(ctx context.Context) error {
	if s.reloader == nil {
		return fmt.Errorf("%w: reload", domain.ErrUnsupportedOperation)
	}
	return s.reloader.Reload(ctx)
}
