// Package app wires the cashier together and owns its lifecycle.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/database"
	"cloudpay-cashier/internal/http/handler"
	"cloudpay-cashier/internal/http/middleware"
	"cloudpay-cashier/internal/repo"
	"cloudpay-cashier/internal/service"
	"cloudpay-cashier/internal/worker"
)

const shutdownTimeout = 15 * time.Second

type runner interface {
	Run(ctx context.Context)
}

// App holds the process-wide dependencies. The active service.Runtime is
// swapped atomically on reload; settings outside config.OverridableKeys keep
// their startup values.
type App struct {
	cfg    *config.Config
	env    config.Lookup
	logger *slog.Logger

	db       database.Service
	orders   repo.OrderRepo
	attempts repo.NotifyAttemptRepo
	configs  repo.ConfigRepo
	redis    *redis.Client

	runtime  atomic.Pointer[service.Runtime]
	reloadMu sync.Mutex

	notifier *worker.NotifyWorker
	runners  []runner
	server   *http.Server
}

// New connects to the database and builds the application.
func New(ctx context.Context, cfg *config.Config, env config.Lookup, logger *slog.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL (or DB_HOST) is required")
	}
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a, err := NewWithDB(ctx, cfg, env, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB builds the application on an open database handle. It migrates
// the schema and loads stored configuration overrides.
func NewWithDB(ctx context.Context, cfg *config.Config, env config.Lookup, db *sql.DB, logger *slog.Logger) (*App, error) {
	if err := database.Migrate(ctx, db); err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		env:      env,
		logger:   logger,
		db:       database.New(db),
		orders:   repo.NewOrderRepo(db),
		attempts: repo.NewNotifyAttemptRepo(db),
		configs:  repo.NewConfigRepo(db),
	}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}

	a.notifier = worker.NewNotifyWorker(a.orders, a, worker.NotifyOptions{
		Async:   cfg.Notify.Async,
		Workers: cfg.Notify.Workers,
	}, logger)
	orders := service.NewOrderService(a.orders, a, a.notifier, logger)
	admin := service.NewAdminService(a.orders, a.attempts, a.configs, a, a, env, logger)

	a.runners = []runner{
		worker.NewExpirySweeper(admin, cfg.ExpirySweepInterval, logger),
		worker.NewReconciliationWorker(a.orders, orders, a, cfg.ReconcileInterval, cfg.ReconcileAfter, logger),
		a.notifier,
	}

	srv := handler.NewServer(handler.Deps{
		Orders:  orders,
		Admin:   admin,
		Runtime: a,
		Health:  a.db,
		Limiter: a.limiter(),
		Logger:  logger,
	})
	a.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return a, nil
}

// Current implements service.RuntimeSource.
func (a *App) Current() *service.Runtime { return a.runtime.Load() }

// Reload rebuilds the runtime from the environment and stored overrides. On
// failure the previous runtime stays active.
func (a *App) Reload(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	stored, err := a.configs.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load stored config: %w", err)
	}
	cfg, err := config.LoadFrom(config.Overlay(a.env, stored))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := service.BuildRuntime(cfg, a.attempts, a.logger)
	if err != nil {
		return err
	}
	previous := a.runtime.Swap(rt)
	if previous != nil {
		a.logger.Info("configuration reloaded", "overrides", len(stored), "gateway_configured", rt.Gateway != nil)
	}
	return nil
}

func (a *App) limiter() middleware.Limiter {
	if a.cfg.RedisURL == "" {
		return middleware.NewLocalLimiter()
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		a.logger.Warn("invalid REDIS_URL; using in-process rate limiter", "error", err.Error())
		return middleware.NewLocalLimiter()
	}
	a.redis = redis.NewClient(opts)
	return middleware.NewRedisLimiter(a.redis, "cashier:rl")
}

// Run serves HTTP and runs the background workers until ctx is done or the
// listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			r.Run(workerCtx)
		}(r)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer done()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "error", err.Error())
	}
	cancel()
	wg.Wait()

	if err := a.Close(); err != nil {
		a.logger.Error("close resources", "error", err.Error())
	}
	return runErr
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}
