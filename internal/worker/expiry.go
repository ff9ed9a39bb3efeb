package worker

import (
	"context"
	"log/slog"
	"time"
)

type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// ExpirySweeper periodically removes pending orders past their expiry.
type ExpirySweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *slog.Logger
}

func NewExpirySweeper(cleaner Cleaner, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{cleaner: cleaner, interval: interval, logger: logger.With("worker", "expiry")}
}

func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.cleaner.CleanupExpired(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err.Error())
			}
		}
	}
}
