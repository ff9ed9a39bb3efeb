package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cloudpay-cashier/internal/domain"
)

// NotifyAttemptRepo is the delivery log of upstream notifications.
type NotifyAttemptRepo interface {
	RecordNotifyAttempt(ctx context.Context, attempt domain.NotifyAttempt) error
	ListByOrderNo(ctx context.Context, orderNo string, limit int) ([]domain.NotifyAttempt, error)
}

type notifyAttemptRepo struct {
	db *sql.DB
}

func NewNotifyAttemptRepo(db *sql.DB) NotifyAttemptRepo {
	return &notifyAttemptRepo{db: db}
}

func (r *notifyAttemptRepo) RecordNotifyAttempt(ctx context.Context, a domain.NotifyAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notify_attempts (id, order_no, attempt, http_status, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.OrderNo, a.Attempt, a.HTTPStatus, a.Outcome, a.Error, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record notify attempt for %s: %w", a.OrderNo, err)
	}
	return nil
}

func (r *notifyAttemptRepo) ListByOrderNo(ctx context.Context, orderNo string, limit int) ([]domain.NotifyAttempt, error) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_no, attempt, http_status, outcome, error, created_at
		FROM notify_attempts
		WHERE order_no = $1
		ORDER BY created_at, attempt
		LIMIT $2`,
		orderNo, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.NotifyAttempt
	for rows.Next() {
		var a domain.NotifyAttempt
		if err := rows.Scan(&a.ID, &a.OrderNo, &a.Attempt, &a.HTTPStatus, &a.Outcome, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
