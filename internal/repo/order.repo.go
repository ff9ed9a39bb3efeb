package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"cloudpay-cashier/internal/domain"
)

const uniqueViolation = "23505"

type OrderRepo interface {
	FindByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error)
	Create(ctx context.Context, order *domain.Order) error
	// MarkProcessing records the selected payment method. It is allowed from
	// pending and processing only.
	MarkProcessing(ctx context.Context, orderNo, paymentType string) (*domain.Order, error)
	// MarkPaid moves the order to paid unless it already is. applied is false
	// when another delivery got there first.
	MarkPaid(ctx context.Context, orderNo, tradeNo string, paidAt time.Time, notify domain.NotifyStatus) (applied bool, err error)
	UpdateNotifyStatus(ctx context.Context, orderNo string, status domain.NotifyStatus) error
	FindByNotifyStatus(ctx context.Context, status domain.NotifyStatus, limit int) ([]domain.Order, error)
	FindStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Order, error)
	DeleteExpiredPending(ctx context.Context, createdBefore time.Time) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, int64, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
}

type ListFilter struct {
	Page   int
	Limit  int
	Status domain.OrderStatus
	Search string
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

func (f ListFilter) normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_no, name, amount, currency, notify_url, status, payment_type,
	trade_no, notify_status, paid_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o           domain.Order
		paymentType sql.NullString
		tradeNo     sql.NullString
		paidAt      sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNo,
		&o.Name,
		&o.Amount,
		&o.Currency,
		&o.NotifyURL,
		&o.Status,
		&paymentType,
		&tradeNo,
		&o.NotifyStatus,
		&paidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentType = paymentType.String
	o.TradeNo = tradeNo.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

func (r *orderRepo) FindByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_no = $1", orderNo)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderNo, err)
	}
	return order, nil
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderPending
	}
	if order.NotifyStatus == "" {
		order.NotifyStatus = domain.NotifyNone
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (order_no, name, amount, currency, notify_url, status, notify_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		order.OrderNo, order.Name, order.Amount, order.Currency, order.NotifyURL, order.Status, order.NotifyStatus,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("create order %s: %w", order.OrderNo, err)
	}
	return nil
}

func (r *orderRepo) MarkProcessing(ctx context.Context, orderNo, paymentType string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, payment_type = $3, updated_at = now()
		WHERE order_no = $1 AND status IN ($4, $2)
		RETURNING `+orderColumns,
		orderNo, domain.OrderProcessing, paymentType, domain.OrderPending,
	)
	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark order %s processing: %w", orderNo, err)
	}
	if _, err := r.FindByOrderNo(ctx, orderNo); err != nil {
		return nil, err
	}
	return nil, domain.ErrInvalidTransition
}

func (r *orderRepo) MarkPaid(ctx context.Context, orderNo, tradeNo string, paidAt time.Time, notify domain.NotifyStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    trade_no = NULLIF($3, ''),
		    paid_at = $4,
		    notify_status = $5,
		    updated_at = now()
		WHERE order_no = $1 AND status <> $2`,
		orderNo, domain.OrderPaid, tradeNo, paidAt, notify,
	)
	if err != nil {
		return false, fmt.Errorf("mark order %s paid: %w", orderNo, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.FindByOrderNo(ctx, orderNo); err != nil {
		return false, err
	}
	return false, nil
}

func (r *orderRepo) UpdateNotifyStatus(ctx context.Context, orderNo string, status domain.NotifyStatus) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET notify_status = $2, updated_at = now() WHERE order_no = $1",
		orderNo, status,
	)
	if err != nil {
		return fmt.Errorf("update notify status of %s: %w", orderNo, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *orderRepo) FindByNotifyStatus(ctx context.Context, status domain.NotifyStatus, limit int) ([]domain.Order, error) {
	return r.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND notify_status = $2
		ORDER BY paid_at
		LIMIT $3`,
		domain.OrderPaid, status, limit,
	)
}

func (r *orderRepo) FindStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	return r.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		domain.OrderProcessing, updatedBefore, limit,
	)
}

func (r *orderRepo) DeleteExpiredPending(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM orders WHERE status = $1 AND created_at < $2",
		domain.OrderPending, createdBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired orders: %w", err)
	}
	return res.RowsAffected()
}

func (r *orderRepo) List(ctx context.Context, filter ListFilter) ([]domain.Order, int64, error) {
	filter = filter.normalize()

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(order_no ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	orders, err := r.query(ctx,
		fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
			orderColumns, clause, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepo) Stats(ctx context.Context) (domain.OrderStats, error) {
	var s domain.OrderStats
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'pending'),
		       count(*) FILTER (WHERE status = 'processing'),
		       count(*) FILTER (WHERE status = 'paid'),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'paid'), 0)
		FROM orders`,
	).Scan(&s.Total, &s.Pending, &s.Processing, &s.Paid, &s.PaidAmountMinor)
	if err != nil {
		return s, fmt.Errorf("order stats: %w", err)
	}
	return s, nil
}

func (r *orderRepo) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
