package domain

import (
	"time"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderPaid       OrderStatus = "paid"
)

// NotifyStatus tracks delivery of the PAID event to the upstream platform.
type NotifyStatus string

const (
	NotifyNone      NotifyStatus = "none"
	NotifyQueued    NotifyStatus = "queued"
	NotifyDelivered NotifyStatus = "delivered"
	NotifyRejected  NotifyStatus = "rejected"
	NotifyFailed    NotifyStatus = "failed"
)

const DefaultCurrency = "CNY"

type Order struct {
	ID           int64
	OrderNo      string
	Name         string
	Amount       int64 // minor units
	Currency     string
	NotifyURL    string
	Status       OrderStatus
	PaymentType  string
	TradeNo      string
	NotifyStatus NotifyStatus
	PaidAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderPaid:
		return true
	}
	return false
}

func (s OrderStatus) rank() int {
	switch s {
	case OrderPending:
		return 0
	case OrderProcessing:
		return 1
	case OrderPaid:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next keeps the status
// monotonic. processing->processing (method re-selection) and paid->paid
// (redelivered callback) are allowed; the latter is a no-op for callers.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == OrderPaid {
		return next == OrderPaid
	}
	return next.rank() >= s.rank()
}

func (o *Order) IsPaid() bool { return o.Status == OrderPaid }

// UpstreamStatus is the status string reported to the upstream platform.
func (o *Order) UpstreamStatus() string {
	if o.IsPaid() {
		return "PAID"
	}
	return "UNPAID"
}
