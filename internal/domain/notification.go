package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotifyOutcome string

const (
	OutcomeDelivered NotifyOutcome = "delivered"
	OutcomeRejected  NotifyOutcome = "rejected"
	OutcomeRetry     NotifyOutcome = "retry"
	OutcomeFailed    NotifyOutcome = "failed"
)

// NotifyAttempt records a single delivery attempt to the upstream notify URL.
type NotifyAttempt struct {
	ID         uuid.UUID
	OrderNo    string
	Attempt    int
	HTTPStatus int
	Outcome    NotifyOutcome
	Error      string
	CreatedAt  time.Time
}

// OrderStats aggregates order counts for the admin API.
type OrderStats struct {
	Total           int64
	Pending         int64
	Processing      int64
	Paid            int64
	PaidAmountMinor int64
}
