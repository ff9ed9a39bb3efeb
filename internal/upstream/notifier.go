package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"cloudpay-cashier/internal/domain"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseInterval = 5 * time.Second
	DefaultTimeout      = 10 * time.Second

	userAgent     = "Cloudreve-Payment-Cashier/1.0"
	paidAtLayout  = "2006-01-02 15:04:05"
	statusPaidArg = "PAID"
)

var (
	ErrRejected  = errors.New("upstream rejected notification")
	ErrExhausted = errors.New("notification retries exhausted")
)

// RetryPolicy controls the delay between delivery attempts:
// BaseInterval * 2^(attempt-1).
type RetryPolicy struct {
	MaxRetries   int
	BaseInterval time.Duration
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseInterval < 0 {
		p.BaseInterval = DefaultBaseInterval
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseInterval * time.Duration(1<<(attempt-1))
}

// AttemptRecorder persists each delivery attempt.
type AttemptRecorder interface {
	RecordNotifyAttempt(ctx context.Context, attempt domain.NotifyAttempt) error
}

type DispatchResult struct {
	Outcome  domain.NotifyOutcome
	Attempts int
	Err      error
}

func (r DispatchResult) Delivered() bool { return r.Outcome == domain.OutcomeDelivered }

// NotifyStatus maps the result onto the order's persisted delivery state.
func (r DispatchResult) NotifyStatus() domain.NotifyStatus {
	switch r.Outcome {
	case domain.OutcomeDelivered:
		return domain.NotifyDelivered
	case domain.OutcomeRejected:
		return domain.NotifyRejected
	}
	return domain.NotifyFailed
}

type DispatcherOption func(*Dispatcher)

func WithRecorder(rec AttemptRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = rec }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = sleep }
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// Dispatcher delivers the PAID event to an order's notify URL.
type Dispatcher struct {
	client   *resty.Client
	policy   RetryPolicy
	recorder AttemptRecorder
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

func NewDispatcher(timeout time.Duration, policy RetryPolicy, opts ...DispatcherOption) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(0)

	d := &Dispatcher{
		client: client,
		policy: policy.normalize(),
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the full attempt sequence for one order. It blocks through
// every backoff wait.
func (d *Dispatcher) Dispatch(ctx context.Context, order *domain.Order) DispatchResult {
	target := NotifyURL(order)
	log := d.logger.With("order_no", order.OrderNo)

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxRetries; attempt++ {
		status, code, err := d.send(ctx, target)
		final := attempt == d.policy.MaxRetries

		switch {
		case err == nil && code == 0:
			d.record(ctx, order.OrderNo, attempt, status, domain.OutcomeDelivered, nil)
			log.Info("upstream notification delivered", "attempt", attempt)
			return DispatchResult{Outcome: domain.OutcomeDelivered, Attempts: attempt}
		case err == nil:
			rejectErr := fmt.Errorf("%w: code %d", ErrRejected, code)
			d.record(ctx, order.OrderNo, attempt, status, domain.OutcomeRejected, rejectErr)
			log.Error("upstream rejected notification", "attempt", attempt, "code", code)
			return DispatchResult{Outcome: domain.OutcomeRejected, Attempts: attempt, Err: rejectErr}
		}

		lastErr = err
		if final {
			d.record(ctx, order.OrderNo, attempt, status, domain.OutcomeFailed, err)
			break
		}
		d.record(ctx, order.OrderNo, attempt, status, domain.OutcomeRetry, err)

		wait := d.policy.Backoff(attempt)
		log.Warn("upstream notification failed, retrying",
			"attempt", attempt,
			"max_retries", d.policy.MaxRetries,
			"wait", wait.String(),
			"error", err.Error(),
		)
		if sleepErr := d.sleep(ctx, wait); sleepErr != nil {
			log.Error("upstream notification aborted", "attempt", attempt, "error", sleepErr.Error())
			return DispatchResult{Outcome: domain.OutcomeFailed, Attempts: attempt, Err: sleepErr}
		}
	}

	log.Error("upstream notification failed permanently",
		"total_attempts", d.policy.MaxRetries,
		"error", errString(lastErr),
	)
	return DispatchResult{
		Outcome:  domain.OutcomeFailed,
		Attempts: d.policy.MaxRetries,
		Err:      fmt.Errorf("%w: %v", ErrExhausted, lastErr),
	}
}

type notifyReply struct {
	Code  *int   `json:"code"`
	Error string `json:"error"`
}

// send performs one GET. A nil error means the upstream answered 200 with a
// parseable code; any other failure is retryable.
func (d *Dispatcher) send(ctx context.Context, target string) (int, int, error) {
	resp, err := d.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return 0, 0, fmt.Errorf("transport: %w", err)
	}
	if resp.StatusCode() != 200 {
		return resp.StatusCode(), 0, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode())
	}
	var reply notifyReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return resp.StatusCode(), 0, fmt.Errorf("unparseable response body: %w", err)
	}
	if reply.Code == nil {
		return resp.StatusCode(), 0, errors.New("response body has no code")
	}
	return resp.StatusCode(), *reply.Code, nil
}

func (d *Dispatcher) record(ctx context.Context, orderNo string, attempt, status int, outcome domain.NotifyOutcome, err error) {
	if d.recorder == nil {
		return
	}
	rec := domain.NotifyAttempt{
		ID:         uuid.New(),
		OrderNo:    orderNo,
		Attempt:    attempt,
		HTTPStatus: status,
		Outcome:    outcome,
		Error:      errString(err),
		CreatedAt:  time.Now(),
	}
	if recErr := d.recorder.RecordNotifyAttempt(ctx, rec); recErr != nil {
		d.logger.Warn("record notify attempt", "order_no", orderNo, "attempt", attempt, "error", recErr.Error())
	}
}

// NotifyURL appends the PAID event parameters to the order's notify URL.
func NotifyURL(order *domain.Order) string {
	q := url.Values{}
	q.Set("order_no", order.OrderNo)
	q.Set("status", statusPaidArg)
	q.Set("amount", domain.MajorUnits(order.Amount).String())
	q.Set("currency", order.Currency)
	q.Set("payment_type", order.PaymentType)
	if order.PaidAt != nil {
		q.Set("paid_at", order.PaidAt.Format(paidAtLayout))
	} else {
		q.Set("paid_at", "")
	}

	sep := "?"
	if strings.Contains(order.NotifyURL, "?") {
		sep = "&"
	}
	return order.NotifyURL + sep + q.Encode()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
