package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpay-cashier/internal/domain"
)

type memRecorder struct {
	mu       sync.Mutex
	attempts []domain.NotifyAttempt
}

func (m *memRecorder) RecordNotifyAttempt(_ context.Context, a domain.NotifyAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func paidOrder(notifyURL string) *domain.Order {
	paidAt := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	return &domain.Order{
		OrderNo:     "abc",
		Name:        "storage pack",
		Amount:      10000,
		Currency:    "CNY",
		NotifyURL:   notifyURL,
		Status:      domain.OrderPaid,
		PaymentType: "alipay",
		PaidAt:      &paidAt,
	}
}

func sequenceServer(t *testing.T, replies []func(w http.ResponseWriter)) (*httptest.Server, *int) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		calls++
		mu.Unlock()
		if i >= len(replies) {
			i = len(replies) - 1
		}
		replies[i](w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func body(code int, payload string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(payload))
	}
}

func TestDispatchSucceedsAfterTwoFailures(t *testing.T) {
	srv, calls := sequenceServer(t, []func(http.ResponseWriter){
		status(500), status(500), body(200, `{"code":0}`),
	})
	rec := &memRecorder{}
	sl := &sleepLog{}
	d := NewDispatcher(time.Second, RetryPolicy{MaxRetries: 3, BaseInterval: 5 * time.Second},
		WithRecorder(rec), WithSleep(sl.sleep))

	res := d.Dispatch(context.Background(), paidOrder(srv.URL+"/cb"))

	assert.True(t, res.Delivered())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sl.waits)
	require.Len(t, rec.attempts, 3)
	assert.Equal(t, domain.OutcomeRetry, rec.attempts[0].Outcome)
	assert.Equal(t, 500, rec.attempts[0].HTTPStatus)
	assert.Equal(t, domain.OutcomeDelivered, rec.attempts[2].Outcome)
	assert.Equal(t, domain.NotifyDelivered, res.NotifyStatus())
}

func TestDispatchStopsOnExplicitRejection(t *testing.T) {
	srv, calls := sequenceServer(t, []func(http.ResponseWriter){
		body(200, `{"code":1,"error":"bad order"}`),
	})
	sl := &sleepLog{}
	d := NewDispatcher(time.Second, RetryPolicy{MaxRetries: 3, BaseInterval: 5 * time.Second}, WithSleep(sl.sleep))

	res := d.Dispatch(context.Background(), paidOrder(srv.URL))

	assert.False(t, res.Delivered())
	assert.Equal(t, domain.OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrRejected)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, sl.waits)
	assert.Equal(t, domain.NotifyRejected, res.NotifyStatus())
}

func TestDispatchExhaustsRetries(t *testing.T) {
	srv, calls := sequenceServer(t, []func(http.ResponseWriter){
		body(200, `not json`), body(200, `{"msg":"no code"}`), status(502),
	})
	rec := &memRecorder{}
	sl := &sleepLog{}
	d := NewDispatcher(time.Second, RetryPolicy{MaxRetries: 3, BaseInterval: 5 * time.Second},
		WithRecorder(rec), WithSleep(sl.sleep))

	res := d.Dispatch(context.Background(), paidOrder(srv.URL))

	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrExhausted)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sl.waits, "no wait after the final attempt")
	require.Len(t, rec.attempts, 3)
	assert.Equal(t, domain.OutcomeFailed, rec.attempts[2].Outcome)
}

func TestDispatchTransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	sl := &sleepLog{}
	d := NewDispatcher(time.Second, RetryPolicy{MaxRetries: 2, BaseInterval: time.Second}, WithSleep(sl.sleep))
	res := d.Dispatch(context.Background(), paidOrder(target))

	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, sl.waits)
}

func TestDispatchSendsEventParameters(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Cloudreve-Payment-Cashier/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, RetryPolicy{})
	res := d.Dispatch(context.Background(), paidOrder(srv.URL+"/cb?site=1"))

	require.True(t, res.Delivered())
	assert.Equal(t, "1", got.Get("site"))
	assert.Equal(t, "abc", got.Get("order_no"))
	assert.Equal(t, "PAID", got.Get("status"))
	assert.Equal(t, "100", got.Get("amount"))
	assert.Equal(t, "CNY", got.Get("currency"))
	assert.Equal(t, "alipay", got.Get("payment_type"))
	assert.Equal(t, "2026-10-15 08:30:00", got.Get("paid_at"))
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 4, BaseInterval: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 20*time.Second, p.Backoff(3))
}
