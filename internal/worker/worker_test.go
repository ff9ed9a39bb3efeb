package worker

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/infrastructure/payment"
	"cloudpay-cashier/internal/service"
	"cloudpay-cashier/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type notifyStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newNotifyStore(orders ...domain.Order) *notifyStore {
	s := &notifyStore{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		s.orders[o.OrderNo] = o
	}
	return s
}

func (s *notifyStore) FindByOrderNo(_ context.Context, orderNo string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (s *notifyStore) FindByNotifyStatus(_ context.Context, status domain.NotifyStatus, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.NotifyStatus == status && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *notifyStore) UpdateNotifyStatus(_ context.Context, orderNo string, status domain.NotifyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return domain.ErrNotFound
	}
	o.NotifyStatus = status
	s.orders[orderNo] = o
	return nil
}

func (s *notifyStore) status(orderNo string) domain.NotifyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderNo].NotifyStatus
}

func paidOrder(orderNo, notifyURL string) domain.Order {
	paidAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return domain.Order{
		OrderNo:      orderNo,
		Amount:       10000,
		Currency:     "CNY",
		NotifyURL:    notifyURL,
		Status:       domain.OrderPaid,
		PaymentType:  "alipay",
		NotifyStatus: domain.NotifyQueued,
		PaidAt:       &paidAt,
	}
}

func upstreamServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runtimeWithDispatcher() service.RuntimeSource {
	noSleep := func(context.Context, time.Duration) error { return nil }
	return service.Fixed(&service.Runtime{
		Dispatcher: upstream.NewDispatcher(time.Second,
			upstream.RetryPolicy{MaxRetries: 2},
			upstream.WithSleep(noSleep),
			upstream.WithLogger(discardLogger()),
		),
	})
}

func TestNotifyWorkerSyncDelivers(t *testing.T) {
	var hits int32
	srv := upstreamServer(t, `{"code":0}`, &hits)
	order := paidOrder("abc", srv.URL+"/cb")
	store := newNotifyStore(order)

	w := NewNotifyWorker(store, runtimeWithDispatcher(), NotifyOptions{Async: false}, discardLogger())
	w.Notify(context.Background(), &order)

	assert.Equal(t, domain.NotifyDelivered, store.status("abc"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNotifyWorkerSyncRejected(t *testing.T) {
	var hits int32
	srv := upstreamServer(t, `{"code":1,"error":"bad order"}`, &hits)
	order := paidOrder("abc", srv.URL)
	store := newNotifyStore(order)

	w := NewNotifyWorker(store, runtimeWithDispatcher(), NotifyOptions{}, discardLogger())
	w.Notify(context.Background(), &order)

	assert.Equal(t, domain.NotifyRejected, store.status("abc"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNotifyWorkerAsyncDeliversAndRecovers(t *testing.T) {
	var hits int32
	srv := upstreamServer(t, `{"code":0}`, &hits)
	recovered := paidOrder("left-over", srv.URL)
	fresh := paidOrder("fresh-1", srv.URL)
	store := newNotifyStore(recovered, fresh)

	w := NewNotifyWorker(store, runtimeWithDispatcher(), NotifyOptions{Async: true, Workers: 2}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Notify(ctx, &fresh)

	require.Eventually(t, func() bool {
		return store.status("left-over") == domain.NotifyDelivered && store.status("fresh-1") == domain.NotifyDelivered
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notify worker did not stop")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestNotifyWorkerFailsAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	order := paidOrder("abc", srv.URL)
	store := newNotifyStore(order)

	w := NewNotifyWorker(store, runtimeWithDispatcher(), NotifyOptions{}, discardLogger())
	res := w.Deliver(context.Background(), &order)

	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, domain.NotifyFailed, store.status("abc"))
}

type countingCleaner struct{ calls int32 }

func (c *countingCleaner) CleanupExpired(context.Context) (int64, error) {
	atomic.AddInt32(&c.calls, 1)
	return 0, nil
}

func TestExpirySweeperRuns(t *testing.T) {
	cleaner := &countingCleaner{}
	sweeper := NewExpirySweeper(cleaner, 5*time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&cleaner.calls) >= 2 }, 2*time.Second, 5*time.Millisecond)
}

type stuckStore struct{ orders []domain.Order }

func (s stuckStore) FindStuckProcessing(context.Context, time.Time, int) ([]domain.Order, error) {
	return s.orders, nil
}

type recordingSettler struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingSettler) Settle(_ context.Context, order *domain.Order, tradeNo, money string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, order.OrderNo+"|"+tradeNo+"|"+money)
	return true, nil
}

func keyPair(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(priv), base64.StdEncoding.EncodeToString(pub)
}

func TestReconciliationSettlesPaidOrders(t *testing.T) {
	merchantPriv, _ := keyPair(t)
	platformPriv, platformPub := keyPair(t)

	sim, err := payment.NewSimulator(payment.Credential{Version: payment.V2, PID: "1000"}, platformPriv)
	require.NoError(t, err)
	paid, err := sim.Charge("paid-1", "100.00", "alipay", payment.TradeSuccess)
	require.NoError(t, err)
	_, err = sim.Charge("open-1", "5.00", "alipay", "WAIT_BUYER_PAY")
	require.NoError(t, err)
	srv := httptest.NewServer(sim)
	defer srv.Close()

	gw, err := payment.New(payment.Credential{
		Version:            payment.V2,
		APIURL:             srv.URL,
		PID:                "1000",
		MerchantPrivateKey: merchantPriv,
		PlatformPublicKey:  platformPub,
	}, payment.Site{Precision: 2})
	require.NoError(t, err)

	stuck := stuckStore{orders: []domain.Order{
		{OrderNo: "paid-1", Amount: 10000, Status: domain.OrderProcessing},
		{OrderNo: "open-1", Amount: 500, Status: domain.OrderProcessing},
		{OrderNo: "never-seen", Amount: 100, Status: domain.OrderProcessing},
	}}
	settler := &recordingSettler{}
	rw := NewReconciliationWorker(stuck, settler, service.Fixed(&service.Runtime{Gateway: gw}), time.Minute, 5*time.Minute, discardLogger())

	n, err := rw.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"paid-1|" + paid["trade_no"] + "|100.00"}, settler.calls)
}

func TestReconciliationSkipsV1(t *testing.T) {
	gw, err := payment.New(payment.Credential{Version: payment.V1, APIURL: "https://pay.test", PID: "1", Key: "k"}, payment.Site{})
	require.NoError(t, err)
	stuck := stuckStore{orders: []domain.Order{{OrderNo: "abc", Status: domain.OrderProcessing}}}
	settler := &recordingSettler{}
	rw := NewReconciliationWorker(stuck, settler, service.Fixed(&service.Runtime{Gateway: gw}), time.Minute, time.Minute, discardLogger())

	n, err := rw.Process(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, settler.calls)
}
