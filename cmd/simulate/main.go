// Command simulate drives a running cashier through the whole payment flow,
// playing both the upstream platform and the payment gateway.
//
// Every -lose-every'th order is charged at the gateway but its callback is
// dropped. With a v2 gateway pointed at -listen and RECONCILE_INTERVAL set,
// the cashier's reconciliation worker should still settle those orders.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"cloudpay-cashier/internal/infrastructure/payment"
	"cloudpay-cashier/internal/logging"
	"cloudpay-cashier/internal/upstream"
)

type options struct {
	cashierURL  string
	commKey     string
	version     string
	pid         string
	epayKey     string
	platformKey string
	listen      string
	publicURL   string
	orders      int
	amount      int64
	method      string
	loseEvery   int
	wait        time.Duration
}

type receiver struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	orderNo := req.URL.Query().Get("order_no")
	r.mu.Lock()
	r.seen[orderNo]++
	r.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"code":0}`))
}

func (r *receiver) count(orderNo string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[orderNo]
}

func main() {
	var o options
	flag.StringVar(&o.cashierURL, "cashier", "http://localhost:8080", "cashier base URL")
	flag.StringVar(&o.commKey, "comm-key", os.Getenv("COMMUNICATION_KEY"), "upstream communication key")
	flag.StringVar(&o.version, "sdk-version", "1.0", "gateway signing scheme (1.0 or 2.0)")
	flag.StringVar(&o.pid, "pid", os.Getenv("EPAY_PID"), "gateway merchant id")
	flag.StringVar(&o.epayKey, "epay-key", os.Getenv("EPAY_KEY"), "gateway shared key (1.0)")
	flag.StringVar(&o.platformKey, "platform-key", "", "file holding the gateway platform private key (2.0)")
	flag.StringVar(&o.listen, "listen", ":9090", "address for the notify receiver and gateway query API")
	flag.StringVar(&o.publicURL, "public-url", "http://localhost:9090", "URL the cashier uses to reach -listen")
	flag.IntVar(&o.orders, "orders", 20, "number of orders")
	flag.Int64Var(&o.amount, "amount", 1000, "order amount in minor units")
	flag.StringVar(&o.method, "method", "alipay", "payment method to select")
	flag.IntVar(&o.loseEvery, "lose-every", 0, "drop the gateway callback of every n-th order (0 disables)")
	flag.DurationVar(&o.wait, "wait", 10*time.Second, "how long to wait for notifications before reporting")
	flag.Parse()

	logger := logging.New("info")
	if err := run(context.Background(), o); err != nil {
		logger.Error("simulation failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	version, err := payment.ParseVersion(o.version)
	if err != nil {
		return err
	}
	var platformKey string
	if version == payment.V2 {
		raw, err := os.ReadFile(o.platformKey)
		if err != nil {
			return fmt.Errorf("read platform key: %w", err)
		}
		platformKey = string(raw)
	}
	gateway, err := payment.NewSimulator(payment.Credential{Version: version, PID: o.pid, Key: o.epayKey}, platformKey)
	if err != nil {
		return err
	}

	recv := &receiver{seen: make(map[string]int)}
	mux := http.NewServeMux()
	mux.Handle("/callback", recv)
	mux.Handle("/api/pay/query", gateway)
	srv := &http.Server{Addr: o.listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "receiver: %v\n", err)
		}
	}()
	defer srv.Shutdown(context.WithoutCancel(ctx))

	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	base := strings.TrimRight(o.cashierURL, "/")
	apiPath := mustPath(base) + "/api"

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", o.orders)
	orderNos := make([]string, 0, o.orders)
	for i := 1; i <= o.orders; i++ {
		orderNo := "sim-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		orderNos = append(orderNos, orderNo)
		fmt.Printf("[%d] Order %s ... ", i, orderNo)

		checkout, err := createOrder(ctx, client, base, apiPath, o, orderNo)
		if err != nil {
			fmt.Printf("CREATE FAILED: %v\n", err)
			continue
		}
		if resp, err := client.R().SetContext(ctx).Get(checkout); err != nil || resp.StatusCode() != http.StatusOK {
			fmt.Printf("CHECKOUT FAILED: %v\n", statusErr(resp, err))
			continue
		}

		money, err := selectMethod(ctx, client, base, orderNo, o.method)
		if err != nil {
			fmt.Printf("PAY FAILED: %v\n", err)
			continue
		}
		callback, err := gateway.Charge(orderNo, money, o.method, payment.TradeSuccess)
		if err != nil {
			return err
		}

		if o.loseEvery > 0 && i%o.loseEvery == 0 {
			fmt.Printf("CHARGED, callback dropped\n")
			continue
		}
		// The second delivery must be acknowledged without a second notification.
		for n := 0; n < 2; n++ {
			resp, err := client.R().SetContext(ctx).
				SetFormDataFromValues(callback.Values()).
				Post(base + "/notify")
			if err != nil || resp.String() != "success" {
				fmt.Printf("CALLBACK FAILED: %v\n", statusErr(resp, err))
				break
			}
		}
		fmt.Printf("CHARGED\n")
	}

	fmt.Printf("--- WAITING %s FOR NOTIFICATIONS ---\n", o.wait)
	time.Sleep(o.wait)

	for _, orderNo := range orderNos {
		status, err := queryStatus(ctx, client, base, apiPath, o.commKey, orderNo)
		if err != nil {
			status = "ERROR: " + err.Error()
		}
		fmt.Printf("%s  status=%-7s notifications=%d\n", orderNo, status, recv.count(orderNo))
	}
	return nil
}

func createOrder(ctx context.Context, client *resty.Client, base, apiPath string, o options, orderNo string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"order_no":   orderNo,
		"name":       "Simulated storage pack",
		"amount":     o.amount,
		"notify_url": strings.TrimRight(o.publicURL, "/") + "/callback",
	})
	if err != nil {
		return "", err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Cr-Site-Id", "simulator")
	header.Set("X-Cr-Site-Url", o.publicURL)
	if o.commKey != "" {
		content, err := upstream.PostSignContent(apiPath, header, body)
		if err != nil {
			return "", err
		}
		header.Set("Authorization", upstream.AuthorizationPrefix+upstream.Sign(o.commKey, content, time.Now().Add(time.Minute).Unix()))
	}

	var reply struct {
		Code    int    `json:"code"`
		Data    string `json:"data"`
		Message string `json:"message"`
	}
	resp, err := client.R().SetContext(ctx).
		SetHeaderMultiValues(header).
		SetBody(body).
		SetResult(&reply).
		SetError(&reply).
		Post(base + "/api")
	if err != nil {
		return "", err
	}
	if reply.Code != 0 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), reply.Message)
	}
	return reply.Data, nil
}

// selectMethod posts the method choice and returns the money parameter of the
// gateway redirect.
func selectMethod(ctx context.Context, client *resty.Client, base, orderNo, method string) (string, error) {
	resp, err := client.R().SetContext(ctx).
		SetFormData(map[string]string{"order_no": orderNo, "payment_type": method}).
		Post(base + "/pay")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusFound {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	target, err := url.Parse(resp.Header().Get("Location"))
	if err != nil {
		return "", err
	}
	money := target.Query().Get("money")
	if money == "" {
		return "", errors.New("redirect has no money parameter")
	}
	return money, nil
}

func queryStatus(ctx context.Context, client *resty.Client, base, apiPath, commKey, orderNo string) (string, error) {
	query := url.Values{"order_no": {orderNo}}
	if commKey != "" {
		query.Set(upstream.SignQueryParam, upstream.Sign(commKey, apiPath, time.Now().Add(time.Minute).Unix()))
	}
	var reply struct {
		Code    int    `json:"code"`
		Data    string `json:"data"`
		Message string `json:"message"`
	}
	resp, err := client.R().SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetResult(&reply).
		SetError(&reply).
		Get(base + "/api")
	if err != nil {
		return "", err
	}
	if reply.Code != 0 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), reply.Message)
	}
	return reply.Data, nil
}

func mustPath(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

func statusErr(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}
