// Package payment adapts the downstream epay-style payment gateway. Two
// mutually exclusive signing schemes exist; New picks one from the credential
// and every request built or verified by the returned Gateway uses only it.
package payment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloudpay-cashier/internal/domain"
)

type Version string

const (
	V1 Version = "1.0" // shared-secret MD5
	V2 Version = "2.0" // SHA256withRSA
)

const (
	TradeSuccess = "TRADE_SUCCESS"

	DefaultTimeout = 10 * time.Second
	replayWindow   = 300 * time.Second

	signField     = "sign"
	signTypeField = "sign_type"
)

func ParseVersion(raw string) (Version, error) {
	switch Version(strings.TrimSpace(raw)) {
	case V1:
		return V1, nil
	case V2:
		return V2, nil
	}
	return "", fmt.Errorf("unknown gateway sdk version %q", raw)
}

// Credential holds the active scheme and its secret material.
type Credential struct {
	Version            Version
	APIURL             string
	PID                string
	Key                string // V1
	PlatformPublicKey  string // V2, bare base64 or PEM
	MerchantPrivateKey string // V2, bare base64 or PEM
}

// Site describes the cashier endpoints the gateway calls back.
type Site struct {
	NotifyURL string
	ReturnURL string
	Name      string
	Precision int32
}

// Params is a flat gateway parameter set.
type Params map[string]string

// QueryResult is a verified answer from the gateway's order query API.
type QueryResult struct {
	TradeNo    string
	OutTradeNo string
	Money      string
	Status     string
	Params     Params
}

func (r *QueryResult) Paid() bool { return r.Status == "1" || r.Status == TradeSuccess }

type Gateway interface {
	Version() Version
	// BuildPaymentParams returns the signed parameters for redirecting the
	// buyer to the gateway. order.PaymentType must be set.
	BuildPaymentParams(order *domain.Order) (Params, error)
	PaymentURL(params Params) string
	// VerifyCallback reports whether params carry a valid signature under the
	// active scheme. The error is non-nil only for unusable key material.
	VerifyCallback(params Params) (bool, error)
	// QueryOrder asks the gateway for a trade's state.
	QueryOrder(ctx context.Context, tradeNo string) (*QueryResult, error)
	// QueryOutTradeNo looks the trade up by our order number, for orders
	// whose callback never arrived.
	QueryOutTradeNo(ctx context.Context, orderNo string) (*QueryResult, error)
}

type Option func(*options)

type options struct {
	timeout            time.Duration
	insecureSkipVerify bool
	now                func() time.Time
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithInsecureSkipVerify disables TLS certificate checks toward the gateway.
// Some self-hosted gateways run with self-signed certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) { o.insecureSkipVerify = skip }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the gateway for cred.Version. Bad RSA key material does not fail
// construction; the operations that need the key return a CryptoConfigError.
func New(cred Credential, site Site, opts ...Option) (Gateway, error) {
	o := options{timeout: DefaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if cred.APIURL != "" && !strings.HasSuffix(cred.APIURL, "/") {
		cred.APIURL += "/"
	}

	switch cred.Version {
	case V1:
		return newMD5Gateway(cred, site), nil
	case V2:
		return newRSAGateway(cred, site, o), nil
	}
	return nil, fmt.Errorf("unknown gateway sdk version %q", cred.Version)
}

func baseParams(cred Credential, site Site, order *domain.Order) Params {
	return Params{
		"pid":          cred.PID,
		"type":         order.PaymentType,
		"out_trade_no": order.OrderNo,
		"notify_url":   site.NotifyURL,
		"return_url":   site.ReturnURL,
		"name":         order.Name,
		"money":        domain.FormatMajor(order.Amount, site.Precision),
		"sitename":     site.Name,
	}
}

// SignContent is the canonical string both schemes sign: non-empty params
// other than sign and sign_type, sorted by key, joined as k=v with '&'.
func SignContent(params Params) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == signField || k == signTypeField || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func encodeQuery(base, path string, params Params) string {
	return base + path + "?" + params.Values().Encode()
}
