package payment

import (
	"crypto/tls"

	"github.com/go-resty/resty/v2"
)

func newHTTPClient(o options) *resty.Client {
	c := resty.New().
		SetTimeout(o.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.8").
		SetHeader("Connection", "close")
	if o.insecureSkipVerify {
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in via EPAY_INSECURE_SKIP_VERIFY
	}
	return c
}
