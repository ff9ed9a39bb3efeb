package payment

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/signature"
)

const signTypeRSA = "RSA"

type rsaGateway struct {
	cred   Credential
	site   Site
	client *resty.Client
	now    func() time.Time

	privateKey    *rsa.PrivateKey
	privateKeyErr error
	publicKey     *rsa.PublicKey
	publicKeyErr  error
}

func newRSAGateway(cred Credential, site Site, o options) *rsaGateway {
	g := &rsaGateway{
		cred:   cred,
		site:   site,
		client: newHTTPClient(o),
		now:    o.now,
	}
	g.privateKey, g.privateKeyErr = signature.ParsePrivateKey(cred.MerchantPrivateKey)
	g.publicKey, g.publicKeyErr = signature.ParsePublicKey(cred.PlatformPublicKey)
	return g
}

func (g *rsaGateway) Version() Version { return V2 }

func (g *rsaGateway) BuildPaymentParams(order *domain.Order) (Params, error) {
	return g.signParams(baseParams(g.cred, g.site, order))
}

func (g *rsaGateway) PaymentURL(params Params) string {
	return encodeQuery(g.cred.APIURL, "api/pay/submit", params)
}

func (g *rsaGateway) VerifyCallback(params Params) (bool, error) {
	sign := params[signField]
	if sign == "" {
		return false, nil
	}
	ts, ok := params.intValue("timestamp")
	if !ok {
		return false, nil
	}
	skew := g.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > replayWindow {
		return false, nil
	}
	if g.publicKeyErr != nil {
		return false, g.publicKeyErr
	}
	return signature.VerifyRSA([]byte(SignContent(params)), sign, g.publicKey), nil
}

type apiReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (g *rsaGateway) QueryOrder(ctx context.Context, tradeNo string) (*QueryResult, error) {
	return g.query(ctx, "trade_no", tradeNo)
}

func (g *rsaGateway) QueryOutTradeNo(ctx context.Context, orderNo string) (*QueryResult, error) {
	return g.query(ctx, "out_trade_no", orderNo)
}

func (g *rsaGateway) query(ctx context.Context, field, value string) (*QueryResult, error) {
	params, err := g.signParams(Params{"pid": g.cred.PID, field: value})
	if err != nil {
		return nil, err
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(params).
		Post(g.cred.APIURL + "api/pay/query")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrGatewayUnavailable, resp.StatusCode())
	}
	var reply apiReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return nil, fmt.Errorf("decode gateway query reply: %w", err)
	}
	if reply.Code != 0 {
		if reply.Msg == "" {
			reply.Msg = "request failed"
		}
		return nil, fmt.Errorf("gateway query %s=%s: %s", field, value, reply.Msg)
	}

	fields, err := paramsFromJSON(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode gateway query reply: %w", err)
	}
	ok, err := g.VerifyCallback(fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("gateway query reply failed signature verification")
	}
	return &QueryResult{
		TradeNo:    fields["trade_no"],
		OutTradeNo: fields["out_trade_no"],
		Money:      fields["money"],
		Status:     fields["status"],
		Params:     fields,
	}, nil
}

func (g *rsaGateway) signParams(params Params) (Params, error) {
	if g.privateKeyErr != nil {
		return nil, g.privateKeyErr
	}
	params["timestamp"] = strconv.FormatInt(g.now().Unix(), 10)
	sign, err := signature.SignRSA([]byte(SignContent(params)), g.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign gateway request: %w", err)
	}
	params[signField] = sign
	params[signTypeField] = signTypeRSA
	return params, nil
}
