package payment

import (
	"context"
	"crypto/subtle"
	"strings"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/signature"
)

const signTypeMD5 = "MD5"

type md5Gateway struct {
	cred Credential
	site Site
}

func newMD5Gateway(cred Credential, site Site) *md5Gateway {
	return &md5Gateway{cred: cred, site: site}
}

func (g *md5Gateway) Version() Version { return V1 }

func (g *md5Gateway) BuildPaymentParams(order *domain.Order) (Params, error) {
	params := baseParams(g.cred, g.site, order)
	params[signField] = g.sign(params)
	params[signTypeField] = signTypeMD5
	return params, nil
}

func (g *md5Gateway) PaymentURL(params Params) string {
	return encodeQuery(g.cred.APIURL, "submit.php", params)
}

func (g *md5Gateway) VerifyCallback(params Params) (bool, error) {
	sign := params[signField]
	if sign == "" || params[signTypeField] != signTypeMD5 {
		return false, nil
	}
	expected := g.sign(params)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sign))) == 1, nil
}

func (g *md5Gateway) QueryOrder(context.Context, string) (*QueryResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (g *md5Gateway) QueryOutTradeNo(context.Context, string) (*QueryResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (g *md5Gateway) sign(params Params) string {
	return signature.MD5Hex(SignContent(params) + g.cred.Key)
}
