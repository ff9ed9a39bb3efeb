package payment

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudpay-cashier/internal/signature"
)

// Simulator plays the gateway side of the protocol. It signs callbacks the way
// the platform does and answers v2 order queries for trades it has charged.
type Simulator struct {
	mu     sync.RWMutex
	trades map[string]Params

	version     Version
	pid         string
	key         string
	platformKey *rsa.PrivateKey
	now         func() time.Time
}

// NewSimulator needs the shared key for V1, or the platform private key
// (the counterpart of Credential.PlatformPublicKey) for V2.
func NewSimulator(cred Credential, platformPrivateKey string) (*Simulator, error) {
	s := &Simulator{
		trades:  make(map[string]Params),
		version: cred.Version,
		pid:     cred.PID,
		key:     cred.Key,
		now:     time.Now,
	}
	if cred.Version == V2 {
		key, err := signature.ParsePrivateKey(platformPrivateKey)
		if err != nil {
			return nil, err
		}
		s.platformKey = key
	}
	return s, nil
}

func (s *Simulator) SetClock(now func() time.Time) { s.now = now }

// Charge records a trade for orderNo and returns the signed asynchronous
// notification the gateway would send.
func (s *Simulator) Charge(orderNo, money, paymentType, tradeStatus string) (Params, error) {
	tradeNo := strings.ReplaceAll(uuid.NewString(), "-", "")
	params := Params{
		"pid":          s.pid,
		"trade_no":     tradeNo,
		"out_trade_no": orderNo,
		"type":         paymentType,
		"name":         "product",
		"money":        money,
		"trade_status": tradeStatus,
	}
	signed, err := s.Sign(params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.trades[tradeNo] = signed.Clone()
	s.mu.Unlock()
	return signed, nil
}

// Sign adds sign and sign_type (and timestamp for V2) to params.
func (s *Simulator) Sign(params Params) (Params, error) {
	out := params.Clone()
	delete(out, signField)
	delete(out, signTypeField)
	switch s.version {
	case V1:
		out[signField] = signature.MD5Hex(SignContent(out) + s.key)
		out[signTypeField] = signTypeMD5
	case V2:
		out["timestamp"] = strconv.FormatInt(s.now().Unix(), 10)
		sign, err := signature.SignRSA([]byte(SignContent(out)), s.platformKey)
		if err != nil {
			return nil, err
		}
		out[signField] = sign
		out[signTypeField] = signTypeRSA
	default:
		return nil, errors.New("simulator: unknown version")
	}
	return out, nil
}

// ServeHTTP answers POST api/pay/query. Only V2 exposes the query API.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.version != V2 || !strings.HasSuffix(r.URL.Path, "/api/pay/query") {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trade, ok := s.lookup(r.PostForm.Get("trade_no"), r.PostForm.Get("out_trade_no"))

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1, "msg": "trade not found"})
		return
	}

	status := "0"
	if trade["trade_status"] == TradeSuccess {
		status = "1"
	}
	reply, err := s.Sign(Params{
		"code":         "0",
		"msg":          "succ",
		"pid":          s.pid,
		"trade_no":     trade["trade_no"],
		"out_trade_no": trade["out_trade_no"],
		"type":         trade["type"],
		"money":        trade["money"],
		"status":       status,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body := make(map[string]any, len(reply))
	for k, v := range reply {
		body[k] = v
	}
	body["code"] = 0
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Simulator) lookup(tradeNo, outTradeNo string) (Params, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tradeNo != "" {
		trade, ok := s.trades[tradeNo]
		return trade, ok
	}
	for _, trade := range s.trades {
		if outTradeNo != "" && trade["out_trade_no"] == outTradeNo {
			return trade, true
		}
	}
	return nil, false
}
