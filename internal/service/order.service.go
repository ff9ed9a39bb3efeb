package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/infrastructure/payment"
)

// OrderStore is the order persistence the service needs. MarkPaid must be an
// atomic conditional update.
type OrderStore interface {
	FindByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error)
	Create(ctx context.Context, order *domain.Order) error
	MarkProcessing(ctx context.Context, orderNo, paymentType string) (*domain.Order, error)
	MarkPaid(ctx context.Context, orderNo, tradeNo string, paidAt time.Time, notify domain.NotifyStatus) (bool, error)
}

// Notifier hands a freshly paid order to notification delivery.
type Notifier interface {
	Notify(ctx context.Context, order *domain.Order)
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, string, error)
	QueryStatus(ctx context.Context, orderNo string) (string, error)
	Checkout(ctx context.Context, orderNo string) (*CheckoutView, error)
	SelectPayment(ctx context.Context, orderNo, paymentType string) (string, error)
	HandleCallback(ctx context.Context, params payment.Params) (CallbackResult, error)
	HandleReturn(ctx context.Context, params payment.Params) (*ReturnView, error)
	Settle(ctx context.Context, order *domain.Order, tradeNo, money string) (bool, error)
}

type CreateOrderInput struct {
	OrderNo   string `json:"order_no"`
	Name      string `json:"name"`
	Amount    int64  `json:"amount"`
	NotifyURL string `json:"notify_url"`
	Currency  string `json:"currency"`
}

type CheckoutView struct {
	Order       *domain.Order
	Amount      string
	Methods     []string
	CashierName string
}

type ReturnView struct {
	Order   *domain.Order
	Amount  string
	Success bool
}

type orderService struct {
	orders   OrderStore
	runtime  RuntimeSource
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrderService(orders OrderStore, runtime RuntimeSource, notifier Notifier, logger *slog.Logger) OrderService {
	return &orderService{
		orders:   orders,
		runtime:  runtime,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, string, error) {
	rt := s.runtime.Current()
	cfg := rt.Config

	in.OrderNo = strings.TrimSpace(in.OrderNo)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = domain.DefaultCurrency
	}
	if err := domain.ValidateOrderNo(in.OrderNo); err != nil {
		return nil, "", err
	}
	if err := domain.ValidateName(in.Name); err != nil {
		return nil, "", err
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, "", err
	}
	if _, ok := cfg.CurrencySymbol(in.Currency); !ok {
		return nil, "", domain.NewValidationError("currency", "is not supported")
	}
	if err := domain.ValidateNotifyURL(in.NotifyURL, cfg.AllowedCallbackDomains); err != nil {
		return nil, "", err
	}

	order := &domain.Order{
		OrderNo:      in.OrderNo,
		Name:         strings.TrimSpace(in.Name),
		Amount:       in.Amount,
		Currency:     in.Currency,
		NotifyURL:    in.NotifyURL,
		Status:       domain.OrderPending,
		NotifyStatus: domain.NotifyNone,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, "", err
	}
	s.logger.Info("order created", "order_no", order.OrderNo, "amount", order.Amount, "currency", order.Currency)
	return order, checkoutURL(cfg.CashierURL, order.OrderNo), nil
}

func checkoutURL(base, orderNo string) string {
	return base + "/checkout?" + url.Values{"order_no": {orderNo}}.Encode()
}

func (s *orderService) QueryStatus(ctx context.Context, orderNo string) (string, error) {
	if err := domain.ValidateOrderNo(orderNo); err != nil {
		return "", err
	}
	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return "", err
	}
	return order.UpstreamStatus(), nil
}

func (s *orderService) Checkout(ctx context.Context, orderNo string) (*CheckoutView, error) {
	if err := domain.ValidateOrderNo(orderNo); err != nil {
		return nil, err
	}
	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	cfg := s.runtime.Current().Config
	return &CheckoutView{
		Order:       order,
		Amount:      FormatAmount(cfg.CurrencySymbols, order.Currency, order.Amount, cfg.AmountPrecision),
		Methods:     append([]string(nil), cfg.PaymentMethods...),
		CashierName: cfg.CashierName,
	}, nil
}

// SelectPayment records the buyer's method and returns the signed gateway
// redirect URL.
func (s *orderService) SelectPayment(ctx context.Context, orderNo, paymentType string) (string, error) {
	rt := s.runtime.Current()
	if err := domain.ValidateOrderNo(orderNo); err != nil {
		return "", err
	}
	if !rt.Config.PaymentMethodEnabled(paymentType) {
		return "", fmt.Errorf("%w: %q", domain.ErrPaymentMethod, paymentType)
	}
	if rt.Gateway == nil {
		return "", fmt.Errorf("%w: not configured", domain.ErrGatewayUnavailable)
	}

	order, err := s.orders.MarkProcessing(ctx, orderNo, paymentType)
	if err != nil {
		return "", err
	}
	params, err := rt.Gateway.BuildPaymentParams(order)
	if err != nil {
		s.logger.Error("build payment params", "order_no", orderNo, "error", err.Error())
		return "", err
	}
	s.logger.Info("payment method selected", "order_no", orderNo, "payment_type", paymentType, "sdk_version", string(rt.Gateway.Version()))
	return rt.Gateway.PaymentURL(params), nil
}

// FormatAmount renders minor units with the currency's symbol, e.g. "¥100.00".
func FormatAmount(symbols map[string]string, currency string, minor int64, precision int32) string {
	return symbols[strings.ToUpper(currency)] + domain.FormatMajor(minor, precision)
}

func (s *orderService) verified(rt *Runtime, params payment.Params) error {
	if rt.Gateway == nil {
		return fmt.Errorf("%w: not configured", domain.ErrGatewayUnavailable)
	}
	ok, err := rt.Gateway.VerifyCallback(params)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: gateway signature", domain.ErrAuth)
	}
	return nil
}

func requireParams(params payment.Params, keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(params[k]) == "" {
			return domain.NewValidationError(k, "is required")
		}
	}
	return nil
}

func (s *orderService) checkAmount(order *domain.Order, money string) error {
	notified, err := domain.ParseMajor(money)
	if err != nil {
		return err
	}
	if !domain.AmountMatches(order.Amount, notified) {
		mismatch := &domain.AmountMismatchError{
			OrderNo:  order.OrderNo,
			Expected: domain.MajorUnits(order.Amount).String(),
			Notified: notified.String(),
		}
		s.logger.Error("gateway amount does not match order",
			"anomaly", "amount_mismatch",
			"order_no", order.OrderNo,
			"expected", mismatch.Expected,
			"notified", mismatch.Notified,
		)
		return mismatch
	}
	return nil
}
