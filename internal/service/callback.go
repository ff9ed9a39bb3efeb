package service

import (
	"context"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/infrastructure/payment"
)

type CallbackResult string

const (
	CallbackPaid      CallbackResult = "paid"
	CallbackDuplicate CallbackResult = "duplicate"
	CallbackIgnored   CallbackResult = "ignored"
)

// HandleCallback processes the gateway's asynchronous notification. A nil
// error means the gateway should be told "success".
func (s *orderService) HandleCallback(ctx context.Context, params payment.Params) (CallbackResult, error) {
	rt := s.runtime.Current()
	orderNo := params["out_trade_no"]
	log := s.logger.With("order_no", orderNo, "trade_no", params["trade_no"], "trade_status", params["trade_status"])

	if err := s.verified(rt, params); err != nil {
		log.Warn("gateway callback rejected", "error", err.Error())
		return "", err
	}
	if err := requireParams(params, "out_trade_no", "trade_status", "money"); err != nil {
		log.Warn("gateway callback incomplete", "error", err.Error())
		return "", err
	}

	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if err != nil {
		log.Warn("gateway callback for unknown order", "error", err.Error())
		return "", err
	}

	if params["trade_status"] != payment.TradeSuccess {
		log.Warn("gateway reported non-success trade status; order left unchanged")
		return CallbackIgnored, nil
	}

	applied, err := s.Settle(ctx, order, params["trade_no"], params["money"])
	if err != nil {
		return "", err
	}
	if !applied {
		log.Info("duplicate gateway callback for paid order")
		return CallbackDuplicate, nil
	}
	return CallbackPaid, nil
}

// Settle applies the paid transition after checking the notified amount. It
// reports false when the order was already paid; only the call that applies
// the transition hands the order to the notifier.
func (s *orderService) Settle(ctx context.Context, order *domain.Order, tradeNo, money string) (bool, error) {
	if err := s.checkAmount(order, money); err != nil {
		return false, err
	}
	if order.IsPaid() {
		return false, nil
	}

	paidAt := s.now()
	applied, err := s.orders.MarkPaid(ctx, order.OrderNo, tradeNo, paidAt, domain.NotifyQueued)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	order.Status = domain.OrderPaid
	order.TradeNo = tradeNo
	order.PaidAt = &paidAt
	order.NotifyStatus = domain.NotifyQueued
	s.logger.Info("order paid", "order_no", order.OrderNo, "trade_no", tradeNo, "amount", order.Amount)

	if s.notifier != nil {
		s.notifier.Notify(ctx, order)
	}
	return true, nil
}

// HandleReturn verifies the buyer's synchronous return. It never changes
// order state.
func (s *orderService) HandleReturn(ctx context.Context, params payment.Params) (*ReturnView, error) {
	rt := s.runtime.Current()
	if err := s.verified(rt, params); err != nil {
		s.logger.Warn("gateway return rejected", "order_no", params["out_trade_no"], "error", err.Error())
		return nil, err
	}
	if err := requireParams(params, "out_trade_no", "money"); err != nil {
		return nil, err
	}
	order, err := s.orders.FindByOrderNo(ctx, params["out_trade_no"])
	if err != nil {
		return nil, err
	}
	if err := s.checkAmount(order, params["money"]); err != nil {
		return nil, err
	}
	cfg := rt.Config
	return &ReturnView{
		Order:   order,
		Amount:  FormatAmount(cfg.CurrencySymbols, order.Currency, order.Amount, cfg.AmountPrecision),
		Success: params["trade_status"] == payment.TradeSuccess || order.IsPaid(),
	}, nil
}
