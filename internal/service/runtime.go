package service

import (
	"fmt"
	"log/slog"

	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/infrastructure/payment"
	"cloudpay-cashier/internal/upstream"
)

// Runtime is everything derived from one configuration snapshot. Requests
// read it once at entry and use it throughout, so a reload never mixes two
// configurations inside one request.
type Runtime struct {
	Config     *config.Config
	Gateway    payment.Gateway // nil until the gateway is configured
	Verifier   *upstream.Verifier
	Dispatcher *upstream.Dispatcher
}

type RuntimeSource interface {
	Current() *Runtime
}

type fixedRuntime struct{ rt *Runtime }

func (f fixedRuntime) Current() *Runtime { return f.rt }

// Fixed returns a RuntimeSource that never changes.
func Fixed(rt *Runtime) RuntimeSource { return fixedRuntime{rt: rt} }

// BuildRuntime selects the gateway scheme and builds the upstream verifier and
// dispatcher for cfg.
func BuildRuntime(cfg *config.Config, recorder upstream.AttemptRecorder, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Verifier: upstream.NewVerifier(cfg.CommunicationKey),
	}

	opts := []upstream.DispatcherOption{upstream.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, upstream.WithRecorder(recorder))
	}
	rt.Dispatcher = upstream.NewDispatcher(cfg.Notify.Timeout, upstream.RetryPolicy{
		MaxRetries:   cfg.Notify.MaxRetries,
		BaseInterval: cfg.Notify.RetryInterval,
	}, opts...)

	if !cfg.GatewayConfigured() {
		logger.Warn("payment gateway not configured; checkout is disabled")
		return rt, nil
	}
	version, err := payment.ParseVersion(cfg.Gateway.SDKVersion)
	if err != nil {
		return nil, err
	}
	gw, err := payment.New(payment.Credential{
		Version:            version,
		APIURL:             cfg.Gateway.APIURL,
		PID:                cfg.Gateway.PID,
		Key:                cfg.Gateway.Key,
		PlatformPublicKey:  cfg.Gateway.PlatformPublicKey,
		MerchantPrivateKey: cfg.Gateway.MerchantPrivateKey,
	}, payment.Site{
		NotifyURL: cfg.NotifyURL(),
		ReturnURL: cfg.ReturnURL(),
		Name:      cfg.CashierName,
		Precision: cfg.AmountPrecision,
	},
		payment.WithTimeout(cfg.Gateway.Timeout),
		payment.WithInsecureSkipVerify(cfg.Gateway.InsecureSkipVerify),
	)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	if cfg.Gateway.InsecureSkipVerify {
		logger.Warn("TLS certificate verification toward the payment gateway is disabled")
	}
	rt.Gateway = gw
	return rt, nil
}
