// Package config builds the cashier's configuration from the environment and
// from overrides persisted in the configs table. A Config is immutable once
// built; reloading produces a new one.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	CashierURL       string
	CashierName      string
	CommunicationKey string

	Gateway GatewayConfig
	Notify  NotifyConfig

	AllowedCallbackDomains []string
	AmountPrecision        int32
	CurrencySymbols        map[string]string
	PaymentMethods         []string

	OrderExpiry         time.Duration
	ExpirySweepInterval time.Duration
	ReconcileInterval   time.Duration
	ReconcileAfter      time.Duration

	RateLimitPerHour int
	RedisURL         string

	AdminUser       string
	AdminPassword   string
	DebugShowErrors bool
}

type GatewayConfig struct {
	APIURL             string
	PID                string
	SDKVersion         string
	Key                string
	PlatformPublicKey  string
	MerchantPrivateKey string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type NotifyConfig struct {
	MaxRetries    int
	RetryInterval time.Duration
	Timeout       time.Duration
	Async         bool
	Workers       int
}

// Lookup resolves a configuration key. It has the shape of os.LookupEnv.
type Lookup func(key string) (string, bool)

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadWithOverrides reads the environment with stored overrides taking
// precedence for the keys listed in Overridable.
func LoadWithOverrides(overrides map[string]string) (*Config, error) {
	return LoadFrom(Overlay(os.LookupEnv, overrides))
}

// Overlay returns a Lookup that consults overrides before base. Keys outside
// Overridable are ignored.
func Overlay(base Lookup, overrides map[string]string) Lookup {
	return func(key string) (string, bool) {
		if IsOverridable(key) {
			if v, ok := overrides[key]; ok {
				return v, true
			}
		}
		return base(key)
	}
}

func LoadFrom(lookup Lookup) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		HTTPAddr:         e.str("HTTP_ADDR", ":8080"),
		DatabaseURL:      e.str("DATABASE_URL", ""),
		LogLevel:         strings.ToLower(e.str("LOG_LEVEL", "info")),
		CashierURL:       strings.TrimRight(e.str("CASHIER_URL", "http://localhost:8080"), "/"),
		CashierName:      e.str("CASHIER_NAME", "Cloudreve Cashier"),
		CommunicationKey: e.str("COMMUNICATION_KEY", ""),
		Gateway: GatewayConfig{
			APIURL:             e.str("EPAY_API_URL", ""),
			PID:                e.str("EPAY_PID", ""),
			SDKVersion:         e.str("EPAY_SDK_VERSION", "1.0"),
			Key:                e.str("EPAY_KEY", ""),
			PlatformPublicKey:  e.str("EPAY_PLATFORM_PUBLIC_KEY", ""),
			MerchantPrivateKey: e.str("EPAY_MERCHANT_PRIVATE_KEY", ""),
			Timeout:            e.duration("EPAY_TIMEOUT", 10*time.Second),
			InsecureSkipVerify: e.boolean("EPAY_INSECURE_SKIP_VERIFY", false),
		},
		Notify: NotifyConfig{
			MaxRetries:    e.integer("NOTIFY_MAX_RETRIES", 3),
			RetryInterval: e.duration("NOTIFY_RETRY_INTERVAL", 5*time.Second),
			Timeout:       e.duration("NOTIFY_TIMEOUT", 10*time.Second),
			Async:         e.boolean("NOTIFY_ASYNC", true),
			Workers:       e.integer("NOTIFY_WORKERS", 4),
		},
		AllowedCallbackDomains: splitCSV(e.str("ALLOWED_CALLBACK_DOMAINS", "")),
		AmountPrecision:        int32(e.integer("AMOUNT_PRECISION", 2)),
		PaymentMethods:         splitCSV(e.str("PAYMENT_METHODS", "alipay,wxpay")),
		OrderExpiry:            e.duration("ORDER_EXPIRY", 24*time.Hour),
		ExpirySweepInterval:    e.duration("EXPIRY_SWEEP_INTERVAL", 10*time.Minute),
		ReconcileInterval:      e.duration("RECONCILE_INTERVAL", 0),
		ReconcileAfter:         e.duration("RECONCILE_AFTER", 5*time.Minute),
		RateLimitPerHour:       e.integer("RATE_LIMIT_PER_HOUR", 100),
		RedisURL:               e.str("REDIS_URL", ""),
		AdminUser:              e.str("ADMIN_USER", "admin"),
		AdminPassword:          e.str("ADMIN_PASSWORD", ""),
		DebugShowErrors:        e.boolean("DEBUG_SHOW_ERRORS", false),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = e.databaseURL()
	}

	symbols, err := parseSymbols(e.str("CURRENCY_SYMBOLS", "CNY:¥,USD:$,EUR:€,JPY:¥"))
	if err != nil {
		e.errs = append(e.errs, err.Error())
	}
	cfg.CurrencySymbols = symbols

	if len(e.errs) > 0 {
		return nil, errors.New(strings.Join(e.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL (or DB_HOST/DB_NAME) is required")
	}
	if u, err := url.Parse(c.CashierURL); err != nil || u.Host == "" {
		errs = append(errs, "CASHIER_URL must be an absolute URL")
	}
	switch c.Gateway.SDKVersion {
	case "1.0":
		if c.Gateway.APIURL != "" && c.Gateway.Key == "" {
			errs = append(errs, "EPAY_KEY is required for sdk version 1.0")
		}
	case "2.0":
		if c.Gateway.APIURL != "" && (c.Gateway.PlatformPublicKey == "" || c.Gateway.MerchantPrivateKey == "") {
			errs = append(errs, "EPAY_PLATFORM_PUBLIC_KEY and EPAY_MERCHANT_PRIVATE_KEY are required for sdk version 2.0")
		}
	default:
		errs = append(errs, "EPAY_SDK_VERSION must be 1.0 or 2.0")
	}
	if c.Gateway.APIURL != "" {
		if u, err := url.Parse(c.Gateway.APIURL); err != nil || u.Host == "" {
			errs = append(errs, "EPAY_API_URL must be an absolute URL")
		}
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, "EPAY_TIMEOUT must be > 0")
	}
	if c.Notify.MaxRetries <= 0 || c.Notify.MaxRetries > 10 {
		errs = append(errs, "NOTIFY_MAX_RETRIES must be between 1 and 10")
	}
	if c.Notify.RetryInterval < 0 {
		errs = append(errs, "NOTIFY_RETRY_INTERVAL must be >= 0")
	}
	if c.Notify.Timeout <= 0 {
		errs = append(errs, "NOTIFY_TIMEOUT must be > 0")
	}
	if c.Notify.Workers <= 0 {
		errs = append(errs, "NOTIFY_WORKERS must be > 0")
	}
	if c.AmountPrecision < 0 || c.AmountPrecision > 8 {
		errs = append(errs, "AMOUNT_PRECISION must be between 0 and 8")
	}
	if len(c.PaymentMethods) == 0 {
		errs = append(errs, "PAYMENT_METHODS must list at least one method")
	}
	if len(c.CurrencySymbols) == 0 {
		errs = append(errs, "CURRENCY_SYMBOLS must list at least one currency")
	}
	if c.OrderExpiry <= 0 {
		errs = append(errs, "ORDER_EXPIRY must be > 0")
	}
	if c.RateLimitPerHour < 0 {
		errs = append(errs, "RATE_LIMIT_PER_HOUR must be >= 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// GatewayConfigured reports whether enough gateway settings exist to build
// payment redirects.
func (c *Config) GatewayConfigured() bool {
	return c.Gateway.APIURL != "" && c.Gateway.PID != ""
}

func (c *Config) PaymentMethodEnabled(method string) bool {
	for _, m := range c.PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (c *Config) CurrencySymbol(currency string) (string, bool) {
	s, ok := c.CurrencySymbols[strings.ToUpper(currency)]
	return s, ok
}

func (c *Config) NotifyURL() string { return c.CashierURL + "/notify" }
func (c *Config) ReturnURL() string { return c.CashierURL + "/return" }

type env struct {
	lookup Lookup
	errs   []string
}

func (e *env) str(key, def string) string {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def
	}
	return v
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("parse %s: %v", key, err))
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("parse %s: %v", key, err))
		return def
	}
	return b
}

// duration accepts Go durations ("5s") or a bare number of seconds.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("parse %s: %v", key, err))
		return def
	}
	return d
}

func (e *env) databaseURL() string {
	host := e.str("DB_HOST", "")
	name := e.str("DB_NAME", "")
	if host == "" || name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(e.str("DB_USER", "postgres"), e.str("DB_PASSWORD", "")),
		Host:   host + ":" + e.str("DB_PORT", "5432"),
		Path:   "/" + name,
	}
	q := url.Values{}
	q.Set("sslmode", e.str("DB_SSLMODE", "disable"))
	if schema := e.str("DB_SCHEMA", ""); schema != "" {
		q.Set("search_path", schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}

// parseSymbols reads "CNY:¥,USD:$" into a currency -> symbol table.
func parseSymbols(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitCSV(v) {
		code, symbol, ok := strings.Cut(pair, ":")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			return nil, fmt.Errorf("parse CURRENCY_SYMBOLS: bad entry %q", pair)
		}
		out[code] = strings.TrimSpace(symbol)
	}
	return out, nil
}
