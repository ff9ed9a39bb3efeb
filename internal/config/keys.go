package config

import "sort"

// overridable lists the keys an operator may persist through the admin API.
// Bootstrap settings (listen address, database, admin credentials) stay
// environment-only.
var overridable = map[string]struct{}{
	"CASHIER_URL":               {},
	"CASHIER_NAME":              {},
	"COMMUNICATION_KEY":         {},
	"EPAY_API_URL":              {},
	"EPAY_PID":                  {},
	"EPAY_SDK_VERSION":          {},
	"EPAY_KEY":                  {},
	"EPAY_PLATFORM_PUBLIC_KEY":  {},
	"EPAY_MERCHANT_PRIVATE_KEY": {},
	"EPAY_TIMEOUT":              {},
	"EPAY_INSECURE_SKIP_VERIFY": {},
	"ALLOWED_CALLBACK_DOMAINS":  {},
	"NOTIFY_MAX_RETRIES":        {},
	"NOTIFY_RETRY_INTERVAL":     {},
	"NOTIFY_TIMEOUT":            {},
	"AMOUNT_PRECISION":          {},
	"CURRENCY_SYMBOLS":          {},
	"PAYMENT_METHODS":           {},
	"ORDER_EXPIRY":              {},
	"DEBUG_SHOW_ERRORS":         {},
}

func IsOverridable(key string) bool {
	_, ok := overridable[key]
	return ok
}

func OverridableKeys() []string {
	keys := make([]string, 0, len(overridable))
	for k := range overridable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// secretKeys are masked when configuration is echoed back to an operator.
var secretKeys = map[string]struct{}{
	"COMMUNICATION_KEY":         {},
	"EPAY_KEY":                  {},
	"EPAY_MERCHANT_PRIVATE_KEY": {},
}

func IsSecret(key string) bool {
	_, ok := secretKeys[key]
	return ok
}
