package domain

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	MinOrderAmount = 1
	MaxOrderAmount = 100000000
	maxNameLength  = 100
)

var orderNoPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

func ValidateOrderNo(orderNo string) error {
	if !orderNoPattern.MatchString(orderNo) {
		return NewValidationError("order_no", "must be 3-64 characters of [a-zA-Z0-9_-]")
	}
	return nil
}

func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "is required")
	}
	if len(name) > maxNameLength {
		return NewValidationError("name", "is too long")
	}
	return nil
}

func ValidateAmount(amount int64) error {
	if amount < MinOrderAmount || amount > MaxOrderAmount {
		return NewValidationError("amount", "out of range")
	}
	return nil
}

// ValidateNotifyURL checks that raw is an absolute http(s) URL whose host is
// on the allowlist. An empty allowlist accepts every host.
func ValidateNotifyURL(raw string, allowedHosts []string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return NewValidationError("notify_url", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("notify_url", "must use http or https")
	}
	if len(allowedHosts) == 0 {
		return nil
	}
	host := u.Hostname()
	for _, allowed := range allowedHosts {
		if strings.EqualFold(host, allowed) {
			return nil
		}
	}
	return NewValidationError("notify_url", "domain is not allowed")
}
