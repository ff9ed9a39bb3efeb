package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places between stored minor units
// and major units.
const MinorUnitScale = 2

// AmountTolerance is the largest accepted difference, in major units, between
// a gateway-notified amount and the stored order amount.
var AmountTolerance = decimal.New(1, -2)

func MajorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-MinorUnitScale)
}

// FormatMajor renders minor units as a fixed-precision major-unit string,
// e.g. 10000 with precision 2 -> "100.00".
func FormatMajor(minor int64, precision int32) string {
	return MajorUnits(minor).StringFixed(precision)
}

func ParseMajor(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, NewValidationError("money", "not a decimal amount")
	}
	return d, nil
}

// AmountMatches compares a notified major-unit amount against stored minor units.
func AmountMatches(storedMinor int64, notified decimal.Decimal) bool {
	return MajorUnits(storedMinor).Sub(notified).Abs().LessThanOrEqual(AmountTolerance)
}
