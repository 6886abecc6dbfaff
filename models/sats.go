package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Sats is an exact count of the smallest indivisible balance unit.
// Ledger arithmetic only ever happens on Sats; decimal values exist only at the display boundary.
type Sats int64

// SatsPerBTC is the number of sats in one whole coin
const SatsPerBTC Sats = 100_000_000

const btcExponent = -8

// IsPositive reports whether s is a valid transfer amount
func (s Sats) IsPositive() bool {
	return s > 0
}

// BTC converts sats to a whole-coin decimal for display
func (s Sats) BTC() decimal.Decimal {
	return decimal.New(int64(s), btcExponent)
}

// FormatBTC renders sats as a fixed 8-place coin amount, e.g. "0.00012000"
func (s Sats) FormatBTC() string {
	return s.BTC().StringFixed(-btcExponent)
}

// ParseBTC converts a whole-coin amount such as "0.0015" into sats.
// Amounts with more precision than one sat are rejected rather than rounded.
func ParseBTC(value string) (Sats, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid coin amount %q: %w", value, err)
	}

	scaled := d.Shift(-btcExponent)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("coin amount %q is more precise than one sat", value)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("coin amount %q is out of range", value)
	}

	return Sats(scaled.IntPart()), nil
}
