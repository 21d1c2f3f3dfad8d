package wallet

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits of one whole coin.
const AmountDecimals = 8

var maxAmount = decimal.NewFromUint64(math.MaxUint64)

// ParseAmount parses a decimal coin value such as "1.5" into base units.
// Values with more than AmountDecimals fractional digits are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	units := d.Shift(AmountDecimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, AmountDecimals)
	}
	if units.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("invalid amount %q: too large", s)
	}
	return Amount(units.BigInt().Uint64()), nil
}

// String renders the amount in whole coins with trailing zeros trimmed.
func (a Amount) String() string {
	return decimal.NewFromUint64(uint64(a)).Shift(-AmountDecimals).String()
}
