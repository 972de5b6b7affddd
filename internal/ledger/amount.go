package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// AmountScale is the number of fractional digits kept on every amount.
const AmountScale = 2

var (
	errAmountFormat   = fmt.Errorf("%w: not a number", models.ErrInvalidAmount)
	errAmountNegative = fmt.Errorf("%w: must be non-negative", models.ErrInvalidAmount)
	errAmountTooLarge = fmt.Errorf("%w: must not exceed %s", models.ErrInvalidAmount, models.MaxAmount.StringFixed(AmountScale))
)

// ParseAmount parses a monetary value as an exact decimal and truncates it
// toward zero to two fractional digits. "10.999" becomes 10.99 and "-0.001"
// becomes 0.00; anything still negative after truncation is rejected, as is
// anything above models.MaxAmount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errAmountFormat
	}
	if d.IsZero() {
		return decimal.Zero, nil
	}

	// Size the value from its coefficient and exponent before doing any
	// arithmetic: rescaling "1e200000000" or "1e-200000000" would build a
	// big.Int with hundreds of millions of digits.
	intDigits := int64(d.NumDigits()) + int64(d.Exponent())
	switch {
	case intDigits > models.MaxAmountDigits:
		if d.IsNegative() {
			return decimal.Zero, errAmountNegative
		}
		return decimal.Zero, errAmountTooLarge
	case intDigits <= -AmountScale:
		// below 0.01 in magnitude, truncates to zero
		return decimal.Zero, nil
	}

	d = d.Truncate(AmountScale)
	if d.IsNegative() {
		return decimal.Zero, errAmountNegative
	}
	if d.GreaterThan(models.MaxAmount) {
		return decimal.Zero, errAmountTooLarge
	}
	return d, nil
}
