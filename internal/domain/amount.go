package domain

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Token metadata
const (
	TokenName     = "Monad Token"
	TokenSymbol   = "MON"
	TokenDecimals = 6
)

// Amount is a token quantity in the smallest unit (10^-6 MON).
type Amount uint64

var maxAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ParseAmount converts a decimal token string such as "10.5" into smallest units.
// Negative values, more than TokenDecimals fractional digits and overflow are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	units := d.Shift(TokenDecimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalidAmount, TokenDecimals, s)
	}
	if units.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return Amount(units.BigInt().Uint64()), nil
}

// Tokens builds an Amount from a whole number of tokens.
func Tokens(n uint64) Amount {
	return Amount(n * 1_000_000)
}

// Decimal returns the amount in whole tokens.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -TokenDecimals)
}

// String formats the amount in whole tokens, e.g. "10.5".
func (a Amount) String() string {
	return a.Decimal().String()
}

// Units formats the raw smallest-unit value.
func (a Amount) Units() string {
	return strconv.FormatUint(uint64(a), 10)
}
