// Package amount converts token amounts between on-chain base units and
// human-readable decimal values without floating point.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the fixed precision of the staked token.
const USDCDecimals = 6

var (
	// ErrInvalidAmount is returned for input that is not a decimal number.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNonPositive is returned for zero or negative input.
	ErrNonPositive = errors.New("amount must be greater than zero")
	// ErrTooPrecise is returned when the input has more fractional digits than the token.
	ErrTooPrecise = errors.New("amount has more decimal places than the token supports")
)

// Amount is an exact token amount. Raw is the integer value in base units,
// Value the same amount scaled by the token decimals.
type Amount struct {
	Raw      *big.Int
	Decimals int32
}

// FromBaseUnits wraps a base-unit integer. A nil raw value is treated as zero.
func FromBaseUnits(raw *big.Int, decimals int32) Amount {
	if raw == nil {
		raw = new(big.Int)
	}
	return Amount{Raw: new(big.Int).Set(raw), Decimals: decimals}
}

// Zero returns a zero amount with the given precision.
func Zero(decimals int32) Amount {
	return Amount{Raw: new(big.Int), Decimals: decimals}
}

// Value returns the display value raw / 10^decimals.
func (a Amount) Value() decimal.Decimal {
	if a.Raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.Raw, -a.Decimals)
}

// String formats the display value with trailing zeros trimmed,
// e.g. 123456789000 base units at 6 decimals is "123456.789".
func (a Amount) String() string {
	return a.Value().String()
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}

// MarshalText renders the display value.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Parse converts user input such as "50" or "50.000000" into base units.
// The input must be a positive decimal with at most decimals fractional digits.
func Parse(input string, decimals int32) (Amount, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty input", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	if d.Sign() <= 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrNonPositive, input)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %q (max %d)", ErrTooPrecise, input, decimals)
	}

	return Amount{Raw: scaled.BigInt(), Decimals: decimals}, nil
}
