package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// maxAmountDigits is the number of decimal digits in 2^128-1.
const maxAmountDigits = 39

// ParseAmount parses a client-supplied amount in minor units. Only positive
// integers are accepted; "100" and "100.0" are equivalent.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return nil, ErrInvalidAmount
	}

	// Bound the magnitude before anything rescales the coefficient: the
	// exponent alone can ask for a 10^(2^31) intermediate.
	digits, exp := int64(d.NumDigits()), int64(d.Exponent())
	if digits+exp > maxAmountDigits || -exp >= digits {
		return nil, ErrInvalidAmount
	}
	if !d.IsInteger() {
		return nil, ErrInvalidAmount
	}

	v := d.BigInt()
	if v.Cmp(maxUint128) > 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}
