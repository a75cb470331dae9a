package domain

import (
	"errors"
	"math/big"

	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// ID is a 128-bit ledger identifier stored little-endian, the layout the
// ledger engine uses on the wire.
type ID [16]byte

var ErrInvalidID = errors.New("invalid id")

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// IDFromBigInt converts a non-negative integer of at most 128 bits.
func IDFromBigInt(v *big.Int) (ID, error) {
	if v == nil || v.Sign() < 0 || v.Cmp(maxUint128) > 0 {
		return ID{}, ErrInvalidID
	}
	return ID(types.BigIntToUint128(*v)), nil
}

// ParseID parses a base-10 id as returned by ID.String.
func ParseID(s string) (ID, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return ID{}, ErrInvalidID
	}
	return IDFromBigInt(v)
}

func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// BigInt returns the id as an integer. Unlike types.Uint128.String, which
// prints hex, ID.String formats this value in base 10.
func (id ID) BigInt() *big.Int {
	v := types.Uint128(id).BigInt()
	return &v
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return id.BigInt().String()
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
