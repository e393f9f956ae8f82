package types

import (
	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit quantity stored big-endian, so that
// budgets and fees serialize to a fixed width.
type Amount [32]byte

// NewAmount returns v as an Amount.
func NewAmount(v uint64) Amount {
	return AmountFromInt(uint256.NewInt(v))
}

// AmountFromInt converts a uint256 to an Amount.
func AmountFromInt(x *uint256.Int) Amount {
	return Amount(x.Bytes32())
}

// ParseAmount parses a base-10 amount.
func ParseAmount(s string) (Amount, error) {
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	return AmountFromInt(x), nil
}

// Int returns a fresh uint256 holding the amount.
func (a Amount) Int() *uint256.Int {
	return new(uint256.Int).SetBytes32(a[:])
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == Amount{} }

// Uint64 returns the amount and whether it fits in 64 bits.
func (a Amount) Uint64() (uint64, bool) {
	x := a.Int()
	return x.Uint64(), x.IsUint64()
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.Int().Cmp(b.Int())
}

func (a Amount) String() string { return a.Int().Dec() }
