package tickmath

import (
	"math/big"

	"github.com/holiman/uint256"
)

// MulDiv returns floor(a * b / den) together with an overflow flag that is
// set when the quotient does not fit in 256 bits or den is zero. The product
// is taken at full width through math/big, so a*b may exceed 256 bits.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, bool) {
	if den.IsZero() {
		return nil, true
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	p.Div(p, den.ToBig())
	return uint256.FromBig(p)
}

// MulDivRoundingUp returns ceil(a * b / den) with the same overflow contract
// as MulDiv.
func MulDivRoundingUp(a, b, den *uint256.Int) (*uint256.Int, bool) {
	if den.IsZero() {
		return nil, true
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	d := den.ToBig()
	q, r := new(big.Int).QuoRem(p, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return uint256.FromBig(q)
}

// DivRoundingUp returns ceil(a / den); den must be non-zero.
func DivRoundingUp(a, den *uint256.Int) *uint256.Int {
	q := new(uint256.Int)
	r := new(uint256.Int)
	q.DivMod(a, den, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}
