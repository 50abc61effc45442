// Package pricing holds the integer arithmetic of share trading: the flat
// unit price, the basis-point fee split and the pro-rata payout. Every
// function is pure and reports domain.ErrOverflow or domain.ErrUnderflow
// instead of wrapping.
package pricing

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/ChiefWoods/prediction/internal/domain"
)

var bpsDenominator = uint256.NewInt(domain.MaxFeeBps)

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) (uint64, error) {
	out := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		hi, lo := bits.Mul64(out, 10)
		if hi != 0 {
			return 0, fmt.Errorf("pricing: 10^%d: %w", decimals, domain.ErrOverflow)
		}
		out = lo
	}
	return out, nil
}

// UnitPrice returns the notional price of shares at one whole value unit per
// share, expressed in the unit's smallest denomination.
func UnitPrice(shares uint64, decimals uint8) (uint64, error) {
	scale, err := Pow10(decimals)
	if err != nil {
		return 0, err
	}
	hi, lo := bits.Mul64(shares, scale)
	if hi != 0 {
		return 0, fmt.Errorf("pricing: price of %d shares: %w", shares, domain.ErrOverflow)
	}
	return lo, nil
}

// Fee returns floor(price * feeBps / 10000).
func Fee(price uint64, feeBps uint16) (uint64, error) {
	if feeBps > domain.MaxFeeBps {
		return 0, domain.ErrInvalidFee
	}
	return MulDiv(price, uint64(feeBps), domain.MaxFeeBps)
}

// Split divides price into the fee and the remainder.
func Split(price uint64, feeBps uint16) (fee, net uint64, err error) {
	fee, err = Fee(price, feeBps)
	if err != nil {
		return 0, 0, err
	}
	net, err = Sub(price, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, net, nil
}

// ProRata returns floor(shares * pool / total), the slice of pool owed to
// shares out of total outstanding shares.
func ProRata(shares, pool, total uint64) (uint64, error) {
	if total == 0 {
		return 0, fmt.Errorf("pricing: pro-rata over zero shares: %w", domain.ErrUnderflow)
	}
	if shares > total {
		return 0, fmt.Errorf("pricing: %d shares exceed %d outstanding: %w", shares, total, domain.ErrOverflow)
	}
	return MulDiv(shares, pool, total)
}

// MulDiv returns floor(a * b / d) using a 256-bit intermediate product.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("pricing: division by zero: %w", domain.ErrOverflow)
	}
	var denom *uint256.Int
	if d == domain.MaxFeeBps {
		denom = bpsDenominator
	} else {
		denom = uint256.NewInt(d)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(a), uint256.NewInt(b), denom)
	if overflow || !z.IsUint64() {
		return 0, fmt.Errorf("pricing: %d*%d/%d: %w", a, b, d, domain.ErrOverflow)
	}
	return z.Uint64(), nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, domain.ErrUnderflow
	}
	return diff, nil
}
