package vault

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// RewardRatioFallback replaces a zero reward ratio on deposit so that the
// first deposit into an empty vault still advances the reward factor.
const RewardRatioFallback = 0.5

// ScaleByRate returns floor(amount * rate). The rate is read as the shortest
// decimal that round-trips the float64 (0.3 is 0.3, not 0.2999...), and the
// product is evaluated exactly so the result never rounds up.
func ScaleByRate(amount uint64, rate float64) (uint64, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0, ErrInvalidRate
	}
	if amount == 0 || rate == 0 {
		return 0, nil
	}
	product := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).Mul(decimal.NewFromFloat(rate))
	floor := product.Floor().BigInt()
	if !floor.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return floor.Uint64(), nil
}

// Ratio returns numerator / denominator. Callers must rule out a zero
// denominator first.
func Ratio(numerator uint64, denominator float64) float64 {
	return float64(numerator) / denominator
}

// DivideByRatio returns floor(amount / ratio).
func DivideByRatio(amount uint64, ratio float64) (uint64, error) {
	if ratio == 0 || math.IsNaN(ratio) {
		return 0, ErrDivisionByZero
	}
	if math.IsInf(ratio, 0) || ratio < 0 {
		return 0, ErrArithmeticOverflow
	}
	quotient := new(big.Rat).SetUint64(amount)
	quotient.Quo(quotient, new(big.Rat).SetFloat64(ratio))
	return ratFloor(quotient)
}

func ratFloor(r *big.Rat) (uint64, error) {
	if r.Sign() < 0 {
		return 0, ErrArithmeticOverflow
	}
	floor := new(big.Int).Quo(r.Num(), r.Denom())
	if !floor.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return floor.Uint64(), nil
}

func addU64(a, b uint64) (uint64, error) {
	sum := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	if !sum.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return sum.Uint64(), nil
}

func subU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// mulDivFloor returns floor(a*b/d) with a 256-bit intermediate product.
func mulDivFloor(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	quo, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(d))
	if overflow || !quo.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return quo.Uint64(), nil
}

func validFraction(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
