package royalty

import (
	"fmt"
	"math/bits"

	"github.com/bitfsorg/libjukebox-go/record"
)

const (
	// BpsDenominator is the basis point scale of the platform fee.
	BpsDenominator = 10_000

	// MaxFeeBps is the largest fee Split accepts.
	MaxFeeBps = BpsDenominator

	// PlatformFeeCap is the largest fee the platform may be configured with.
	PlatformFeeCap = 2000

	// PercentTotal is the sum every royalty split must reach.
	PercentTotal = 100

	// MultiplierScale is the fixed-point scale of a table price multiplier.
	MultiplierScale = 100
)

// Share is one principal's cut of a royalty pool.
type Share struct {
	Principal record.Principal
	Amount    uint64
}

// Distribution is the result of splitting one payment.
//
// Fee + Sum(Shares) + Residual == Payment always holds. Residual is the
// rounding dust left by truncating each share; it stays in escrow.
type Distribution struct {
	Payment  uint64
	Fee      uint64
	Pool     uint64
	Shares   []Share
	Residual uint64
}

// Distributed returns the amount paid out: the fee plus every share.
func (d Distribution) Distributed() uint64 {
	return d.Payment - d.Residual
}

// MulDiv returns floor(a*b/c) computed with a 128-bit intermediate. ok is
// false when c is zero or the result does not fit in 64 bits.
func MulDiv(a, b, c uint64) (q uint64, ok bool) {
	if c == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, false
	}
	q, _ = bits.Div64(hi, lo, c)
	return q, true
}

// mulDivFraction is MulDiv for b <= c, where the result never exceeds a.
func mulDivFraction(a, b, c uint64) uint64 {
	q, _ := MulDiv(a, b, c)
	return q
}

// Charge returns the price of a request: floor(basePrice * multiplier / 100).
func Charge(basePrice uint64, multiplier uint32) (uint64, error) {
	q, ok := MulDiv(basePrice, uint64(multiplier), MultiplierScale)
	if !ok {
		return 0, fmt.Errorf("%w: %d x %d/%d", ErrOverflow, basePrice, multiplier, MultiplierScale)
	}
	return q, nil
}

// ValidateSplit checks that split is non-empty, names every principal and
// sums to exactly 100.
func ValidateSplit(split []record.Split) error {
	if len(split) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidSplit)
	}
	var total uint64
	for i, s := range split {
		if s.Principal == "" {
			return fmt.Errorf("%w: entry %d has no principal", ErrInvalidSplit, i)
		}
		total += uint64(s.Percent)
	}
	if total != PercentTotal {
		return fmt.Errorf("%w: percentages sum to %d", ErrInvalidSplit, total)
	}
	return nil
}

// ValidateFee checks a platform fee against a limit in basis points.
func ValidateFee(feeBps, limit uint32) error {
	if feeBps > limit {
		return fmt.Errorf("%w: %d bps exceeds %d", ErrFeeTooHigh, feeBps, limit)
	}
	return nil
}

// Split computes the fee and per-principal shares of payment.
//
//	fee   = floor(payment * feeBps / 10000)
//	pool  = payment - fee
//	share = floor(pool * percent / 100), in split order
//
// The residual is not redistributed.
func Split(payment uint64, feeBps uint32, split []record.Split) (Distribution, error) {
	if err := ValidateFee(feeBps, MaxFeeBps); err != nil {
		return Distribution{}, err
	}
	if err := ValidateSplit(split); err != nil {
		return Distribution{}, err
	}

	d := Distribution{
		Payment: payment,
		Fee:     mulDivFraction(payment, uint64(feeBps), BpsDenominator),
		Shares:  make([]Share, len(split)),
	}
	d.Pool = payment - d.Fee

	var paid uint64
	for i, s := range split {
		amount := mulDivFraction(d.Pool, uint64(s.Percent), PercentTotal)
		d.Shares[i] = Share{Principal: s.Principal, Amount: amount}
		paid += amount
	}
	d.Residual = d.Pool - paid
	return d, nil
}
