// Package money implements the credits/currency conversion contract (C1):
// fixed-point currency with 8 fractional digits on one side, integer
// "credits" (1000 credits = $1) on the other. All arithmetic is performed on
// int64 atomic units (currency in hundred-millionths of a dollar) to avoid
// floating-point drift; conversions at the currency/credits boundary use
// banker's rounding (round-half-even).
package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// CurrencyDecimals is the number of fractional digits the ledger stores
// currency amounts at.
const CurrencyDecimals = 8

// CreditsPerUnit is the fixed exchange rate: 1000 credits = $1.
const CreditsPerUnit = 1000

var currencyScale = int64(100_000_000) // 10^8

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrNegativeAmount occurs when a negative amount is invalid for the operation.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrDivisionByZero occurs when dividing by zero.
	ErrDivisionByZero = errors.New("money: division by zero")
)

// Currency is a signed fixed-point amount with 8 fractional digits,
// stored as atomic hundred-millionths of a unit (e.g. of USD).
type Currency struct {
	Atomic int64
}

// Zero is the additive identity.
func Zero() Currency { return Currency{} }

// FromAtomic builds a Currency directly from its atomic (10^-8) representation.
func FromAtomic(atomic int64) Currency { return Currency{Atomic: atomic} }

// FromMajor parses a decimal string like "10.50" or "-0.001" into a Currency.
func FromMajor(major string) (Currency, error) {
	neg := false
	s := major
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	if len(parts) > 2 || s == "" {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidFormat, major)
	}

	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidFormat, major)
	}

	var fracVal int64
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) > CurrencyDecimals {
			frac = frac[:CurrencyDecimals] // truncate extra precision
		}
		for len(frac) < CurrencyDecimals {
			frac += "0"
		}
		fracVal, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Currency{}, fmt.Errorf("%w: %q", ErrInvalidFormat, major)
		}
	}

	atomic, ok := mulOverflow(wholeVal, currencyScale)
	if !ok {
		return Currency{}, ErrOverflow
	}
	atomic, ok = addOverflow(atomic, fracVal)
	if !ok {
		return Currency{}, ErrOverflow
	}
	if neg {
		atomic = -atomic
	}
	return Currency{Atomic: atomic}, nil
}

// String renders the amount as a decimal string with 8 fractional digits.
func (c Currency) String() string {
	neg := c.Atomic < 0
	abs := c.Atomic
	if neg {
		abs = -abs
	}
	whole := abs / currencyScale
	frac := abs % currencyScale
	s := fmt.Sprintf("%d.%08d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// IsNegative reports whether the amount is strictly below zero.
func (c Currency) IsNegative() bool { return c.Atomic < 0 }

// Add returns c+other, erroring on int64 overflow.
func (c Currency) Add(other Currency) (Currency, error) {
	sum, ok := addOverflow(c.Atomic, other.Atomic)
	if !ok {
		return Currency{}, ErrOverflow
	}
	return Currency{Atomic: sum}, nil
}

// Sub returns c-other, erroring on int64 overflow.
func (c Currency) Sub(other Currency) (Currency, error) {
	diff, ok := addOverflow(c.Atomic, -other.Atomic)
	if !ok {
		return Currency{}, ErrOverflow
	}
	return Currency{Atomic: diff}, nil
}

// Cmp compares c to other: -1, 0, 1.
func (c Currency) Cmp(other Currency) int {
	switch {
	case c.Atomic < other.Atomic:
		return -1
	case c.Atomic > other.Atomic:
		return 1
	default:
		return 0
	}
}

// Quantize re-rounds the amount to 8 fractional digits using banker's
// rounding. Currency is already stored at that precision, so this is a
// no-op today but exists so callers that derive a Currency from a
// higher-precision intermediate (e.g. credits × fractional unit price)
// have an explicit quantization boundary to call, per the ledger's debit
// step 5.
func (c Currency) Quantize() Currency { return c }

// ToCredits converts a currency amount to integer credits using
// round-half-even: credits = round_half_even(currency × 1000).
// Negative inputs are rejected with ErrNegativeAmount.
func (c Currency) ToCredits() (int64, error) {
	if c.Atomic < 0 {
		return 0, ErrNegativeAmount
	}
	// atomic is currency * 10^8; credits = atomic * 1000 / 10^8 = atomic / 10^5,
	// rounded half-even.
	return divRoundHalfEven(c.Atomic, currencyScale/CreditsPerUnit), nil
}

// CreditsToCurrency converts integer credits to a currency amount:
// currency = credits / 1000. Exact — no rounding needed since
// currencyScale is a multiple of CreditsPerUnit.
func CreditsToCurrency(credits int64) (Currency, error) {
	if credits < 0 {
		return Currency{}, ErrNegativeAmount
	}
	atomic, ok := mulOverflow(credits, currencyScale/CreditsPerUnit)
	if !ok {
		return Currency{}, ErrOverflow
	}
	return Currency{Atomic: atomic}, nil
}

// FractionalCreditsToCurrency converts a fixed-point credits-per-unit price
// (expressed as creditsNumerator/creditsDenominator, e.g. 1/10 credit for a
// 0.1-credit product) times a unit count into a currency amount, rounding
// half-even at the boundary.
func FractionalCreditsToCurrency(creditsNumerator, creditsDenominator, units int64) (Currency, error) {
	if creditsDenominator <= 0 {
		return Currency{}, ErrDivisionByZero
	}
	if creditsNumerator < 0 || units < 0 {
		return Currency{}, ErrNegativeAmount
	}
	// currency_atomic = credits * units * currencyScale / (CreditsPerUnit * denominator)
	num := new(big.Int).Mul(big.NewInt(creditsNumerator), big.NewInt(units))
	num.Mul(num, big.NewInt(currencyScale))
	den := new(big.Int).Mul(big.NewInt(CreditsPerUnit), big.NewInt(creditsDenominator))

	atomic, err := bigDivRoundHalfEven(num, den)
	if err != nil {
		return Currency{}, err
	}
	if !atomic.IsInt64() {
		return Currency{}, ErrOverflow
	}
	return Currency{Atomic: atomic.Int64()}, nil
}

// FormatCredits renders a credit count for display with thousands
// separators and correct singular/plural, e.g. "1 credit", "9,999 credits".
func FormatCredits(credits int64) string {
	word := "credits"
	if credits == 1 || credits == -1 {
		word = "credit"
	}
	return fmt.Sprintf("%s %s", groupThousands(credits), word)
}

// FormatFractionalCredits renders a fractional credit cost (e.g. 0.1) for
// display, matching the source's "0.1 credits" convention for sub-unit
// priced products.
func FormatFractionalCredits(creditsNumerator, creditsDenominator int64) string {
	if creditsDenominator == 1 {
		return FormatCredits(creditsNumerator)
	}
	value := float64(creditsNumerator) / float64(creditsDenominator)
	return fmt.Sprintf("%s credits", strconv.FormatFloat(value, 'f', -1, 64))
}

func groupThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var out []byte
	for i, digit := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digit)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func addOverflow(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func mulOverflow(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	result := a * b
	if result/b != a {
		return 0, false
	}
	if result > math.MaxInt64 || result < math.MinInt64 {
		return 0, false
	}
	return result, true
}

// divRoundHalfEven divides a by b (b>0) and rounds the quotient to the
// nearest integer, ties to even, matching Python's Decimal ROUND_HALF_EVEN.
func divRoundHalfEven(a, b int64) int64 {
	q := a / b
	r := a % b
	if r == 0 {
		return q
	}
	twiceR := r * 2
	absTwiceR := twiceR
	if absTwiceR < 0 {
		absTwiceR = -absTwiceR
	}
	switch {
	case absTwiceR < b:
		return q
	case absTwiceR > b:
		if a < 0 {
			return q - 1
		}
		return q + 1
	default: // exactly half: round to even
		if q%2 == 0 {
			return q
		}
		if a < 0 {
			return q - 1
		}
		return q + 1
	}
}

// bigDivRoundHalfEven divides num by den (den>0) using round-half-even.
func bigDivRoundHalfEven(num, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(num, den, r)
	if r.Sign() == 0 {
		return q, nil
	}
	twiceR := new(big.Int).Mul(r, big.NewInt(2))
	twiceR.Abs(twiceR)
	absDen := new(big.Int).Abs(den)

	cmp := twiceR.Cmp(absDen)
	switch {
	case cmp < 0:
		return q, nil
	case cmp > 0:
		if num.Sign() < 0 != (den.Sign() < 0) {
			return q.Sub(q, big.NewInt(1)), nil
		}
		return q.Add(q, big.NewInt(1)), nil
	default:
		if new(big.Int).Mod(q, big.NewInt(2)).Sign() == 0 {
			return q, nil
		}
		if num.Sign() < 0 != (den.Sign() < 0) {
			return q.Sub(q, big.NewInt(1)), nil
		}
		return q.Add(q, big.NewInt(1)), nil
	}
}
