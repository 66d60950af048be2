// Package money implements fixed-point decimal arithmetic for prices,
// rates and commission amounts.
//
// Values are stored as *big.Int in internal units of 10^-6, which keeps
// arithmetic exact for the sub-cent prices and fractional rates the
// marketplace accepts, while displayed amounts stay ordinary decimal
// strings. Floats never touch a money value.
package money

import (
	"math/big"
	"strings"
)

const (
	// Precision is the number of internal decimal places.
	Precision = 6
	// CurrencyDecimals is the display precision of the currency (cents).
	CurrencyDecimals = 2
)

var (
	unit     = pow10(Precision)                       // 10^6
	centUnit = pow10(Precision - CurrencyDecimals)    // 10^4
	prodCent = pow10(2*Precision - CurrencyDecimals)  // 10^10, cent unit at product scale
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// Parse converts a decimal string to internal units. It accepts plain
// decimals ("12", "12.5", ".05"); an empty string parses as zero.
// Negative values and malformed input are rejected. Digits beyond the
// internal precision are truncated.
func Parse(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, false
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, false
		}
	}
	if whole == "" && frac == "" {
		return nil, false
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Precision {
		frac = frac[:Precision]
	}
	frac += strings.Repeat("0", Precision-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	return v, true
}

// Format renders internal units as a decimal string. Trailing zeros are
// trimmed down to the currency's display precision, so whole amounts
// render as "10.00" and sub-cent amounts keep their digits ("99.995").
func Format(v *big.Int) string {
	q, r := new(big.Int).QuoRem(new(big.Int).Abs(v), unit, new(big.Int))
	frac := r.String()
	frac = strings.Repeat("0", Precision-len(frac)) + frac
	for len(frac) > CurrencyDecimals && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	return q.String() + "." + frac
}

// IsPositive reports whether s parses as a strictly positive amount.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}

// Cmp compares two decimal strings, returning -1, 0 or 1. Malformed
// input compares as zero; callers validate amounts before comparing.
func Cmp(a, b string) int {
	av, _ := Parse(a)
	bv, _ := Parse(b)
	if av == nil {
		av = big.NewInt(0)
	}
	if bv == nil {
		bv = big.NewInt(0)
	}
	return av.Cmp(bv)
}

// Equal reports whether two decimal strings denote the same amount.
func Equal(a, b string) bool { return Cmp(a, b) == 0 }

// RoundHalfUpToCent rounds internal units to the nearest cent, with
// exact halves rounding up.
func RoundHalfUpToCent(v *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(v, centUnit, new(big.Int))
	if new(big.Int).Lsh(r, 1).Cmp(centUnit) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Mul(q, centUnit)
}

// MulRateToCent multiplies an amount by a rate (both in internal units)
// and rounds the product half-up to the nearest cent. This is the one
// place commission amounts are computed, so every caller rounds the
// same way.
func MulRateToCent(amount, rate *big.Int) *big.Int {
	prod := new(big.Int).Mul(amount, rate) // scale 2*Precision
	q, r := new(big.Int).QuoRem(prod, prodCent, new(big.Int))
	if new(big.Int).Lsh(r, 1).Cmp(prodCent) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Mul(q, centUnit)
}
