// Package money represents on-chain amounts as fixed-point integers.
//
// Amounts never touch floating point. An Amount is a count of base
// units of 1e-8 — the same precision the underlying ledger uses for a
// single output value — so two amounts compare and add with plain
// integer arithmetic.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Scale is the number of fractional digits an Amount represents.
const Scale = 8

const scaleFactor = 100_000_000

// Amount is a non-negative quantity of base units (1e-8 of the
// ledger's display unit).
type Amount int64

// FromUnits builds an Amount directly from a base-unit count.
func FromUnits(units int64) Amount {
	return Amount(units)
}

// Units returns the raw base-unit count.
func (a Amount) Units() int64 {
	return int64(a)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return a + b
}

// Multiply returns a * n, for scaling a per-unit price by a quantity.
func (a Amount) Multiply(n int64) Amount {
	return Amount(int64(a) * n)
}

// String renders the amount as a fixed 8-decimal-digit string, e.g.
// "0.00500001". This is the exact encoding used as the pending index
// key (spec §4.4.1) and must round-trip through Parse.
func (a Amount) String() string {
	units := int64(a)
	neg := units < 0
	if neg {
		units = -units
	}
	whole := units / scaleFactor
	frac := units % scaleFactor
	s := fmt.Sprintf("%d.%08d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// Parse reads an 8-decimal fixed-point string back into an Amount.
// It is the inverse of String and accepts exactly the format String
// produces, plus the usual decimal shorthands (no leading sign,
// fewer than 8 fractional digits).
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	var frac int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > Scale {
			return 0, fmt.Errorf("money: amount %q has more than %d fractional digits", s, Scale)
		}
		fracStr = fracStr + strings.Repeat("0", Scale-len(fracStr))
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
		}
	}
	units := whole*scaleFactor + frac
	if neg {
		units = -units
	}
	return Amount(units), nil
}
