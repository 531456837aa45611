package domain

import (
	"sort"
	"strings"
)

// Symbol identifies a tradable instrument (e.g., "BTCUSDT").
// Values are always upper-case once they pass NormalizeSymbol.
type Symbol string

// NormalizeSymbol trims whitespace and upper-cases a user supplied symbol.
func NormalizeSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

// String implements fmt.Stringer
func (s Symbol) String() string {
	return string(s)
}

// IsZero reports whether the symbol is empty
func (s Symbol) IsZero() bool {
	return s == ""
}

// SortSymbols returns a sorted copy of symbols
func SortSymbols(symbols []Symbol) []Symbol {
	out := make([]Symbol, len(symbols))
	copy(out, symbols)
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}
