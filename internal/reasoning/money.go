package reasoning

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// minorUnits maps currencies with non-standard fractional digits.
// Anything absent uses two.
var minorUnits = map[string]int{
	"IDR": 0,
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
}

// RoundToMinorUnit rounds half away from zero to the currency's smallest
// unit: whole rupiah for IDR, cents elsewhere.
func RoundToMinorUnit(currency string, v float64) float64 {
	decimals, ok := minorUnits[strings.ToUpper(currency)]
	if !ok {
		decimals = 2
	}
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// FormatMoney renders a monetary value with its currency tag, never
// bare. IDR uses the local "Rp" notation.
func FormatMoney(currency string, v float64) string {
	currency = strings.ToUpper(currency)
	rounded := RoundToMinorUnit(currency, v)

	decimals, ok := minorUnits[currency]
	if !ok {
		decimals = 2
	}

	formatted := groupThousands(strconv.FormatFloat(rounded, 'f', decimals, 64))
	if currency == "IDR" {
		return "Rp " + formatted
	}
	return fmt.Sprintf("%s %s", currency, formatted)
}

// groupThousands inserts comma separators into the integer part of a
// decimal string, preserving sign and fraction.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	n := len(intPart)
	if n <= 3 {
		return sign + intPart + fracPart
	}

	var b strings.Builder
	first := n % 3
	if first > 0 {
		b.WriteString(intPart[:first])
	}
	for i := first; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + fracPart
}
