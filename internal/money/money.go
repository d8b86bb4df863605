// Package money normalises locale-formatted amounts typed by operators.
//
// Parsing is deliberately lenient: anything that cannot be read as a number
// becomes zero instead of an error.
package money

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Scale is the number of decimal places kept for currency amounts.
const Scale = 2

var printer = message.NewPrinter(language.BrazilianPortuguese)

// Parse reads amounts such as "12,50", "12.5", "R$ 1.234,56" or "-20".
// Only digits, commas and dots are kept. The last separator is the decimal
// point and earlier separators are dropped. A minus sign before the first
// digit makes the amount negative.
func Parse(s string) decimal.Decimal {
	d := parseMagnitude(s)
	if leadingMinus(s) {
		return d.Neg()
	}
	return d
}

func leadingMinus(s string) bool {
	for _, r := range s {
		switch {
		case r == '-':
			return true
		case r >= '0' && r <= '9', r == ',', r == '.':
			return false
		}
	}
	return false
}

func parseMagnitude(s string) decimal.Decimal {
	kept := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == ',' || r == '.':
			return '.'
		}
		return -1
	}, s)
	kept = strings.TrimRight(kept, ".")
	if kept == "" {
		return decimal.Zero
	}
	if idx := strings.LastIndexByte(kept, '.'); idx >= 0 {
		kept = strings.ReplaceAll(kept[:idx], ".", "") + "." + kept[idx+1:]
	}
	if kept == "." || kept == "" {
		return decimal.Zero
	}
	if strings.HasPrefix(kept, ".") {
		kept = "0" + kept
	}
	d, err := decimal.NewFromString(kept)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseQuantity reads a whole, non-negative quantity. Fractions are truncated.
func ParseQuantity(s string) int {
	d := Parse(s)
	if !d.IsPositive() {
		return 0
	}
	q := d.IntPart()
	if q > int64(^uint32(0)>>1) {
		return 0
	}
	return int(q)
}

// Clamp replaces negative amounts with zero.
func Clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Round rounds to currency scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Format renders an amount the way Brazilian operators read it, e.g. "R$ 1.234,56".
func Format(d decimal.Decimal) string {
	f, _ := d.Round(Scale).Float64()
	return printer.Sprintf("R$ %v", number.Decimal(f, number.Scale(Scale)))
}

// Lenient accepts either a JSON number or a JSON string holding a
// locale-formatted amount.
type Lenient string

// UnmarshalJSON implements json.Unmarshaler.
func (l *Lenient) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*l = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Lenient(s)
	default:
		*l = Lenient(raw)
	}
	return nil
}

// Decimal parses the value with Parse.
func (l Lenient) Decimal() decimal.Decimal {
	return Parse(string(l))
}

// Quantity parses the value with ParseQuantity.
func (l Lenient) Quantity() int {
	return ParseQuantity(string(l))
}
