package models

import (
	"cmp"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedValue is returned when a raw field cannot be normalized to its
// declared kind.
var ErrMalformedValue = errors.New("malformed value")

// Kind is the declared type of a category or the actual type of a value.
type Kind int

const (
	KindMissing Kind = iota
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a single table cell. The zero Value is Missing.
type Value struct {
	Kind Kind
	Num  decimal.Decimal
	Text string
}

// Missing returns the "no data" sentinel.
func Missing() Value { return Value{} }

// Number wraps a decimal.
func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }

// NumberFromFloat wraps f rounded to places decimal places.
func NumberFromFloat(f float64, places int32) Value {
	return Number(decimal.NewFromFloat(f).Round(places))
}

// Text wraps a word.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

func (v Value) IsMissing() bool { return v.Kind == KindMissing }

// Float returns the numeric value for plotting. Missing and text plot as zero.
func (v Value) Float() float64 {
	if v.Kind != KindNumber {
		return 0
	}
	return v.Num.InexactFloat64()
}

// String returns the persisted form of v.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return v.Num.String()
	case KindText:
		return v.Text
	default:
		return "-"
	}
}

var magnitudes = []struct {
	suffix string
	scale  decimal.Decimal
}{
	{"T", decimal.New(1, 12)},
	{"B", decimal.New(1, 9)},
	{"M", decimal.New(1, 6)},
	{"K", decimal.New(1, 3)},
}

// Label returns a short human-readable form, abbreviating large magnitudes.
func (v Value) Label() string {
	if v.Kind != KindNumber {
		return v.String()
	}
	abs := v.Num.Abs()
	for _, m := range magnitudes {
		if abs.GreaterThanOrEqual(m.scale) {
			return v.Num.Div(m.scale).StringFixed(2) + m.suffix
		}
	}
	return v.Num.StringFixed(2)
}

// Equal reports whether v and o hold the same kind and value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num.Equal(o.Num)
	case KindText:
		return v.Text == o.Text
	default:
		return true
	}
}

// rank orders numeric values (Missing counts as zero) before text.
func (v Value) rank() int {
	if v.Kind == KindText {
		return 1
	}
	return 0
}

func (v Value) number() decimal.Decimal {
	if v.Kind == KindNumber {
		return v.Num
	}
	return decimal.Zero
}

// Compare returns -1, 0 or +1. Missing compares as zero, numbers compare
// numerically, text compares case-insensitively, and every numeric value
// orders before every text value.
func Compare(a, b Value) int {
	ra, rb := a.rank(), b.rank()
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	if ra == 0 {
		return a.number().Cmp(b.number())
	}
	if c := strings.Compare(strings.ToLower(a.Text), strings.ToLower(b.Text)); c != 0 {
		return c
	}
	return strings.Compare(a.Text, b.Text)
}

func isMissingToken(s string) bool {
	switch strings.ToUpper(s) {
	case "", "-", "--", "\u2014", "N/A", "NA", "NAN", "NONE", "NULL":
		return true
	}
	return false
}

// ParseNumber parses a numeric field. It accepts thousands separators, a
// leading dollar sign, a trailing percent sign and a K/M/B/T magnitude
// suffix. Placeholder tokens such as "-" or "N/A" yield Missing.
func ParseNumber(raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if isMissingToken(s) {
		return Missing(), nil
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "\u2212", "-")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	scale := decimal.NewFromInt(1)
	for _, m := range magnitudes {
		if strings.HasSuffix(strings.ToUpper(s), m.suffix) {
			scale = m.scale
			s = strings.TrimSpace(s[:len(s)-1])
			break
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Missing(), fmt.Errorf("%w: %q", ErrMalformedValue, raw)
	}
	return Number(d.Mul(scale)), nil
}

// ParseValue normalizes raw to kind.
func ParseValue(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindNumber:
		return ParseNumber(raw)
	case KindText:
		s := strings.TrimSpace(raw)
		if isMissingToken(s) {
			return Missing(), nil
		}
		return Text(s), nil
	default:
		return Missing(), fmt.Errorf("%w: undeclared kind for %q", ErrMalformedValue, raw)
	}
}
