// Package money provides the fixed-scale exact decimal used for every monetary
// amount in the ledger. Values never pass through binary floating point except
// through the explicit Float64 escape.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultScale is used when no ledger scale is configured.
const DefaultScale int32 = 2

// MaxScale bounds the number of fractional digits accepted.
const MaxScale int32 = 18

var (
	// ErrDivisionByZero is returned when dividing by a zero amount.
	ErrDivisionByZero = errors.New("money: division by zero")
	// ErrInvalidAmount indicates an unparsable literal.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrPrecisionLoss indicates a literal with non-zero digits beyond the
	// requested scale. It is always reported together with ErrInvalidAmount.
	ErrPrecisionLoss = errors.New("money: precision loss")
	// ErrInvalidScale indicates a negative or oversized scale.
	ErrInvalidScale = errors.New("money: invalid scale")
	// ErrInvalidSplit indicates a split into fewer than one share.
	ErrInvalidSplit = errors.New("money: split requires at least one share")
)

// Decimal is an immutable amount stored at a fixed number of fractional digits.
// The zero value is 0 at scale 0.
type Decimal struct {
	value decimal.Decimal
	scale int32
}

// Serialized is the portable {value, scale} pair form of a Decimal.
type Serialized struct {
	Value string `json:"value"`
	Scale int32  `json:"scale"`
}

// New parses a numeric literal such as "1000.00" at scale. Trailing zeros
// beyond scale are dropped; any other extra digit is rejected, never rounded.
// Use FromDecimal to round explicitly.
func New(literal string, scale int32) (Decimal, error) {
	if err := checkScale(scale); err != nil {
		return Decimal{}, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(literal))
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, literal)
	}
	rounded := v.Round(scale)
	if !rounded.Equal(v) {
		return Decimal{}, fmt.Errorf("%w: %w: %q has more than %d decimal places", ErrInvalidAmount, ErrPrecisionLoss, literal, scale)
	}
	return Decimal{value: rounded, scale: scale}, nil
}

// MustNew is New for literals known to be valid. It panics otherwise.
func MustNew(literal string, scale int32) Decimal {
	d, err := New(literal, scale)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds a whole amount at scale.
func FromInt(v int64, scale int32) Decimal {
	return Decimal{value: decimal.NewFromInt(v), scale: clampScale(scale)}
}

// FromDecimal wraps a shopspring decimal, rounding it to scale.
func FromDecimal(v decimal.Decimal, scale int32) Decimal {
	scale = clampScale(scale)
	return Decimal{value: v.Round(scale), scale: scale}
}

// Copy returns d re-expressed at scale.
func Copy(d Decimal, scale int32) Decimal {
	return d.WithScale(scale)
}

// Zero returns 0 at scale.
func Zero(scale int32) Decimal {
	return Decimal{value: decimal.Zero, scale: clampScale(scale)}
}

// FromPair restores a Decimal from its serialized form.
func FromPair(p Serialized) (Decimal, error) {
	return New(p.Value, p.Scale)
}

// Sum adds amounts at scale. An empty list yields zero.
func Sum(scale int32, amounts ...Decimal) Decimal {
	total := Zero(scale)
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Scale reports the number of fractional digits.
func (d Decimal) Scale() int32 { return d.scale }

// Decimal exposes the underlying shopspring value.
func (d Decimal) Decimal() decimal.Decimal { return d.value }

// WithScale re-rounds the amount to a new scale, half away from zero.
func (d Decimal) WithScale(scale int32) Decimal {
	scale = clampScale(scale)
	return Decimal{value: d.value.Round(scale), scale: scale}
}

// Add returns d + o at d's scale.
func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{value: d.value.Add(o.value).Round(d.scale), scale: d.scale}
}

// Sub returns d - o at d's scale.
func (d Decimal) Sub(o Decimal) Decimal {
	return Decimal{value: d.value.Sub(o.value).Round(d.scale), scale: d.scale}
}

// Mul returns d * o rounded to d's scale.
func (d Decimal) Mul(o Decimal) Decimal {
	return Decimal{value: d.value.Mul(o.value).Round(d.scale), scale: d.scale}
}

// Div returns d / o rounded to d's scale.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.value.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	return Decimal{value: d.value.DivRound(o.value, d.scale), scale: d.scale}, nil
}

// Cmp compares the exact stored values, which is the comparison at the finer of
// both scales.
func (d Decimal) Cmp(o Decimal) int { return d.value.Cmp(o.value) }

// Equal reports d == o.
func (d Decimal) Equal(o Decimal) bool { return d.Cmp(o) == 0 }

// GreaterThan reports d > o.
func (d Decimal) GreaterThan(o Decimal) bool { return d.Cmp(o) > 0 }

// LessThan reports d < o.
func (d Decimal) LessThan(o Decimal) bool { return d.Cmp(o) < 0 }

// GreaterThanOrEqual reports d >= o.
func (d Decimal) GreaterThanOrEqual(o Decimal) bool { return d.Cmp(o) >= 0 }

// LessThanOrEqual reports d <= o.
func (d Decimal) LessThanOrEqual(o Decimal) bool { return d.Cmp(o) <= 0 }

// Abs returns |d|.
func (d Decimal) Abs() Decimal { return Decimal{value: d.value.Abs(), scale: d.scale} }

// Neg returns -d.
func (d Decimal) Neg() Decimal { return Decimal{value: d.value.Neg(), scale: d.scale} }

// IsZero reports d == 0.
func (d Decimal) IsZero() bool { return d.value.IsZero() }

// IsNegative reports d < 0.
func (d Decimal) IsNegative() bool { return d.value.IsNegative() }

// IsPositive reports d > 0.
func (d Decimal) IsPositive() bool { return d.value.IsPositive() }

// Sign returns -1, 0 or 1.
func (d Decimal) Sign() int { return d.value.Sign() }

// Float64 converts for display. The result is lossy and must not be used in any
// balance or equality check.
func (d Decimal) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}

// String renders the amount with exactly Scale fractional digits.
func (d Decimal) String() string { return d.value.StringFixed(d.scale) }

// Serialize returns the {value, scale} pair.
func (d Decimal) Serialize() Serialized {
	return Serialized{Value: d.String(), Scale: d.scale}
}

// MarshalJSON encodes as {"value":"1000.00","scale":2}.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Serialize())
}

// UnmarshalJSON accepts the pair form or a bare string/number literal. Bare
// literals keep the precision they were written with.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var p Serialized
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out, err := FromPair(p)
		if err != nil {
			return err
		}
		*d = out
		return nil
	}
	literal := strings.Trim(trimmed, `"`)
	v, err := decimal.NewFromString(literal)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, literal)
	}
	scale := -v.Exponent()
	if scale < 0 {
		scale = 0
	}
	if err := checkScale(scale); err != nil {
		return err
	}
	*d = Decimal{value: v, scale: scale}
	return nil
}

// Value implements driver.Valuer for NUMERIC columns.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner. The scale is inferred from the stored literal,
// so NUMERIC(20,2) columns come back at scale 2.
func (d *Decimal) Scan(src any) error {
	var v decimal.Decimal
	if err := v.Scan(src); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scale := -v.Exponent()
	if scale < 0 {
		scale = 0
	}
	*d = Decimal{value: v, scale: clampScale(scale)}
	return nil
}

func checkScale(scale int32) error {
	if scale < 0 || scale > MaxScale {
		return fmt.Errorf("%w: %d", ErrInvalidScale, scale)
	}
	return nil
}

func clampScale(scale int32) int32 {
	if scale < 0 {
		return 0
	}
	if scale > MaxScale {
		return MaxScale
	}
	return scale
}
