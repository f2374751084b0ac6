package money

import "github.com/shopspring/decimal"

// Split partitions d into n shares that add back to d exactly. Every share but
// the first is floor(d/n) at d's scale; the first absorbs the remainder.
func (d Decimal) Split(n int) ([]Decimal, error) {
	if n <= 0 {
		return nil, ErrInvalidSplit
	}
	count := decimal.NewFromInt(int64(n))
	share := d.value.Div(count).RoundFloor(d.scale)
	first := d.value.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))

	out := make([]Decimal, n)
	out[0] = Decimal{value: first, scale: d.scale}
	for i := 1; i < n; i++ {
		out[i] = Decimal{value: share, scale: d.scale}
	}
	return out, nil
}
