// Package amount draws the randomized quantity moved by each transfer cycle.
package amount

import (
	"math/big"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	xerrors "solshuttle/internal/errors"
)

const (
	// DefaultPrecision is the number of decimal places kept in the display amount.
	DefaultPrecision int32 = 6
	// LamportsPerSOL converts SOL into its smallest unit.
	LamportsPerSOL int64 = 1_000_000_000
	unitDecimals   int32 = 9
)

// Amount pairs the human readable value with its smallest-unit integer.
type Amount struct {
	Display  decimal.Decimal
	Lamports int64
}

// String renders the display value with the generator precision.
func (a Amount) String() string {
	return a.Display.String()
}

// Generator produces uniformly distributed amounts inside [min, max].
type Generator struct {
	min       decimal.Decimal
	max       decimal.Decimal
	lower     decimal.Decimal
	upper     decimal.Decimal
	precision int32
	float     func() float64
}

// Option customises a Generator.
type Option func(*Generator)

// WithPrecision overrides the number of decimal places kept.
func WithPrecision(places int32) Option {
	return func(g *Generator) {
		g.precision = places
	}
}

// WithRand makes the generator draw from r instead of the process-wide source.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.float = r.Float64
		}
	}
}

// NewGenerator validates the bounds and returns a ready generator.
func NewGenerator(min, max decimal.Decimal, opts ...Option) (*Generator, error) {
	g := &Generator{
		min:       min,
		max:       max,
		precision: DefaultPrecision,
		float:     rand.Float64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if g.precision < 0 || g.precision > unitDecimals {
		return nil, xerrors.Config("金额精度 %d 超出范围 [0, %d]", g.precision, unitDecimals)
	}
	if !min.IsPositive() {
		return nil, xerrors.Config("最小转账金额必须大于 0: %s", min)
	}
	if max.LessThan(min) {
		return nil, xerrors.Config("最大转账金额 %s 小于最小金额 %s", max, min)
	}

	g.lower = min.RoundCeil(g.precision)
	g.upper = max.RoundFloor(g.precision)
	if g.upper.LessThan(g.lower) {
		return nil, xerrors.Config("金额区间 [%s, %s] 在 %d 位小数下为空", min, max, g.precision)
	}
	return g, nil
}

// Min returns the configured lower bound.
func (g *Generator) Min() decimal.Decimal { return g.min }

// Max returns the configured upper bound.
func (g *Generator) Max() decimal.Decimal { return g.max }

// Next draws a new amount. The rounded value is clamped so it never leaves [min, max].
func (g *Generator) Next() Amount {
	span := g.max.Sub(g.min)
	value := g.min.Add(span.Mul(decimal.NewFromFloat(g.float()))).Round(g.precision)

	if value.LessThan(g.lower) {
		value = g.lower
	}
	if value.GreaterThan(g.upper) {
		value = g.upper
	}

	return Amount{
		Display:  value,
		Lamports: ToLamports(value),
	}
}

// ToLamports converts a SOL amount into lamports, truncating anything below one lamport.
func ToLamports(sol decimal.Decimal) int64 {
	return sol.Shift(unitDecimals).IntPart()
}

// FromLamports converts lamports back into SOL.
func FromLamports(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -unitDecimals)
}
