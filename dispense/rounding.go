package dispense

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROUNDING - Canonical 2dp rounding for every volume
// =============================================================================

// VolumePlaces is the precision of every stored or compared volume (0.01 mL).
const VolumePlaces = 2

// Round rounds d to two decimal places, half away from zero.
// Round(Round(d)) == Round(d).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(VolumePlaces)
}

// RoundFloat rounds a float64 volume to two decimal places.
//
// The float is first converted through its shortest decimal representation,
// so binary artifacts never reach the rounding step: 0.1+0.2 is seen as 0.3,
// and 1.005 as 1.005 (rounding to 1.01, not 1.00).
func RoundFloat(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f, _ := Round(decimal.NewFromFloat(x)).Float64()
	return f
}

// =============================================================================
// VOLUME - Millilitres, decimal-backed
// =============================================================================

type Volume struct {
	Value decimal.Decimal
}

var ZeroVolume = Volume{Value: decimal.Zero}

// NewVolume builds a rounded volume from millilitres.
// NaN and infinities are not volumes and map to zero; request validation
// rejects them before they get here.
func NewVolume(ml float64) Volume {
	if math.IsNaN(ml) || math.IsInf(ml, 0) {
		return ZeroVolume
	}
	return Volume{Value: Round(decimal.NewFromFloat(ml))}
}

// VolumeFromDecimal rounds d into a Volume.
func VolumeFromDecimal(d decimal.Decimal) Volume {
	return Volume{Value: Round(d)}
}

// ParseVolume parses a decimal string such as "10.50".
func ParseVolume(s string) (Volume, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroVolume, err
	}
	return VolumeFromDecimal(d), nil
}

// Arithmetic results are rounded so they can be compared exactly.
func (v Volume) Add(o Volume) Volume          { return VolumeFromDecimal(v.Value.Add(o.Value)) }
func (v Volume) Sub(o Volume) Volume          { return VolumeFromDecimal(v.Value.Sub(o.Value)) }
func (v Volume) Mul(d decimal.Decimal) Volume { return VolumeFromDecimal(v.Value.Mul(d)) }
func (v Volume) MulInt(n int) Volume          { return v.Mul(decimal.NewFromInt(int64(n))) }

func (v Volume) IsZero() bool                     { return v.Value.IsZero() }
func (v Volume) IsPositive() bool                 { return v.Value.IsPositive() }
func (v Volume) IsNegative() bool                 { return v.Value.IsNegative() }
func (v Volume) Equal(o Volume) bool              { return v.Value.Equal(o.Value) }
func (v Volume) LessThan(o Volume) bool           { return v.Value.LessThan(o.Value) }
func (v Volume) GreaterThan(o Volume) bool        { return v.Value.GreaterThan(o.Value) }
func (v Volume) GreaterThanOrEqual(o Volume) bool { return v.Value.GreaterThanOrEqual(o.Value) }

func (v Volume) Min(o Volume) Volume {
	if v.LessThan(o) {
		return v
	}
	return o
}

func (v Volume) Float64() float64 {
	f, _ := v.Value.Float64()
	return f
}

// String renders the volume without trailing zeros, e.g. "5.2", "21.5", "50".
func (v Volume) String() string { return v.Value.String() }
