package dispense_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/warp/dispensing-engine/dispense"
)

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"binary artifact", 0.1 + 0.2, 0.30},
		{"already rounded", 6.5, 6.5},
		{"half up", 1.005, 1.01},
		{"half away from zero negative", -1.005, -1.01},
		{"truncates third place", 2.344, 2.34},
		{"product artifact", 1.1 * 3, 3.3},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dispense.RoundFloat(tt.in))
		})
	}
}

func TestVolume_ArithmeticStaysRounded(t *testing.T) {
	a := dispense.NewVolume(0.1)
	b := dispense.NewVolume(0.2)

	assert.Equal(t, "0.3", a.Add(b).String())
	assert.True(t, a.Add(b).Equal(dispense.NewVolume(0.3)))
	assert.True(t, dispense.NewVolume(10).Sub(dispense.NewVolume(3.7)).Equal(dispense.NewVolume(6.3)))
	assert.Equal(t, "1.67", dispense.VolumeFromDecimal(decimal.RequireFromString("1.666")).String())
	assert.True(t, dispense.NewVolume(0.5).MulInt(10).Equal(dispense.NewVolume(5)))
}

func TestParseVolume(t *testing.T) {
	v, err := dispense.ParseVolume("10.505")
	assert.NoError(t, err)
	assert.Equal(t, "10.51", v.String())

	_, err = dispense.ParseVolume("ten")
	assert.Error(t, err)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestProperty_RoundIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float64Range(-1e9, 1e9).Draw(t, "x")

		once := dispense.RoundFloat(x)
		twice := dispense.RoundFloat(once)
		if once != twice {
			t.Fatalf("RoundFloat not idempotent: %v -> %v -> %v", x, once, twice)
		}
	})
}

func TestProperty_RoundDecimalIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		units := rapid.Int64Range(-1_000_000_000, 1_000_000_000).Draw(t, "units")
		exp := rapid.Int32Range(-6, 0).Draw(t, "exp")
		d := decimal.New(units, exp)

		once := dispense.Round(d)
		if !dispense.Round(once).Equal(once) {
			t.Fatalf("Round not idempotent for %s", d)
		}
		if once.Sub(d).Abs().GreaterThan(decimal.New(5, -3)) {
			t.Fatalf("Round(%s) = %s moved more than half a cent", d, once)
		}
	})
}
