package integrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"spicengine/pkg/integrate"
)

func TestCoefficientsBackwardEuler(t *testing.T) {
	// Order 1 trapezoidal is backward Euler: ag[0] = 1/dt.
	c := integrate.Coefficients(integrate.TrapezoidalMethod, 1, 0.5)
	assert.Len(t, c, 1)
	assert.InDelta(t, 2.0, c[0], 1e-12)
}

func TestCoefficientsTrapezoidalOrder2(t *testing.T) {
	c := integrate.Coefficients(integrate.TrapezoidalMethod, 2, 0.5)
	assert.Len(t, c, 1)
	assert.InDelta(t, 4.0, c[0], 1e-12)
}

func TestCoefficientsOutOfRangeOrderClampsToOne(t *testing.T) {
	c := integrate.Coefficients(integrate.TrapezoidalMethod, 9, 1.0)
	want := integrate.Coefficients(integrate.TrapezoidalMethod, 1, 1.0)
	assert.Equal(t, want, c)

	cg := integrate.Coefficients(integrate.GearMethod, 0, 1.0)
	wantG := integrate.Coefficients(integrate.GearMethod, 1, 1.0)
	assert.Equal(t, wantG, cg)
}

func TestCoefficientsGearOrderSums(t *testing.T) {
	// Every Gear table's coefficients (excluding ag[0]) sum, when
	// divided by -scale, to 1: the consistency condition for a multistep
	// method interpolating the current value from its own history.
	for order := 1; order <= 6; order++ {
		c := integrate.Coefficients(integrate.GearMethod, order, 1.0)
		assert.Len(t, c, order+1)
		assert.NotZero(t, c[0])
		sum := 0.0
		for _, v := range c[1:] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum/(-c[0]), 1e-12)
	}
}

func TestLTEConstantMatchesKnownTrapezoidalValue(t *testing.T) {
	assert.InDelta(t, 1.0/12.0, integrate.LTEConstant(integrate.TrapezoidalMethod, 2), 1e-12)
	assert.InDelta(t, 0.5, integrate.LTEConstant(integrate.TrapezoidalMethod, 1), 1e-12)
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "trapezoidal", integrate.TrapezoidalMethod.String())
	assert.Equal(t, "gear", integrate.GearMethod.String())
}

func TestMethodMaxOrderSupported(t *testing.T) {
	assert.Equal(t, 2, integrate.TrapezoidalMethod.MaxOrderSupported())
	assert.Equal(t, 6, integrate.GearMethod.MaxOrderSupported())
}

func TestHistoryPushAndAt(t *testing.T) {
	h := integrate.NewHistory(2)
	h.Seed("vc", 1.0)
	assert.Equal(t, 1.0, h.At("vc", 0))
	assert.Equal(t, 1.0, h.At("vc", 1))

	h.Push("vc", 2.0)
	assert.Equal(t, 2.0, h.At("vc", 0))
	assert.Equal(t, 1.0, h.At("vc", 1))

	h.Push("vc", 3.0)
	assert.Equal(t, 3.0, h.At("vc", 0))
	assert.Equal(t, 2.0, h.At("vc", 1))
	assert.Equal(t, 1.0, h.At("vc", 2))
}

func TestHistoryAtOutOfRangeReturnsZero(t *testing.T) {
	h := integrate.NewHistory(2)
	h.Declare("x")
	assert.Equal(t, 0.0, h.At("x", 100))
	assert.Equal(t, 0.0, h.At("missing", 0))
}

func TestHistoryDeclareIsIdempotent(t *testing.T) {
	h := integrate.NewHistory(1)
	h.Seed("x", 5.0)
	h.Declare("x") // must not reset the ring
	assert.Equal(t, 5.0, h.At("x", 0))
}

func TestBreakpointsInsertSortsAndDedups(t *testing.T) {
	b := integrate.NewBreakpoints()
	b.Insert(3.0)
	b.Insert(1.0)
	b.Insert(2.0)
	b.Insert(2.0) // duplicate, must be a no-op

	next, ok := b.Next(0)
	assert.True(t, ok)
	assert.Equal(t, 1.0, next)

	next, ok = b.Next(1.0)
	assert.True(t, ok)
	assert.Equal(t, 2.0, next)

	next, ok = b.Next(2.0)
	assert.True(t, ok)
	assert.Equal(t, 3.0, next)

	_, ok = b.Next(3.0)
	assert.False(t, ok)
}

func TestBreakpointsMarkRollback(t *testing.T) {
	b := integrate.NewBreakpoints()
	b.Insert(1.0)
	mark := b.Mark()
	b.Insert(2.0)
	b.Insert(3.0)

	b.Rollback(mark)
	_, ok := b.Next(1.0)
	assert.False(t, ok, "breakpoints inserted after the mark must be discarded")

	next, ok := b.Next(0)
	assert.True(t, ok)
	assert.Equal(t, 1.0, next)
}

func TestBreakpointsSnapStep(t *testing.T) {
	b := integrate.NewBreakpoints()
	b.Insert(1.05)

	dt, snapped := b.SnapStep(1.0, 0.1, 1e-9)
	assert.True(t, snapped)
	assert.InDelta(t, 0.05, dt, 1e-12)

	dt, snapped = b.SnapStep(1.0, 0.01, 1e-9)
	assert.False(t, snapped)
	assert.Equal(t, 0.01, dt)
}
