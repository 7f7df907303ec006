// Package integrate supplies the variable-step transient integration
// machinery: per-state history rings, the Trapezoidal/Gear coefficient
// tables, and the breakpoint table the transient driver snaps to.
package integrate

// Method names a linear multistep integration rule and the orders it
// supports.
type Method int

const (
	TrapezoidalMethod Method = iota
	GearMethod
)

func (m Method) String() string {
	if m == GearMethod {
		return "gear"
	}
	return "trapezoidal"
}

// MaxOrderSupported returns the highest order this method supports.
func (m Method) MaxOrderSupported() int {
	if m == GearMethod {
		return 6
	}
	return 2
}

type bdfTable struct {
	coefficients []float64
	beta         float64
	// lteConstant is the leading error constant C_k in the local
	// truncation error estimate LTE ~= C_k * dt^(k+1) * d^(k+1)x/dt^(k+1).
	lteConstant float64
}

// bdfCoefficients holds the Gear/BDF tables for orders 1 through 6.
var bdfCoefficients = [6]bdfTable{
	{[]float64{1.0}, 1.0, 0.5},
	{[]float64{4.0 / 3.0, -1.0 / 3.0}, 2.0 / 3.0, 2.0 / 9.0},
	{[]float64{18.0 / 11.0, -9.0 / 11.0, 2.0 / 11.0}, 6.0 / 11.0, 3.0 / 22.0},
	{[]float64{48.0 / 25.0, -36.0 / 25.0, 16.0 / 25.0, -3.0 / 25.0}, 12.0 / 25.0, 12.0 / 125.0},
	{[]float64{300.0 / 137.0, -300.0 / 137.0, 200.0 / 137.0, -75.0 / 137.0, 12.0 / 137.0}, 60.0 / 137.0, 10.0 / 137.0},
	{[]float64{360.0 / 147.0, -450.0 / 147.0, 400.0 / 147.0, -225.0 / 147.0, 72.0 / 147.0, -10.0 / 147.0}, 60.0 / 147.0, 20.0 / 343.0},
}

// trapezoidalLTE holds the order-1 (backward Euler, used for the first
// step) and order-2 (trapezoidal proper) error constants.
var trapezoidalLTE = [2]float64{0.5, 1.0 / 12.0}

// Coefficients returns ag[0..order]: ag[0] multiplies the unknown at the
// new time point, ag[1..order] multiply the order most-recent historic
// values/derivatives, clamped to the method's supported order range.
func Coefficients(method Method, order int, dt float64) []float64 {
	if method == TrapezoidalMethod {
		if order < 1 || order > 2 {
			order = 1
		}
		c := make([]float64, 1)
		c[0] = 1.0 / dt
		if order == 2 {
			c[0] = 2.0 / dt
		}
		return c
	}

	if order < 1 || order > 6 {
		order = 1
	}
	bdf := bdfCoefficients[order-1]
	coeffs := make([]float64, order+1)
	scale := 1.0 / (bdf.beta * dt)
	coeffs[0] = scale
	for i := 1; i <= order; i++ {
		coeffs[i] = -bdf.coefficients[i-1] * scale
	}
	return coeffs
}

// LTEConstant returns the leading error constant for the given method and
// order, used to scale the local truncation error estimate.
func LTEConstant(method Method, order int) float64 {
	if method == TrapezoidalMethod {
		if order < 1 || order > 2 {
			order = 1
		}
		return trapezoidalLTE[order-1]
	}
	if order < 1 || order > 6 {
		order = 1
	}
	return bdfCoefficients[order-1].lteConstant
}
