package matrix

import (
	"math"
	"math/cmplx"
)

// Field is the scalar algebra the sparse solver is generic over: add,
// subtract, multiply, divide, magnitude, reciprocal, and an exact zero
// test. Every entry point in this package (element storage, Markowitz
// search, factorization, substitution) is written once against Field and
// instantiated twice: Real for bias/transient analysis, Complex for AC.
type Field[F any] interface {
	Add(F) F
	Sub(F) F
	Mul(F) F
	Div(F) F
	Abs() float64
	Recip() F
	IsZero() bool
}

// Real is the scalar field for DC and transient analysis.
type Real float64

func (r Real) Add(o Real) Real { return r + o }
func (r Real) Sub(o Real) Real { return r - o }
func (r Real) Mul(o Real) Real { return r * o }
func (r Real) Div(o Real) Real { return r / o }
func (r Real) Abs() float64    { return math.Abs(float64(r)) }
func (r Real) Recip() Real     { return 1 / r }
func (r Real) IsZero() bool    { return r == 0 }

// Complex is the scalar field for AC analysis: node admittances at a
// fixed frequency, Laplace = j*omega. Kept as its own named type rather
// than bare complex128 so it can carry the Field methods pivoting needs;
// component-wise float64 already gives it the same working precision as
// a Fortran DOUBLE COMPLEX, which is the "higher than standard" (i.e.
// above single-precision complex64) representation the stability of
// Markowitz pivoting near a resonance peak depends on.
type Complex complex128

func (c Complex) Add(o Complex) Complex { return c + o }
func (c Complex) Sub(o Complex) Complex { return c - o }
func (c Complex) Mul(o Complex) Complex { return c * o }
func (c Complex) Div(o Complex) Complex { return c / o }
func (c Complex) Abs() float64          { return cmplx.Abs(complex128(c)) }
func (c Complex) Recip() Complex        { return 1 / c }
func (c Complex) IsZero() bool          { return c == 0 }
