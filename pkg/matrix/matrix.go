// Package matrix implements the MNA-shaped sparse linear system: a
// doubly-linked sparse matrix generic over a scalar Field,
// Markowitz-pivoted LU factorization with fill-in, and forward/backward
// substitution. Matrix is the façade the rest of spicengine stamps
// against — 1-based node/branch indices, a fix/unfix discipline so
// fill-in can't sneak in after setup, and OrderAndFactor/Factor kept as
// two distinct operations so the Newton driver can re-use a pivot order
// across iterations of the same bias point.
package matrix

import (
	"fmt"

	"spicengine/pkg/spiceerr"
)

// Matrix is the sparse MNA system A*x = b, built by repeated AddElement/
// AddRHS calls during device setup and re-stamped (same sparsity, new
// values) on every Newton iteration thereafter. A second, independent
// complex SparseMatrix backs AC stamps when isComplex is set; DC and
// transient analyses never allocate it.
type Matrix struct {
	Size      int
	isComplex bool

	// complexMode selects which structure Factor/Solve operate on: the AC
	// analysis flips it on for its frequency loop, every other analysis
	// (including the operating point an AC run linearizes around) works
	// the real structure even when the complex one is allocated.
	complexMode bool

	real *SparseMatrix[Real]
	cplx *SparseMatrix[Complex]

	rhs     []Real
	rhsCplx []Complex

	solution     []Real
	solutionCplx []Complex

	fixed   bool
	ordered bool
}

// New allocates a size x size MNA matrix. isComplex reserves the complex
// structure an AC analysis needs; DC/transient analyses leave it false.
func New(size int, isComplex bool) (*Matrix, error) {
	if size <= 0 {
		return nil, fmt.Errorf("matrix: invalid size %d", size)
	}
	m := &Matrix{
		Size:      size,
		isComplex: isComplex,
		real:      NewSparse[Real](size),
		rhs:       make([]Real, size+1),
		solution:  make([]Real, size+1),
	}
	if isComplex {
		m.cplx = NewSparse[Complex](size)
		m.rhsCplx = make([]Complex, size+1)
		m.solutionCplx = make([]Complex, size+1)
	}
	return m, nil
}

func inBounds(i, j, size int) bool { return i > 0 && j > 0 && i <= size && j <= size }

// GetElement returns the real accumulator for row i, column j, creating
// it if the matrix isn't fixed yet. Once Fix has been called, a request
// for a pair that was never touched during setup is refused with
// ErrMatrixFrozen: the sparsity pattern devices stamp against must not
// change once Newton iteration has started.
func (m *Matrix) GetElement(i, j int) (*Element[Real], error) {
	if !inBounds(i, j, m.Size) {
		return nil, fmt.Errorf("matrix: index (%d,%d) out of bounds for size %d", i, j, m.Size)
	}
	return m.real.GetElement(i, j)
}

// GetDiagElement returns the diagonal entry for row/col i without going
// through the create-on-demand path; it is always present once Fix has
// run.
func (m *Matrix) GetDiagElement(i int) (*Element[Real], error) {
	if i <= 0 || i > m.Size {
		return nil, fmt.Errorf("matrix: diagonal index %d out of bounds for size %d", i, m.Size)
	}
	return m.real.GetDiagonalElement(i), nil
}

// AddElement accumulates value into the real part of (i,j). Indices <= 0
// are the MNA convention for "ground" and are silently dropped, matching
// how every device stamp in this package skips node 0.
func (m *Matrix) AddElement(i, j int, value float64) error {
	if i <= 0 || j <= 0 {
		return nil
	}
	e, err := m.GetElement(i, j)
	if err != nil {
		return err
	}
	e.Value += Real(value)
	return nil
}

// AddComplexElement accumulates into the companion complex structure
// used by AC admittance stamps; used alongside AddElement when a device
// also contributes a real conductance at the same position.
func (m *Matrix) AddComplexElement(i, j int, real, imag float64) error {
	if i <= 0 || j <= 0 || !m.isComplex {
		return nil
	}
	if !inBounds(i, j, m.Size) {
		return fmt.Errorf("matrix: index (%d,%d) out of bounds for size %d", i, j, m.Size)
	}
	e, err := m.cplx.GetElement(i, j)
	if err != nil {
		return err
	}
	e.Value += Complex(complex(real, imag))
	return nil
}

// AddRHS accumulates value into row i of the right-hand side.
func (m *Matrix) AddRHS(i int, value float64) error {
	if i <= 0 {
		return nil
	}
	if i > m.Size {
		return fmt.Errorf("matrix: rhs index %d out of bounds for size %d", i, m.Size)
	}
	m.rhs[i] += Real(value)
	return nil
}

// AddComplexRHS accumulates a complex source term into row i.
func (m *Matrix) AddComplexRHS(i int, real, imag float64) error {
	if i <= 0 || !m.isComplex {
		return nil
	}
	if i > m.Size {
		return fmt.Errorf("matrix: rhs index %d out of bounds for size %d", i, m.Size)
	}
	m.rhsCplx[i] += Complex(complex(real, imag))
	return nil
}

// LoadGmin adds gmin to every diagonal entry, the minimum-conductance
// convergence aid the Newton driver applies during gmin stepping.
func (m *Matrix) LoadGmin(gmin float64) {
	for i := 1; i <= m.Size; i++ {
		if d := m.real.GetDiagonalElement(i); d != nil {
			d.Value += Real(gmin)
		}
	}
}

// Clear zeroes every element and RHS entry in place, keeping the
// sparsity pattern (and, once fixed, the frozen set) intact for the next
// stamp pass.
func (m *Matrix) Clear() {
	m.real.Clear()
	if m.isComplex {
		m.cplx.Clear()
	}
	var zero Real
	for i := range m.rhs {
		m.rhs[i] = zero
	}
	var zeroC Complex
	for i := range m.rhsCplx {
		m.rhsCplx[i] = zeroC
	}
}

// Fix freezes the sparsity pattern: every (row,col) pair touched by
// AddElement/AddComplexElement up to this point is the complete pattern
// the circuit will ever stamp, and every row is guaranteed a diagonal.
func (m *Matrix) Fix() {
	m.real.FixEquations()
	if m.isComplex {
		m.cplx.FixEquations()
	}
	m.fixed = true
}

// Unfix lifts the freeze, e.g. when a topology change requires re-setup.
func (m *Matrix) Unfix() {
	m.real.UnfixEquations()
	if m.isComplex {
		m.cplx.UnfixEquations()
	}
	m.fixed = false
}

// IsFixed reports whether Fix has been called.
func (m *Matrix) IsFixed() bool { return m.fixed }

// SetComplexMode switches Factor/Solve between the real and complex
// structures; it also forces the next FactorStep to re-order, since the
// two structures have independent pivot orders.
func (m *Matrix) SetComplexMode(on bool) {
	if !m.isComplex || m.complexMode == on {
		return
	}
	m.complexMode = on
	m.ordered = false
}

// OrderAndFactor performs Markowitz-ordered LU factorization from
// scratch; call it once, after the first stamp pass, when the sparsity
// pattern and pivot order are both still unknown.
func (m *Matrix) OrderAndFactor() error {
	if m.complexMode {
		if err := m.cplx.OrderAndFactor(); err != nil {
			return spiceerr.Wrap(err, fmt.Sprintf("step %d", m.cplx.SingularRow))
		}
		return nil
	}
	if err := m.real.OrderAndFactor(); err != nil {
		return spiceerr.Wrap(err, fmt.Sprintf("step %d", m.real.SingularRow))
	}
	return nil
}

// Factor re-factors along the pivot order OrderAndFactor already chose;
// call it on every subsequent Newton iteration once that order is
// frozen. If a pivot has numerically collapsed, it returns
// ErrFactorFailed so the caller can fall back to a fresh OrderAndFactor.
func (m *Matrix) Factor() error {
	if m.complexMode {
		return m.cplx.Factor()
	}
	return m.real.Factor()
}

// FactorStep factors the matrix for one Newton iteration: OrderAndFactor
// the first time it's called (or after a pivot order is invalidated by a
// failed Factor), Factor on every call after that. This is the
// distinction a single always-OrderAndFactor call would collapse.
func (m *Matrix) FactorStep() error {
	if !m.ordered {
		if err := m.OrderAndFactor(); err != nil {
			return err
		}
		m.ordered = true
		return nil
	}
	if err := m.Factor(); err != nil {
		if oerr := m.OrderAndFactor(); oerr != nil {
			return oerr
		}
		m.ordered = true
		return nil
	}
	return nil
}

// ResetOrdering forces the next FactorStep call to re-derive the pivot
// order with OrderAndFactor, needed when a stamp pass's sparsity pattern
// may have changed or a new analysis begins reusing the same Matrix.
func (m *Matrix) ResetOrdering() {
	m.ordered = false
	m.real.NeedsReordering = true
	if m.isComplex {
		m.cplx.NeedsReordering = true
	}
}

// Solve back-substitutes the current RHS against the last factorization
// and caches the result; call Solution/ComplexSolution afterward.
func (m *Matrix) Solve() error {
	if m.complexMode {
		sol, err := m.cplx.Solve(m.rhsCplx)
		if err != nil {
			return err
		}
		m.solutionCplx = sol
		return nil
	}
	sol, err := m.real.Solve(m.rhs)
	if err != nil {
		return err
	}
	m.solution = sol
	return nil
}

// SolveTransposed back-substitutes against A^T x = b using the same LU
// factors, needed by adjoint-sensitivity style analyses.
func (m *Matrix) SolveTransposed() error {
	if m.complexMode {
		sol, err := m.cplx.SolveTransposed(m.rhsCplx)
		if err != nil {
			return err
		}
		m.solutionCplx = sol
		return nil
	}
	sol, err := m.real.SolveTransposed(m.rhs)
	if err != nil {
		return err
	}
	m.solution = sol
	return nil
}

// RHS returns the live real right-hand-side vector (1-based) as plain
// float64, for callers (device stamps, tests) that don't need the Field
// wrapper.
func (m *Matrix) RHS() []float64 {
	out := make([]float64, len(m.rhs))
	for i, v := range m.rhs {
		out[i] = float64(v)
	}
	return out
}

// Solution returns the last-computed real solution vector (1-based).
func (m *Matrix) Solution() []float64 {
	out := make([]float64, len(m.solution))
	for i, v := range m.solution {
		out[i] = float64(v)
	}
	return out
}

// ComplexSolution returns the real and imaginary parts of unknown i from
// the last Solve.
func (m *Matrix) ComplexSolution(i int) (float64, float64) {
	if !m.isComplex || i <= 0 || i > m.Size {
		return 0, 0
	}
	c := complex128(m.solutionCplx[i])
	return real(c), imag(c)
}

// Scramble maps an external-ordering vector into the internal pivot
// ordering the factorization actually uses.
func (m *Matrix) Scramble(byRow bool, v []float64) []float64 {
	rv := make([]Real, len(v))
	for i, x := range v {
		rv[i] = Real(x)
	}
	out := m.real.Scramble(byRow, rv)
	res := make([]float64, len(out))
	for i, x := range out {
		res[i] = float64(x)
	}
	return res
}

// Unscramble is Scramble's inverse: Unscramble(Scramble(v)) == v for any
// v sized to the matrix.
func (m *Matrix) Unscramble(byRow bool, v []float64) []float64 {
	rv := make([]Real, len(v))
	for i, x := range v {
		rv[i] = Real(x)
	}
	out := m.real.Unscramble(byRow, rv)
	res := make([]float64, len(out))
	for i, x := range out {
		res[i] = float64(x)
	}
	return res
}

// Destroy releases the underlying sparse structures.
func (m *Matrix) Destroy() {
	m.real = nil
	m.cplx = nil
}
