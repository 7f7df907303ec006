package matrix_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spicengine/pkg/matrix"
	"spicengine/pkg/spiceerr"
)

// buildDivider stamps a simple two-node resistive divider:
//
//	node1 --R1-- node2 --R2-- ground, with a 1A current source into node1.
func buildDivider(t *testing.T, r1, r2, i1 float64) *matrix.Matrix {
	t.Helper()
	m, err := matrix.New(2, false)
	require.NoError(t, err)

	g1, g2 := 1/r1, 1/r2

	require.NoError(t, m.AddElement(1, 1, g1))
	require.NoError(t, m.AddElement(1, 2, -g1))
	require.NoError(t, m.AddElement(2, 1, -g1))
	require.NoError(t, m.AddElement(2, 2, g1+g2))
	require.NoError(t, m.AddRHS(1, i1))

	m.Fix()
	return m
}

func TestSolveResistiveDivider(t *testing.T) {
	m := buildDivider(t, 1000, 1000, 1e-3)

	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())

	sol := m.Solution()
	// V2 = I*R2 = 1e-3*1000 = 1; V1 = I*(R1+R2) = 2.
	assert.InDelta(t, 2.0, sol[1], 1e-9)
	assert.InDelta(t, 1.0, sol[2], 1e-9)
}

func TestFactorReplaysOrderAndFactorResult(t *testing.T) {
	m := buildDivider(t, 1000, 1000, 1e-3)
	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())
	first := m.Solution()

	// Simulate a second Newton iteration: clear, re-stamp identical
	// values, Factor (not OrderAndFactor) along the same pivot order.
	m.Clear()
	require.NoError(t, m.AddElement(1, 1, 1e-3))
	require.NoError(t, m.AddElement(1, 2, -1e-3))
	require.NoError(t, m.AddElement(2, 1, -1e-3))
	require.NoError(t, m.AddElement(2, 2, 2e-3))
	require.NoError(t, m.AddRHS(1, 1e-3))

	require.NoError(t, m.Factor())
	require.NoError(t, m.Solve())
	second := m.Solution()

	assert.InDelta(t, first[1], second[1], 1e-9)
	assert.InDelta(t, first[2], second[2], 1e-9)
}

func TestFactorMatchesFreshOrderAndFactorOnDifferentValues(t *testing.T) {
	// Regression test: Factor must actually re-eliminate using the new
	// stamped values, not just replay stale L/U entries from the first
	// OrderAndFactor call.
	m := buildDivider(t, 1000, 1000, 1e-3)
	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())

	m.Clear()
	require.NoError(t, m.AddElement(1, 1, 1/2000.0))
	require.NoError(t, m.AddElement(1, 2, -1/2000.0))
	require.NoError(t, m.AddElement(2, 1, -1/2000.0))
	require.NoError(t, m.AddElement(2, 2, 1/2000.0+1/500.0))
	require.NoError(t, m.AddRHS(1, 2e-3))
	require.NoError(t, m.Factor())
	require.NoError(t, m.Solve())
	factored := m.Solution()

	fresh, err := matrix.New(2, false)
	require.NoError(t, err)
	require.NoError(t, fresh.AddElement(1, 1, 1/2000.0))
	require.NoError(t, fresh.AddElement(1, 2, -1/2000.0))
	require.NoError(t, fresh.AddElement(2, 1, -1/2000.0))
	require.NoError(t, fresh.AddElement(2, 2, 1/2000.0+1/500.0))
	require.NoError(t, fresh.AddRHS(1, 2e-3))
	fresh.Fix()
	require.NoError(t, fresh.OrderAndFactor())
	require.NoError(t, fresh.Solve())
	want := fresh.Solution()

	assert.InDelta(t, want[1], factored[1], 1e-9)
	assert.InDelta(t, want[2], factored[2], 1e-9)
}

func TestSingularMatrixDetected(t *testing.T) {
	m, err := matrix.New(2, false)
	require.NoError(t, err)
	require.NoError(t, m.AddElement(1, 1, 1))
	require.NoError(t, m.AddElement(2, 2, 0))
	m.Fix()

	err = m.OrderAndFactor()
	require.Error(t, err)
	assert.ErrorIs(t, err, spiceerr.ErrSingularMatrix)
}

func TestSolveBeforeFactorFails(t *testing.T) {
	m := buildDivider(t, 1000, 1000, 1e-3)
	err := m.Solve()
	require.Error(t, err)
	assert.ErrorIs(t, err, spiceerr.ErrNotFactored)
}

func TestScrambleUnscrambleRoundTrip(t *testing.T) {
	m := buildDivider(t, 1000, 1000, 1e-3)
	require.NoError(t, m.OrderAndFactor())

	v := []float64{0, 3.5, -2.25}
	got := m.Unscramble(true, m.Scramble(true, v))
	assert.InDeltaSlice(t, v, got, 1e-12)

	got = m.Unscramble(false, m.Scramble(false, v))
	assert.InDeltaSlice(t, v, got, 1e-12)
}

func TestSolveTransposedMatchesDirectTransposeSystem(t *testing.T) {
	// A is symmetric here, so A^T x = b reduces to the same solution as
	// A x = b; this still exercises the distinct SolveTransposed code
	// path (pivot reciprocal applied on the forward pass).
	m := buildDivider(t, 1000, 2000, 1e-3)
	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())
	direct := m.Solution()

	require.NoError(t, m.SolveTransposed())
	transposed := m.Solution()

	assert.InDelta(t, direct[1], transposed[1], 1e-9)
	assert.InDelta(t, direct[2], transposed[2], 1e-9)
}

func TestGetElementRefusesNewEntryAfterFix(t *testing.T) {
	m := buildDivider(t, 1000, 1000, 1e-3)
	_, err := m.GetElement(1, 2) // already stamped, must succeed
	require.NoError(t, err)

	// A pair never touched during setup must be refused now that the
	// sparsity pattern is frozen.
	fresh, err := matrix.New(3, false)
	require.NoError(t, err)
	require.NoError(t, fresh.AddElement(1, 1, 1))
	require.NoError(t, fresh.AddElement(2, 2, 1))
	fresh.Fix()

	_, err = fresh.GetElement(1, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, spiceerr.ErrMatrixFrozen)
}

func TestThreeNodeLadderWithFillin(t *testing.T) {
	// A 3x3 system that forces fill-in during elimination: node 1 and 3
	// are only coupled through node 2 in the stamped pattern, but
	// eliminating node 2 first introduces a (1,3)/(3,1) fill-in term.
	m, err := matrix.New(3, false)
	require.NoError(t, err)

	stamp := func(i, j int, v float64) { require.NoError(t, m.AddElement(i, j, v)) }
	stamp(1, 1, 2)
	stamp(1, 2, -1)
	stamp(2, 1, -1)
	stamp(2, 2, 3)
	stamp(2, 3, -1)
	stamp(3, 2, -1)
	stamp(3, 3, 2)
	require.NoError(t, m.AddRHS(1, 1))
	require.NoError(t, m.AddRHS(2, 0))
	require.NoError(t, m.AddRHS(3, 0))
	m.Fix()

	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())
	sol := m.Solution()

	// Verify A*x == rhs directly rather than hand-deriving the expected
	// values.
	resid1 := 2*sol[1] - 1*sol[2] - 1
	resid2 := -1*sol[1] + 3*sol[2] - 1*sol[3]
	resid3 := -1*sol[2] + 2*sol[3]
	assert.InDelta(t, 0, resid1, 1e-9)
	assert.InDelta(t, 0, resid2, 1e-9)
	assert.InDelta(t, 0, resid3, 1e-9)
}

func TestComplexSolve(t *testing.T) {
	m, err := matrix.New(2, true)
	require.NoError(t, err)

	// Series R-C to ground at omega=1: node1 has a 1A (real) current
	// source, Y11 = 1/R + jwC, node2 is ground-referenced simply via a
	// resistor for a well-posed 2x2 test.
	require.NoError(t, m.AddComplexElement(1, 1, 1.0, 1.0))
	require.NoError(t, m.AddComplexElement(1, 2, -1.0, 0))
	require.NoError(t, m.AddComplexElement(2, 1, -1.0, 0))
	require.NoError(t, m.AddComplexElement(2, 2, 2.0, 0))
	require.NoError(t, m.AddComplexRHS(1, 1.0, 0))
	m.Fix()
	m.SetComplexMode(true)

	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())

	re1, im1 := m.ComplexSolution(1)
	re2, im2 := m.ComplexSolution(2)

	// residual check: row1: (1+1j)*x1 - x2 == 1 ; row2: -x1 + 2*x2 == 0
	r1Re := (1*re1 - 1*im1) - re2 - 1
	r1Im := (1*im1 + 1*re1) - im2
	r2Re := -re1 + 2*re2
	r2Im := -im1 + 2*im2
	assert.InDelta(t, 0, r1Re, 1e-9)
	assert.InDelta(t, 0, r1Im, 1e-9)
	assert.InDelta(t, 0, r2Re, 1e-9)
	assert.InDelta(t, 0, r2Im, 1e-9)
}
