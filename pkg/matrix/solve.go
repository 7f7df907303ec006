package matrix

import "spicengine/pkg/spiceerr"

// Scramble maps an externally-ordered (by original row/col index) vector
// into the step-ordered space the factorization actually worked in:
// out[step] = v[Row[step]] if byRow, else v[Column[step]].
func (m *SparseMatrix[F]) Scramble(byRow bool, v []F) []F {
	out := make([]F, len(v))
	perm := m.Column
	if byRow {
		perm = m.Row
	}
	for step := 1; step < len(v) && step <= m.Order; step++ {
		ext := perm[step]
		if ext >= 0 && ext < len(out) {
			out[step] = v[ext]
		}
	}
	return out
}

// Unscramble is Scramble's inverse: out[Row[step]] = v[step] (or Column,
// if byRow is false), i.e. Unscramble(Scramble(v)) == v.
func (m *SparseMatrix[F]) Unscramble(byRow bool, v []F) []F {
	out := make([]F, len(v))
	perm := m.Column
	if byRow {
		perm = m.Row
	}
	for step := 1; step < len(v) && step <= m.Order; step++ {
		ext := perm[step]
		if ext >= 0 && ext < len(out) {
			out[ext] = v[step]
		}
	}
	return out
}

// Solve back-substitutes rhs (indexed by original row 1..Order) against
// the last factorization, returning the solution indexed by original
// column. Requires a prior successful Factor/OrderAndFactor.
func (m *SparseMatrix[F]) Solve(rhs []F) ([]F, error) {
	if !m.factored {
		return nil, spiceerr.ErrNotFactored
	}

	var zero F
	for i := range m.intermediate {
		m.intermediate[i] = zero
	}
	for step := 1; step <= m.Order; step++ {
		m.intermediate[step] = rhs[m.Row[step]]
	}

	// Forward elimination: solve L w = Pb. L has a unit diagonal and its
	// stored entries are the elimination multipliers, so nothing is
	// divided here.
	for step := 1; step <= m.Order; step++ {
		temp := m.intermediate[step]
		if temp.IsZero() {
			continue
		}
		pivot := m.pivots[step]

		pr, pc := pivot.Row, pivot.Col
		for e := m.colHead[pc]; e != nil; e = e.Below {
			if e.Row == pr {
				continue
			}
			s2 := m.rowStep[e.Row]
			if s2 <= step {
				continue
			}
			m.intermediate[s2] = m.intermediate[s2].Sub(temp.Mul(e.Value))
		}
	}

	// Backward substitution: solve U z = w, dividing by each pivot (its
	// slot holds the reciprocal) once the row's off-diagonal terms are
	// subtracted.
	for step := m.Order; step >= 1; step-- {
		pivot := m.pivots[step]
		pr, pc := pivot.Row, pivot.Col
		temp := m.intermediate[step]
		for e := m.rowHead[pr]; e != nil; e = e.Right {
			if e.Col == pc {
				continue
			}
			s2 := m.colStep[e.Col]
			if s2 <= step {
				continue
			}
			temp = temp.Sub(e.Value.Mul(m.intermediate[s2]))
		}
		m.intermediate[step] = temp.Mul(pivot.Value)
	}

	solution := make([]F, len(rhs))
	for step := 1; step <= m.Order; step++ {
		solution[m.Column[step]] = m.intermediate[step]
	}
	return solution, nil
}

// SolveTransposed solves A^T x = rhs using the same LU factors, swapping
// the row/column roles Solve uses.
func (m *SparseMatrix[F]) SolveTransposed(rhs []F) ([]F, error) {
	if !m.factored {
		return nil, spiceerr.ErrNotFactored
	}

	var zero F
	for i := range m.intermediate {
		m.intermediate[i] = zero
	}
	for step := 1; step <= m.Order; step++ {
		m.intermediate[step] = rhs[m.Column[step]]
	}

	// Forward pass along row lists (U^T): divide by the pivot (its slot
	// holds the reciprocal) before propagating.
	for step := 1; step <= m.Order; step++ {
		temp := m.intermediate[step]
		if temp.IsZero() {
			continue
		}
		pivot := m.pivots[step]
		temp = temp.Mul(pivot.Value)
		m.intermediate[step] = temp
		pr, pc := pivot.Row, pivot.Col
		for e := m.rowHead[pr]; e != nil; e = e.Right {
			if e.Col == pc {
				continue
			}
			s2 := m.colStep[e.Col]
			if s2 <= step {
				continue
			}
			m.intermediate[s2] = m.intermediate[s2].Sub(temp.Mul(e.Value))
		}
	}

	// Backward pass along column lists (L^T, unit diagonal): no division.
	for step := m.Order; step >= 1; step-- {
		pivot := m.pivots[step]
		pr, pc := pivot.Row, pivot.Col
		temp := m.intermediate[step]
		for e := m.colHead[pc]; e != nil; e = e.Below {
			if e.Row == pr {
				continue
			}
			s2 := m.rowStep[e.Row]
			if s2 <= step {
				continue
			}
			temp = temp.Sub(e.Value.Mul(m.intermediate[s2]))
		}
		m.intermediate[step] = temp
	}

	solution := make([]F, len(rhs))
	for step := 1; step <= m.Order; step++ {
		solution[m.Row[step]] = m.intermediate[step]
	}
	return solution, nil
}
