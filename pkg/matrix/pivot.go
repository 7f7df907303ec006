package matrix

import "spicengine/pkg/spiceerr"

// resetOrdering clears any previously chosen pivot order so the next
// OrderAndFactor call performs a fresh Markowitz search instead of
// replaying Row/Column.
func (m *SparseMatrix[F]) resetOrdering() {
	n := m.Order + 1
	m.Row = make([]int, n)
	m.Column = make([]int, n)
	m.rowStep = make([]int, n)
	m.colStep = make([]int, n)
	m.rowUsed = make([]bool, n)
	m.colUsed = make([]bool, n)
	m.pivots = make([]*Element[F], n)
}

// candidate is a pivot candidate found during the Markowitz search.
type candidate struct {
	row, col int
	cost     int
	isDiag   bool
}

// searchPivot performs a full Markowitz search over the active
// submatrix (rows/columns not yet used as a pivot) at step, honoring the
// relative/absolute threshold test, breaking cost ties in favor of the
// diagonal and then the element found first in row-major order.
func (m *SparseMatrix[F]) searchPivot(step int) (*Element[F], error) {
	rowCount := make([]int, m.Order+1)
	colCount := make([]int, m.Order+1)
	colMax := make([]float64, m.Order+1)

	for row := 1; row <= m.Order; row++ {
		if m.rowUsed[row] {
			continue
		}
		for e := m.rowHead[row]; e != nil; e = e.Right {
			if m.colUsed[e.Col] {
				continue
			}
			rowCount[row]++
		}
	}
	for col := 1; col <= m.Order; col++ {
		if m.colUsed[col] {
			continue
		}
		for e := m.colHead[col]; e != nil; e = e.Below {
			if m.rowUsed[e.Row] {
				continue
			}
			colCount[col]++
			if mag := e.Value.Abs(); mag > colMax[col] {
				colMax[col] = mag
			}
		}
	}

	var best *candidate
	var bestElem *Element[F]

	for row := 1; row <= m.Order; row++ {
		if m.rowUsed[row] {
			continue
		}
		for e := m.rowHead[row]; e != nil; e = e.Right {
			col := e.Col
			if m.colUsed[col] {
				continue
			}
			mag := e.Value.Abs()
			if mag == 0 {
				continue
			}
			if mag < m.RelThreshold*colMax[col] {
				continue
			}
			if mag <= m.AbsThreshold {
				continue
			}
			cost := (rowCount[row] - 1) * (colCount[col] - 1)
			isDiag := row == col

			switch {
			case best == nil || cost < best.cost:
				best = &candidate{row: row, col: col, cost: cost, isDiag: isDiag}
				bestElem = e
			case cost == best.cost && isDiag && !best.isDiag:
				best = &candidate{row: row, col: col, cost: cost, isDiag: isDiag}
				bestElem = e
			}
		}
	}

	if best == nil {
		return nil, spiceerr.ErrSingularMatrix
	}
	return bestElem, nil
}

// OrderAndFactor performs a full Markowitz-ordered LU factorization,
// choosing a fresh pivot at every step. Use after the sparsity pattern
// or stamped values have changed enough that the previous pivot order
// might no longer be numerically valid.
func (m *SparseMatrix[F]) OrderAndFactor() error {
	m.resetOrdering()

	for step := 1; step <= m.Order; step++ {
		pivot, err := m.searchPivot(step)
		if err != nil {
			m.SingularRow, m.SingularCol = step, step
			return err
		}
		m.Row[step], m.Column[step] = pivot.Row, pivot.Col
		m.rowStep[pivot.Row], m.colStep[pivot.Col] = step, step
		m.rowUsed[pivot.Row], m.colUsed[pivot.Col] = true, true
		m.pivots[step] = pivot

		m.eliminateStep(step, pivot)
	}

	m.NeedsReordering = false
	m.factored = true
	return nil
}

// Factor re-factors along the pivot order the last OrderAndFactor chose,
// without searching again. Returns ErrFactorFailed (not an error from
// OrderAndFactor's perspective) if a pivot has numerically collapsed;
// the caller should fall back to OrderAndFactor.
func (m *SparseMatrix[F]) Factor() error {
	if m.NeedsReordering || m.pivots == nil {
		return m.OrderAndFactor()
	}

	for step := 1; step <= m.Order; step++ {
		pivot := m.pivots[step]
		if pivot.Value.IsZero() {
			return spiceerr.ErrFactorFailed
		}
		m.eliminateStep(step, pivot)
	}

	m.factored = true
	return nil
}

// eliminateStep is the real elimination kernel; it does not allocate a
// package-level scratch slice (generics preclude that), just a small
// local one sized to the column's fan-out.
func (m *SparseMatrix[F]) eliminateStep(step int, pivot *Element[F]) {
	pr, pc := pivot.Row, pivot.Col
	pivotRecip := pivot.Value.Recip()
	pivot.Value = pivotRecip

	type hit struct {
		row  int
		elem *Element[F]
	}
	var touched []hit
	for e := m.colHead[pc]; e != nil; e = e.Below {
		if e.Row == pr || m.eliminatedBy(m.rowStep[e.Row], step) {
			continue
		}
		m.dest[e.Row] = e.Value
		touched = append(touched, hit{e.Row, e})
	}

	for _, t := range touched {
		mult := m.dest[t.row].Mul(pivotRecip)
		t.elem.Value = mult

		for re := m.rowHead[pr]; re != nil; re = re.Right {
			if re.Col == pc || m.eliminatedBy(m.colStep[re.Col], step) {
				continue
			}
			target := m.getOrCreateFillin(t.row, re.Col)
			target.Value = target.Value.Sub(mult.Mul(re.Value))
		}
	}
}

// eliminatedBy reports whether a row/column already served as a pivot at
// or before step, using its recorded pivot step rather than the rowUsed/
// colUsed booleans: those are built up progressively during
// OrderAndFactor but are all left true once it completes, so Factor's
// later replay of the same steps can't tell "already eliminated in this
// replay" from "eliminated at some point" by checking them. A step of 0
// means never assigned, i.e. still active.
func (m *SparseMatrix[F]) eliminatedBy(assignedStep, step int) bool {
	return assignedStep != 0 && assignedStep <= step
}
