package matrix

import (
	"fmt"

	"spicengine/pkg/spiceerr"
)

// Element is one non-zero of a SparseMatrix: a value plus the four
// neighbor links (Left/Right within its row, Above/Below within its
// column) that make the matrix two intersecting doubly-linked lists.
// Row and Col are always the entity's original (external) indices —
// reordering during factoring is recorded in SparseMatrix.Row/Column,
// never by renumbering elements in place.
type Element[F Field[F]] struct {
	Row, Col int
	Value    F

	Left, Right  *Element[F]
	Above, Below *Element[F]
}

// SparseMatrix is the doubly-linked sparse matrix: elements sorted
// ascending by column within a row and ascending by row within a
// column, a diagonal entry for every row once Fixed, and the Markowitz
// pivot order recorded in Row/Column once factored.
type SparseMatrix[F Field[F]] struct {
	Order int

	rowHead []*Element[F] // first element of each row, ascending column
	colHead []*Element[F] // first element of each column, ascending row
	diag    []*Element[F] // original (i,i) element, guaranteed once Fixed

	fixed    bool
	factored bool

	// NeedsReordering is true whenever the sparsity pattern or pivot
	// order may no longer be valid and OrderAndFactor must search again
	// instead of replaying the previous Row/Column choice.
	NeedsReordering bool

	// Row/Column record, for pivot step k, which original row/column was
	// chosen: Row[k] and Column[k]. rowStep/colStep are their inverses.
	Row, Column      []int
	rowStep, colStep []int
	pivots           []*Element[F] // pivot element chosen at each step
	rowUsed, colUsed []bool

	RelThreshold float64
	AbsThreshold float64

	intermediate []F // scratch, size Order+1, 1-based, indexed by pivot step
	dest         []F // scatter buffer, size Order+1, 1-based, indexed by original row

	fillins int

	SingularRow, SingularCol int
}

// NewSparse allocates an empty order x order matrix. Pivot thresholds
// default to 0.001 relative with no absolute floor.
func NewSparse[F Field[F]](order int) *SparseMatrix[F] {
	n := order + 1
	return &SparseMatrix[F]{
		Order:           order,
		rowHead:         make([]*Element[F], n),
		colHead:         make([]*Element[F], n),
		diag:            make([]*Element[F], n),
		NeedsReordering: true,
		RelThreshold:    0.001,
	}
}

func (m *SparseMatrix[F]) inBounds(row, col int) bool {
	return row >= 1 && col >= 1 && row <= m.Order && col <= m.Order
}

// GetElement returns the element at (row,col), creating and splicing it
// into both lists if absent. Once the matrix is Fixed, creating a new
// structural element this way is refused with ErrMatrixFrozen: only
// fill-in created during elimination may grow the pattern from then on.
func (m *SparseMatrix[F]) GetElement(row, col int) (*Element[F], error) {
	if !m.inBounds(row, col) {
		return nil, fmt.Errorf("matrix: index (%d,%d) out of bounds for order %d", row, col, m.Order)
	}
	if e := m.find(row, col); e != nil {
		return e, nil
	}
	if m.fixed {
		return nil, spiceerr.ErrMatrixFrozen
	}
	return m.insert(row, col), nil
}

// GetDiagonalElement returns the (i,i) entry without creating it; valid
// once the matrix has been Fixed.
func (m *SparseMatrix[F]) GetDiagonalElement(i int) *Element[F] {
	if i < 1 || i > m.Order {
		return nil
	}
	return m.diag[i]
}

func (m *SparseMatrix[F]) find(row, col int) *Element[F] {
	if row == col {
		return m.diag[row]
	}
	// Walk whichever list is shorter in the common case is not knowable
	// cheaply here, so walk the column list: stamps touch far fewer rows
	// per column than columns per row in an MNA system.
	for e := m.colHead[col]; e != nil; e = e.Below {
		if e.Row == row {
			return e
		}
		if e.Row > row {
			break
		}
	}
	return nil
}

func (m *SparseMatrix[F]) insert(row, col int) *Element[F] {
	e := &Element[F]{Row: row, Col: col}

	// Splice into column list (ascending row).
	var prev *Element[F]
	cur := m.colHead[col]
	for cur != nil && cur.Row < row {
		prev = cur
		cur = cur.Below
	}
	e.Above, e.Below = prev, cur
	if prev == nil {
		m.colHead[col] = e
	} else {
		prev.Below = e
	}
	if cur != nil {
		cur.Above = e
	}

	// Splice into row list (ascending column).
	var left *Element[F]
	right := m.rowHead[row]
	for right != nil && right.Col < col {
		left = right
		right = right.Right
	}
	e.Left, e.Right = left, right
	if left == nil {
		m.rowHead[row] = e
	} else {
		left.Right = e
	}
	if right != nil {
		right.Left = e
	}

	if row == col {
		m.diag[row] = e
	}
	return e
}

// insertFillin is identical to insert but also tracks the fill-in count;
// called from the elimination loop where GetElement's Fixed check must
// not apply.
func (m *SparseMatrix[F]) insertFillin(row, col int) *Element[F] {
	e := m.insert(row, col)
	m.fillins++
	return e
}

// getOrCreateFillin returns the element at (row,col), creating it as
// fill-in (bypassing the Fixed guard) if it doesn't already exist.
func (m *SparseMatrix[F]) getOrCreateFillin(row, col int) *Element[F] {
	if e := m.find(row, col); e != nil {
		return e
	}
	return m.insertFillin(row, col)
}

// FixEquations freezes the sparsity pattern: every row is guaranteed a
// diagonal element (creating it if a device never stamped it), and the
// intermediate/dest scratch vectors are allocated.
func (m *SparseMatrix[F]) FixEquations() {
	for i := 1; i <= m.Order; i++ {
		if m.diag[i] == nil {
			m.insert(i, i)
		}
	}
	m.fixed = true
	n := m.Order + 1
	m.intermediate = make([]F, n)
	m.dest = make([]F, n)
}

// UnfixEquations lifts the freeze and releases the scratch vectors.
func (m *SparseMatrix[F]) UnfixEquations() {
	m.fixed = false
	m.intermediate = nil
	m.dest = nil
}

func (m *SparseMatrix[F]) IsFixed() bool    { return m.fixed }
func (m *SparseMatrix[F]) IsFactored() bool { return m.factored }

// Clear zeroes every element's value in place without touching the
// sparsity pattern, ready for the next stamp pass.
func (m *SparseMatrix[F]) Clear() {
	var zero F
	for col := 1; col <= m.Order; col++ {
		for e := m.colHead[col]; e != nil; e = e.Below {
			e.Value = zero
		}
	}
	m.factored = false
}
