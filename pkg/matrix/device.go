package matrix

// StampTarget is the surface a device stamps against: it never sees the
// sparse.Matrix, fixed/unfixed state, or factorization directly.
type StampTarget interface {
	AddElement(i, j int, value float64) error
	AddRHS(i int, value float64) error
	AddComplexElement(i, j int, real, imag float64) error
	AddComplexRHS(i int, real, imag float64) error
}

var _ StampTarget = (*Matrix)(nil)
