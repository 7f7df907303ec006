package integrate

// Config bounds the variable-step controller: how big a first guess to
// try, how far it's allowed to shrink or grow, and the tolerances the LTE
// accept/reject test is measured against.
type Config struct {
	InitialStepSize float64
	MinStepSize     float64
	MaxStepSize     float64

	AbsoluteTolerance float64
	RelativeTolerance float64

	// ChargeTolerance floors the LTE acceptance bound so a circuit whose
	// solution sits exactly at zero still accepts steps.
	ChargeTolerance float64

	// TrTol deflates the (deliberately pessimistic) local truncation
	// error estimate; the classic SPICE default is 7.
	TrTol float64

	MaxOrder      int
	MaxRejections int // per-step retry budget before giving up
}

// DefaultConfig returns the conventional SPICE-ish defaults: max step is
// the overall run duration divided by 50, min step is max/1e9, and
// rel/abs tolerances of 1e-3/1e-12.
func DefaultConfig(runDuration float64) Config {
	maxStep := runDuration / 50
	return Config{
		InitialStepSize:   maxStep / 10,
		MinStepSize:       maxStep * 1e-9,
		MaxStepSize:       maxStep,
		AbsoluteTolerance: 1e-12,
		RelativeTolerance: 1e-3,
		ChargeTolerance:   1e-14,
		TrTol:             7.0,
		MaxOrder:          2,
		MaxRejections:     10,
	}
}
