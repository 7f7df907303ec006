// Package analysis provides the result-storing wrappers the command line
// driver calls into: operating point, DC sweep, AC sweep and transient.
// Each delegates its nonlinear solve to spicengine/pkg/newton and, for
// Transient, its step control to spicengine/pkg/transient; this package
// itself owns only source sweeping and result bookkeeping.
package analysis

import (
	"math"
	"math/cmplx"

	"spicengine/pkg/circuit"
	"spicengine/pkg/newton"
	"spicengine/pkg/util"
)

// Options is the per-analysis tuning surface, one field per classic
// SPICE option card entry this engine honors.
type Options struct {
	AbsTol float64 // branch-current convergence floor (abstol)
	RelTol float64 // relative convergence tolerance (reltol)
	VnTol  float64 // node-voltage convergence floor (vntol)
	Gmin   float64 // minimum conductance across every junction (gmin)
	ITL1   int     // DC iteration cap (itl1)
	ITL4   int     // transient sub-step iteration cap (itl4)
	TrTol  float64 // LTE overestimation factor (trtol)
	ChgTol float64 // charge tolerance floor for the LTE test (chgtol)
}

// DefaultOptions returns the conventional SPICE defaults.
func DefaultOptions() Options {
	return Options{
		AbsTol: 1e-12,
		RelTol: 1e-3,
		VnTol:  1e-6,
		Gmin:   1e-12,
		ITL1:   100,
		ITL4:   10,
		TrTol:  7.0,
		ChgTol: 1e-14,
	}
}

// tolerances maps the option card onto the Newton driver's convergence
// bounds, with the given iteration cap (itl1 for DC-like solves, itl4 for
// transient sub-steps).
func (o Options) tolerances(maxIter int) newton.Tolerances {
	return newton.Tolerances{
		RelTol:        o.RelTol,
		VoltageAbsTol: o.VnTol,
		CurrentAbsTol: o.AbsTol,
		MaxIter:       maxIter,
	}
}

// Analysis is the common shape every concrete analysis exposes to the
// command line driver.
type Analysis interface {
	Setup(ckt *circuit.Circuit) error
	Execute() error
	GetResults() map[string][]float64
}

// BaseAnalysis holds the circuit under analysis and the results table
// every concrete analysis appends to, keyed by variable name.
type BaseAnalysis struct {
	Circuit *circuit.Circuit
	results map[string][]float64
}

func NewBaseAnalysis() *BaseAnalysis {
	return &BaseAnalysis{results: make(map[string][]float64)}
}

// StoreTimeResult appends one transient time point, skipping a point that
// rounds to the same displayed time as the last one stored (a breakpoint
// snap can otherwise land two adjacent points a fifteenth decimal apart).
func (a *BaseAnalysis) StoreTimeResult(time float64, solution map[string]float64) {
	if len(a.results["TIME"]) > 0 {
		lastTime := a.results["TIME"][len(a.results["TIME"])-1]
		if time == lastTime {
			return
		}
		if util.FormatValueFactor(time, "s") == util.FormatValueFactor(lastTime, "s") {
			return
		}
	}

	a.results["TIME"] = append(a.results["TIME"], time)
	for name, value := range solution {
		a.results[name] = append(a.results[name], value)
	}
}

// StoreACResult appends one frequency point's magnitude and phase (in
// degrees) for every complex unknown in solution.
func (a *BaseAnalysis) StoreACResult(freq float64, solution map[string]complex128) {
	a.results["FREQ"] = append(a.results["FREQ"], freq)

	for name, value := range solution {
		a.results[name+"_MAG"] = append(a.results[name+"_MAG"], cmplx.Abs(value))
		a.results[name+"_PHASE"] = append(a.results[name+"_PHASE"], cmplx.Phase(value)*180.0/math.Pi)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 { return a.results }
