// Package transient implements the variable-step, variable-order
// time-domain integration loop: propose a step, snap it to the next
// breakpoint, solve the nonlinear sub-step through pkg/newton, accept or
// reject it against the circuit's local truncation error estimate, and
// grow or shrink the next step (and its order) accordingly.
package transient

import (
	"fmt"
	"math"

	"spicengine/pkg/circuit"
	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/newton"
	"spicengine/pkg/spiceerr"
)

// snapTolerance bounds how close a breakpoint can be to a proposed step's
// far end before SnapStep pulls the step in to land on it exactly,
// avoiding a vanishingly small following step.
const snapTolerance = 1e-14

// Result is one accepted time point's full named solution.
type Result struct {
	Time     float64
	Solution map[string]float64
}

// Driver owns the step controller state across a whole transient run.
type Driver struct {
	Circuit     *circuit.Circuit
	Newton      *newton.Driver
	Config      integrate.Config
	Breakpoints *integrate.Breakpoints

	// Method selects the linear multistep family; Gear (BDF) supports
	// order 1-6, Trapezoidal only 1-2 (order 1 there is backward Euler).
	Method devstate.IntegrationMethod
}

// New returns a driver with the conventional Gear/BDF method and the
// given step-size bounds.
func New(ckt *circuit.Circuit, cfg integrate.Config) *Driver {
	return &Driver{
		Circuit:     ckt,
		Newton:      newton.New(newton.DefaultTolerances()),
		Config:      cfg,
		Breakpoints: integrate.NewBreakpoints(),
		Method:      devstate.Gear,
	}
}

// Run integrates from tStart to tStop, returning every accepted time
// point. The circuit must already sit at the operating point (or have
// .IC values supplied via icVoltages) before this is called.
func (d *Driver) Run(tStart, tStop float64, useIC bool, icVoltages map[string]float64) ([]Result, error) {
	if tStop <= tStart {
		return nil, fmt.Errorf("transient: tstop %g must exceed tstart %g", tStop, tStart)
	}

	d.Circuit.RegisterBreakpoints(d.Breakpoints, tStop)

	// The step loop's companion models read history; fill every ring from
	// the point the run starts at (the converged operating point, or the
	// .IC-clamped solve) so the first step doesn't integrate away from an
	// all-zero past.
	seedState := devstate.New()
	seedState.Mode = devstate.Transient
	d.Circuit.SeedTransientState(d.Circuit.Matrix().Solution(), seedState)

	maxOrder := d.Config.MaxOrder
	if d.Method == devstate.Gear {
		if maxOrder < 1 || maxOrder > 6 {
			maxOrder = 6
		}
	} else if maxOrder < 1 || maxOrder > 2 {
		maxOrder = 2
	}

	time := tStart
	dt := d.Config.InitialStepSize
	order := 1
	firstStep := true

	results := make([]Result, 0, int((tStop-tStart)/d.Config.InitialStepSize)+1)

	for time < tStop {
		trialDt := dt
		if time+trialDt > tStop {
			trialDt = tStop - time
		}
		snapped := false
		if snappedDt, ok := d.Breakpoints.SnapStep(time, trialDt, snapTolerance); ok {
			trialDt, snapped = snappedDt, true
		}

		mark := d.Breakpoints.Mark()
		rejections := 0

		for {
			state := devstate.New()
			state.Mode = devstate.Transient
			state.Method = d.Method
			state.Order = order
			state.MaxOrder = maxOrder
			state.Time = time + trialDt
			state.TimeStep = trialDt
			state.PrevDelta = dt
			state.UseIC = useIC && firstStep
			state.ICVoltages = icVoltages

			solution, err := d.Newton.SolveWithHomotopy(d.Circuit, state)
			if err == nil {
				lte := d.Circuit.LocalTruncationError(solution, state)
				tol := d.tolerance(solution)
				if lte <= tol {
					d.Circuit.AcceptStep(solution, state)
					time += trialDt
					firstStep = false
					results = append(results, Result{Time: time, Solution: d.Circuit.GetSolution()})
					d.Circuit.EmitExport(time, 0, 0)

					order = d.nextOrder(order, maxOrder, snapped)
					dt = d.nextStepSize(trialDt, lte, tol)
					break
				}
			}

			rejections++
			if rejections > d.Config.MaxRejections || trialDt/2 < d.Config.MinStepSize {
				if err != nil {
					return results, fmt.Errorf("transient: failed to converge at t=%g: %w", time, err)
				}
				return results, fmt.Errorf("transient: step underflow at t=%g after %d rejections: %w",
					time, rejections, spiceerr.ErrTimestepTooSmall)
			}
			d.Breakpoints.Rollback(mark)
			trialDt /= 2
			order = 1
		}
	}

	return results, nil
}

// tolerance is the SPICE-style absolute-plus-relative LTE acceptance
// bound, scaled by the largest node voltage magnitude in the trial
// solution so a circuit with volt-scale swings isn't held to the same
// absolute bound as one with millivolt swings. TrTol deflates the
// pessimistic truncation error estimate the devices report.
func (d *Driver) tolerance(solution []float64) float64 {
	maxAbs := 0.0
	for i := 1; i < len(solution); i++ {
		if v := math.Abs(solution[i]); v > maxAbs {
			maxAbs = v
		}
	}
	trtol := d.Config.TrTol
	if trtol <= 0 {
		trtol = 1
	}
	base := d.Config.AbsoluteTolerance + d.Config.RelativeTolerance*maxAbs
	if base < d.Config.ChargeTolerance {
		base = d.Config.ChargeTolerance
	}
	return trtol * base
}

// nextOrder grows the order by one on a clean accepted step, up to
// maxOrder, but resets to first order right after a breakpoint: the
// multistep history on either side of a discontinuity isn't smooth
// enough to trust a higher-order predictor across it.
func (d *Driver) nextOrder(order, maxOrder int, snapped bool) int {
	if snapped {
		return 1
	}
	if order < maxOrder {
		return order + 1
	}
	return order
}

// nextStepSize doubles the step when the LTE estimate has ample headroom
// (a quarter of tolerance or less), otherwise holds it steady; it never
// exceeds Config.MaxStepSize. Step growth after a rejection-driven halving
// is handled by the accept path picking back up from the smaller dt.
func (d *Driver) nextStepSize(trialDt, lte, tol float64) float64 {
	next := trialDt
	if tol > 0 && lte <= tol/4 && trialDt*2 <= d.Config.MaxStepSize {
		next = trialDt * 2
	}
	if next > d.Config.MaxStepSize {
		next = d.Config.MaxStepSize
	}
	return next
}
