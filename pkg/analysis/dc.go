package analysis

import (
	"fmt"

	"spicengine/pkg/circuit"
	"spicengine/pkg/device"
	"spicengine/pkg/devstate"
	"spicengine/pkg/newton"
)

// DCSweep steps one or two independent voltage sources across a range,
// re-solving the operating point at each combination of values.
type DCSweep struct {
	BaseAnalysis
	sourceNames []string
	startVals   []float64
	stopVals    []float64
	increments  []float64
	sweepVals   [][]float64
	origVals    []float64

	Options Options
	newton  *newton.Driver
}

func NewDCSweep(sources []string, starts, stops []float64, numSteps []float64) *DCSweep {
	if len(sources) != len(starts) || len(sources) != len(stops) || len(sources) != len(numSteps) {
		panic("inconsistent parameter lengths")
	}

	dc := &DCSweep{
		BaseAnalysis: *NewBaseAnalysis(),
		sourceNames:  sources,
		startVals:    starts,
		stopVals:     stops,
		increments:   numSteps,
		sweepVals:    make([][]float64, len(sources)),
		origVals:     make([]float64, len(sources)),
		Options:      DefaultOptions(),
		newton:       newton.New(newton.DefaultTolerances()),
	}

	for i := range sources {
		sweep := make([]float64, 0)
		for v := dc.startVals[i]; v <= dc.stopVals[i]; v += dc.increments[i] {
			sweep = append(sweep, v)
		}
		dc.sweepVals[i] = sweep
	}

	return dc
}

func (dc *DCSweep) Setup(ckt *circuit.Circuit) error {
	dc.Circuit = ckt

	for i, name := range dc.sourceNames {
		source, err := dc.findSource(name)
		if err != nil {
			return err
		}
		dc.origVals[i] = source.GetValue()
	}

	return nil
}

func (dc *DCSweep) findSource(name string) (*device.VoltageSource, error) {
	for _, dev := range dc.Circuit.GetDevices() {
		if dev.GetName() == name {
			if v, ok := dev.(*device.VoltageSource); ok {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("source %s not found", name)
}

func (dc *DCSweep) Execute() error {
	if dc.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}

	switch len(dc.sourceNames) {
	case 1:
		return dc.singleSweep()
	case 2:
		return dc.nestedSweep()
	default:
		return fmt.Errorf("unsupported number of sweep sources: %d", len(dc.sourceNames))
	}
}

func (dc *DCSweep) solveAt() ([]float64, error) {
	dc.newton.Tol = dc.Options.tolerances(dc.Options.ITL1)
	state := devstate.New()
	state.Mode = devstate.DCSweep
	state.Gmin = dc.Options.Gmin
	return dc.newton.SolveWithHomotopy(dc.Circuit, state)
}

func (dc *DCSweep) singleSweep() error {
	source, err := dc.findSource(dc.sourceNames[0])
	if err != nil {
		return err
	}

	for _, val := range dc.sweepVals[0] {
		source.SetValue(val)

		if _, err := dc.solveAt(); err != nil {
			return fmt.Errorf("convergence error at %s=%g: %w", dc.sourceNames[0], val, err)
		}

		dc.StoreResult(val, dc.Circuit.GetSolution())
		dc.Circuit.EmitExport(0, 0, val)
	}

	source.SetValue(dc.origVals[0])
	return nil
}

func (dc *DCSweep) nestedSweep() error {
	source1, err := dc.findSource(dc.sourceNames[0])
	if err != nil {
		return err
	}
	source2, err := dc.findSource(dc.sourceNames[1])
	if err != nil {
		return err
	}

	for _, val1 := range dc.sweepVals[0] {
		source1.SetValue(val1)

		for _, val2 := range dc.sweepVals[1] {
			source2.SetValue(val2)

			if _, err := dc.solveAt(); err != nil {
				return fmt.Errorf("convergence error at %s=%g, %s=%g: %w",
					dc.sourceNames[0], val1, dc.sourceNames[1], val2, err)
			}

			dc.StoreNestedResult(val1, val2, dc.Circuit.GetSolution())
			dc.Circuit.EmitExport(0, 0, val2)
		}
	}

	source1.SetValue(dc.origVals[0])
	source2.SetValue(dc.origVals[1])
	return nil
}

func (dc *DCSweep) StoreResult(sweepVal float64, solution map[string]float64) {
	dc.results["SWEEP1"] = append(dc.results["SWEEP1"], sweepVal)
	for name, value := range solution {
		dc.results[name] = append(dc.results[name], value)
	}
}

func (dc *DCSweep) StoreNestedResult(val1, val2 float64, solution map[string]float64) {
	dc.results["SWEEP1"] = append(dc.results["SWEEP1"], val1)
	dc.results["SWEEP2"] = append(dc.results["SWEEP2"], val2)
	for name, value := range solution {
		dc.results[name] = append(dc.results[name], value)
	}
}
