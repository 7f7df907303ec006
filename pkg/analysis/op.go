package analysis

import (
	"fmt"

	"spicengine/pkg/circuit"
	"spicengine/pkg/devstate"
	"spicengine/pkg/newton"
)

// OperatingPoint solves the DC bias point: every capacitor open, every
// inductor shorted, via the plain devstate.New() state (Mode
// OperatingPoint, zero time step) so each device's Biasing.Stamp runs its
// time-independent branch.
type OperatingPoint struct {
	BaseAnalysis
	Options Options
	newton  *newton.Driver
}

func NewOP() *OperatingPoint {
	return &OperatingPoint{
		BaseAnalysis: *NewBaseAnalysis(),
		Options:      DefaultOptions(),
		newton:       newton.New(newton.DefaultTolerances()),
	}
}

func (op *OperatingPoint) Setup(ckt *circuit.Circuit) error {
	op.Circuit = ckt
	return nil
}

func (op *OperatingPoint) Execute() error {
	op.newton.Tol = op.Options.tolerances(op.Options.ITL1)

	state := devstate.New()
	state.Mode = devstate.OperatingPoint
	state.Gmin = op.Options.Gmin

	solution, err := op.newton.SolveWithHomotopy(op.Circuit, state)
	if err != nil {
		return fmt.Errorf("operating point: %w", err)
	}

	op.storeResults(solution)
	op.Circuit.EmitExport(0, 0, 0)
	return nil
}

func (op *OperatingPoint) storeResults(solution []float64) {
	for nodeName, nodeIdx := range op.Circuit.GetNodeMap() {
		if nodeIdx > 0 {
			op.results[fmt.Sprintf("V(%s)", nodeName)] = []float64{solution[nodeIdx]}
		}
	}
	for devName, branchIdx := range op.Circuit.GetBranchMap() {
		op.results[fmt.Sprintf("I(%s)", devName)] = []float64{solution[branchIdx]}
	}
}
