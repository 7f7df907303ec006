package analysis

import (
	"fmt"
	"math"

	"spicengine/pkg/circuit"
	"spicengine/pkg/device"
	"spicengine/pkg/devstate"
)

// ACAnalysis linearizes every nonlinear device about the DC operating
// point (run once in Setup) and sweeps frequency, solving the resulting
// complex linear system directly — no Newton iteration is needed since
// the small-signal model is linear by construction.
type ACAnalysis struct {
	BaseAnalysis
	Options     Options
	op          *OperatingPoint
	startFreq   float64
	stopFreq    float64
	numPoints   int
	pointsType  string // "DEC", "OCT", "LIN"
	keepOpInfo  bool
	frequencies []float64
}

func NewAC(fStart, fStop float64, nPoints int, pType string) *ACAnalysis {
	return &ACAnalysis{
		BaseAnalysis: *NewBaseAnalysis(),
		Options:      DefaultOptions(),
		op:           NewOP(),
		startFreq:    fStart,
		stopFreq:     fStop,
		numPoints:    nPoints,
		pointsType:   pType,
	}
}

// SetKeepOpInfo retains the linearization operating point in the result
// table (under "OP." keys) alongside the sweep, the classic keepopinfo
// flag.
func (ac *ACAnalysis) SetKeepOpInfo(keep bool) { ac.keepOpInfo = keep }

func (ac *ACAnalysis) Setup(ckt *circuit.Circuit) error {
	ac.Circuit = ckt

	ac.op.Options = ac.Options
	if err := ac.op.Setup(ckt); err != nil {
		return fmt.Errorf("operating point setup error: %v", err)
	}
	if err := ac.op.Execute(); err != nil {
		return fmt.Errorf("operating point analysis error: %w", err)
	}
	if ac.keepOpInfo {
		for name, vals := range ac.op.GetResults() {
			ac.results["OP."+name] = append([]float64(nil), vals...)
		}
	}

	ac.generateFrequencyPoints()
	return nil
}

func (ac *ACAnalysis) Execute() error {
	if ac.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}

	mat := ac.Circuit.GetMatrix()
	mat.SetComplexMode(true)
	defer mat.SetComplexMode(false)

	for _, freq := range ac.frequencies {
		state := devstate.New()
		state.Mode = devstate.AC
		state.Frequency = freq

		mat.Clear()
		if err := ac.Circuit.Stamp(state); err != nil {
			return fmt.Errorf("stamping error at f=%g: %v", freq, err)
		}

		if err := mat.OrderAndFactor(); err != nil {
			return fmt.Errorf("matrix factor error at f=%g: %w", freq, err)
		}
		if err := mat.Solve(); err != nil {
			return fmt.Errorf("matrix solve error at f=%g: %v", freq, err)
		}

		solution := make(map[string]complex128)

		for name, nodeIdx := range ac.Circuit.GetNodeMap() {
			if nodeIdx > 0 {
				re, im := mat.ComplexSolution(nodeIdx)
				solution[fmt.Sprintf("V(%s)", name)] = complex(re, im)
			}
		}

		for _, dev := range ac.Circuit.GetDevices() {
			if v, ok := dev.(*device.VoltageSource); ok {
				re, im := mat.ComplexSolution(v.BranchIndex())
				solution[fmt.Sprintf("I(%s)", dev.GetName())] = complex(re, im)
			}
		}

		ac.StoreACResult(freq, solution)
		ac.Circuit.EmitExport(0, freq, 0)
	}

	return nil
}

// generateFrequencyPoints enumerates the sweep: numPoints per decade for
// DEC, per octave for OCT, total for LIN, the classic .AC semantics. A
// DEC/OCT sweep steps geometrically from the start frequency and includes
// the stop frequency only when it lies on that grid (within a relative
// 1e-9); otherwise it ends at the last grid point below stop. A LIN sweep
// always ends on the stop frequency.
func (ac *ACAnalysis) generateFrequencyPoints() {
	ac.frequencies = ac.frequencies[:0]

	switch ac.pointsType {
	case "DEC", "OCT":
		base := 10.0
		if ac.pointsType == "OCT" {
			base = 2.0
		}
		ratio := math.Pow(base, 1.0/float64(ac.numPoints))
		limit := ac.stopFreq * (1 + 1e-9)
		for f := ac.startFreq; f <= limit; f *= ratio {
			ac.frequencies = append(ac.frequencies, f)
		}

	case "LIN":
		if ac.numPoints == 1 {
			ac.frequencies = append(ac.frequencies, ac.startFreq)
			return
		}
		step := (ac.stopFreq - ac.startFreq) / float64(ac.numPoints-1)
		for i := range ac.numPoints {
			ac.frequencies = append(ac.frequencies, ac.startFreq+float64(i)*step)
		}
	}
}
