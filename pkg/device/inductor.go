package device

import (
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Inductor is a linear two-terminal inductance, introducing a branch
// current unknown the way every MNA flux-controlled element does. Its
// transient companion model uses the same general multistep machinery as
// Capacitor, applied to the branch current instead of a node voltage.
type Inductor struct {
	BaseDevice
	branchIdx int

	current0, currentPrev float64
	voltage0, voltagePrev float64
}

var _ Biasing = (*Inductor)(nil)
var _ Frequency = (*Inductor)(nil)
var _ Transient = (*Inductor)(nil)
var _ InductiveElement = (*Inductor)(nil)

func NewInductor(name string, nodeNames []string, value float64) *Inductor {
	return &Inductor{BaseDevice: *NewBaseDevice(name, value, nodeNames)}
}

func (l *Inductor) GetType() string { return "L" }

func (l *Inductor) BranchIndex() int            { return l.branchIdx }
func (l *Inductor) SetBranchIndex(idx int)      { l.branchIdx = idx }
func (l *Inductor) GetCurrent() float64         { return l.current0 }
func (l *Inductor) GetPreviousCurrent() float64 { return l.currentPrev }

func (l *Inductor) currentStateName() string { return "L:" + l.Name + ":i" }

func (l *Inductor) DeclareState(h *integrate.History) { h.Declare(l.currentStateName()) }

func (l *Inductor) Stamp(m matrix.StampTarget, state *devstate.State) error {
	n1, n2, b := l.Nodes[0], l.Nodes[1], l.branchIdx
	if err := stampBranchCoupling(m, n1, n2, b); err != nil {
		return err
	}
	// DC/operating-point: an inductor is a short; zero-volt branch equation.
	return m.AddElement(b, b, 0)
}

func (l *Inductor) StampTransient(m matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	n1, n2, b := l.Nodes[0], l.Nodes[1], l.branchIdx
	if err := stampBranchCoupling(m, n1, n2, b); err != nil {
		return err
	}

	iname := l.currentStateName()
	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	ag := integrate.Coefficients(method, state.Order, state.TimeStep)

	// v = L*di/dt => branch eq: v - L*ag[0]*i = L*sum(ag[k]*i_hist[k-1])
	if err := m.AddElement(b, b, -l.Value*ag[0]); err != nil {
		return err
	}
	historic := 0.0
	for k := 1; k < len(ag); k++ {
		historic += ag[k] * h.At(iname, k-1)
	}
	return m.AddRHS(b, l.Value*historic)
}

func stampBranchCoupling(m matrix.StampTarget, n1, n2, b int) error {
	if n1 != 0 {
		if err := m.AddElement(n1, b, 1); err != nil {
			return err
		}
		if err := m.AddElement(b, n1, 1); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddElement(n2, b, -1); err != nil {
			return err
		}
		if err := m.AddElement(b, n2, -1); err != nil {
			return err
		}
	}
	return nil
}

func (l *Inductor) StampAC(m matrix.StampTarget, state *devstate.State) error {
	n1, n2, b := l.Nodes[0], l.Nodes[1], l.branchIdx
	if err := stampBranchCoupling(m, n1, n2, b); err != nil {
		return err
	}
	omega := 2 * math.Pi * state.Frequency
	return m.AddComplexElement(b, b, 0, -omega*l.Value)
}

func (l *Inductor) branchVoltage(voltages []float64) float64 {
	v1, v2 := 0.0, 0.0
	if l.Nodes[0] != 0 {
		v1 = voltages[l.Nodes[0]]
	}
	if l.Nodes[1] != 0 {
		v2 = voltages[l.Nodes[1]]
	}
	return v1 - v2
}

func (l *Inductor) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {
	h.Push(l.currentStateName(), l.current0)
	l.currentPrev = l.current0
	l.voltagePrev = l.voltage0
	l.voltage0 = l.branchVoltage(voltages)
}

// RecordCurrent lets the transient driver feed back the branch-current
// unknown the matrix solve just produced, before AcceptStep commits it.
func (l *Inductor) RecordCurrent(i float64) { l.current0 = i }

func (l *Inductor) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	lteConst := integrate.LTEConstant(method, state.Order)
	iname := l.currentStateName()
	iNew := l.current0
	if l.branchIdx > 0 && l.branchIdx < len(voltages) {
		iNew = voltages[l.branchIdx]
	}
	iOld := h.At(iname, state.Order-1)
	dt := state.TimeStep
	if dt <= 0 {
		return 0
	}
	return lteConst * l.Value * math.Abs(iNew-iOld) / dt
}
