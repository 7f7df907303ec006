package device

import (
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Capacitor is a linear two-terminal capacitance. Its transient companion
// model is a general order-k multistep stamp (Trapezoidal order 1-2, Gear
// order 1-6) rather than the fixed backward-Euler-only model a simpler
// simulator would use: geq = C*ag[0], with the historic terms folded into
// an equivalent RHS current source.
type Capacitor struct {
	BaseDevice
}

var _ Biasing = (*Capacitor)(nil)
var _ Frequency = (*Capacitor)(nil)
var _ Transient = (*Capacitor)(nil)

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{BaseDevice: *NewBaseDevice(name, value, nodeNames)}
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) voltageStateName() string { return "C:" + c.Name + ":v" }

func (c *Capacitor) DeclareState(h *integrate.History) { h.Declare(c.voltageStateName()) }

func (c *Capacitor) Stamp(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := c.Nodes[0], c.Nodes[1]

	if state.Mode == devstate.OperatingPoint {
		gmin := state.Gmin
		if gmin < 1e-12 {
			gmin = 1e-12
		}
		return stampConductance(m, n1, n2, gmin)
	}

	// Any other mode stamps nothing here; the transient companion model
	// is StampTransient's job.
	return nil
}

// StampTransient is the general multistep companion stamp; the transient
// driver calls this instead of Stamp once it has a History to draw on.
func (c *Capacitor) StampTransient(m matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	n1, n2 := c.Nodes[0], c.Nodes[1]
	vname := c.voltageStateName()

	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	ag := integrate.Coefficients(method, state.Order, state.TimeStep)

	geq := c.Value * ag[0]
	historic := 0.0
	for k := 1; k < len(ag); k++ {
		historic += ag[k] * h.At(vname, k-1)
	}
	ieq := -c.Value * historic

	if err := stampConductance(m, n1, n2, geq); err != nil {
		return err
	}
	if n1 != 0 {
		if err := m.AddRHS(n1, ieq); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddRHS(n2, -ieq); err != nil {
			return err
		}
	}
	return nil
}

func (c *Capacitor) StampAC(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := c.Nodes[0], c.Nodes[1]
	omega := 2 * math.Pi * state.Frequency
	return stampComplexConductance(m, n1, n2, 0, omega*c.Value)
}

func (c *Capacitor) nodeVoltage(voltages []float64) float64 {
	v1, v2 := 0.0, 0.0
	if c.Nodes[0] != 0 {
		v1 = voltages[c.Nodes[0]]
	}
	if c.Nodes[1] != 0 {
		v2 = voltages[c.Nodes[1]]
	}
	return v1 - v2
}

func (c *Capacitor) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {
	h.Push(c.voltageStateName(), c.nodeVoltage(voltages))
}

func (c *Capacitor) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	vname := c.voltageStateName()
	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	order := state.Order
	lteConst := integrate.LTEConstant(method, order)

	// Charge swing across the last `order` steps ending at the trial
	// point, scaled by the method's error constant.
	vNew := c.nodeVoltage(voltages)
	vOld := h.At(vname, order-1)
	dt := state.TimeStep
	if dt <= 0 {
		return 0
	}
	dq := c.Value * math.Abs(vNew-vOld)
	return lteConst * dq / dt
}
