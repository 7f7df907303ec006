package device

import (
	"fmt"

	"spicengine/pkg/devstate"
	"spicengine/pkg/matrix"
)

// Resistor is a linear two-terminal conductance with an optional linear/
// quadratic temperature coefficient, TC1/TC2, applied around Tnom.
type Resistor struct {
	BaseDevice
	Tc1  float64
	Tc2  float64
	Tnom float64
}

var _ Biasing = (*Resistor)(nil)
var _ Frequency = (*Resistor)(nil)

func NewResistor(name string, nodeNames []string, value float64) *Resistor {
	return &Resistor{
		BaseDevice: *NewBaseDevice(name, value, nodeNames),
		Tnom:       300.15,
	}
}

func (r *Resistor) GetType() string { return "R" }

func (r *Resistor) Stamp(m matrix.StampTarget, state *devstate.State) error {
	if len(r.Nodes) != 2 {
		return fmt.Errorf("resistor %s: requires exactly 2 nodes", r.Name)
	}
	n1, n2 := r.Nodes[0], r.Nodes[1]
	g := 1.0 / r.temperatureAdjustedValue(state.Temp)
	return stampConductance(m, n1, n2, g)
}

func (r *Resistor) StampAC(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := r.Nodes[0], r.Nodes[1]
	g := 1.0 / r.temperatureAdjustedValue(state.Temp)
	return stampComplexConductance(m, n1, n2, g, 0)
}

func (r *Resistor) temperatureAdjustedValue(temp float64) float64 {
	if temp == 0 {
		temp = r.Tnom
	}
	dt := temp - r.Tnom
	factor := 1.0 + r.Tc1*dt + r.Tc2*dt*dt
	return r.Value * factor
}

// stampConductance is the real-valued two-terminal conductance pattern
// every linear/linearized device (resistor, a capacitor's OP gmin branch,
// a diode/BJT/MOSFET's small-signal conductance) stamps.
func stampConductance(m matrix.StampTarget, n1, n2 int, g float64) error {
	if n1 != 0 {
		if err := m.AddElement(n1, n1, g); err != nil {
			return err
		}
		if n2 != 0 {
			if err := m.AddElement(n1, n2, -g); err != nil {
				return err
			}
		}
	}
	if n2 != 0 {
		if n1 != 0 {
			if err := m.AddElement(n2, n1, -g); err != nil {
				return err
			}
		}
		if err := m.AddElement(n2, n2, g); err != nil {
			return err
		}
	}
	return nil
}

func stampComplexConductance(m matrix.StampTarget, n1, n2 int, real, imag float64) error {
	if n1 != 0 {
		if err := m.AddComplexElement(n1, n1, real, imag); err != nil {
			return err
		}
		if n2 != 0 {
			if err := m.AddComplexElement(n1, n2, -real, -imag); err != nil {
				return err
			}
		}
	}
	if n2 != 0 {
		if n1 != 0 {
			if err := m.AddComplexElement(n2, n1, -real, -imag); err != nil {
				return err
			}
		}
		if err := m.AddComplexElement(n2, n2, real, imag); err != nil {
			return err
		}
	}
	return nil
}
