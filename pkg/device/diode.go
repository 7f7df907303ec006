package device

import (
	"fmt"
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Diode is the standard SPICE exponential junction model: saturation
// current Is with temperature dependence, ideality factor N, junction and
// diffusion capacitance for AC/transient, and gmin-floored conductance.
type Diode struct {
	BaseDevice

	Is, N, Rs       float64
	Cj0, M, Vj, Bv  float64
	Gmin            float64
	Eg, Xti, Tt, Fc float64

	vd, id, gd float64
	vdOld      float64
	idOld      float64
	capCurrent float64
}

var _ Biasing = (*Diode)(nil)
var _ Frequency = (*Diode)(nil)
var _ NonLinear = (*Diode)(nil)
var _ Transient = (*Diode)(nil)

func NewDiode(name string, nodeNames []string) *Diode {
	if len(nodeNames) != 2 {
		panic(fmt.Sprintf("diode %s: requires exactly 2 nodes", name))
	}
	d := &Diode{BaseDevice: *NewBaseDevice(name, 0, nodeNames)}
	d.setDefaultParameters()
	return d
}

func (d *Diode) GetType() string { return "D" }

func (d *Diode) setDefaultParameters() {
	d.Is = 1e-14
	d.N = 1.0
	d.M = 0.5
	d.Vj = 1.0
	d.Bv = 100.0
	d.Gmin = 1e-12
	d.Eg = 1.11
	d.Xti = 3.0
}

func (d *Diode) SetModelParameters(params map[string]float64) {
	set := func(key string, dst *float64) {
		if v, ok := params[key]; ok {
			*dst = v
		}
	}
	set("is", &d.Is)
	set("n", &d.N)
	set("rs", &d.Rs)
	set("cj0", &d.Cj0)
	set("m", &d.M)
	set("vj", &d.Vj)
	set("bv", &d.Bv)
	set("eg", &d.Eg)
	set("xti", &d.Xti)
	set("tt", &d.Tt)
	set("fc", &d.Fc)
}

func (d *Diode) thermalVoltage(temp float64) float64 {
	const (
		charge    = 1.6021918e-19
		boltzmann = 1.3806226e-23
	)
	if temp <= 0 {
		temp = 300.15
	}
	return boltzmann * temp / charge
}

func (d *Diode) temperatureAdjustedIs(temp float64) float64 {
	const refTemp = 300.15
	vt := d.thermalVoltage(temp)
	ratio := temp / refTemp
	egfact := -d.Eg / (2 * vt) * (temp/refTemp - 1.0)
	return d.Is * math.Pow(ratio, d.Xti/d.N) * math.Exp(egfact)
}

func (d *Diode) calculateCurrent(vd, temp float64) float64 {
	vt := d.thermalVoltage(temp)
	nvt := d.N * vt
	if vd > -3.0*nvt {
		arg := vd / nvt
		if arg > 40.0 {
			arg = 40.0
		}
		isT := d.temperatureAdjustedIs(temp)
		return isT * (math.Exp(arg) - 1.0)
	}
	return -d.temperatureAdjustedIs(temp)
}

func (d *Diode) calculateConductance(vd, id, temp float64) float64 {
	vt := d.thermalVoltage(temp)
	nvt := d.N * vt
	if vd > -3.0*nvt {
		return (math.Abs(id)+d.temperatureAdjustedIs(temp))/nvt + d.Gmin
	}
	return d.Gmin
}

// calculateJunctionCap returns the depletion-region capacitance used by
// the AC small-signal stamp.
func (d *Diode) calculateJunctionCap(vd float64) float64 {
	if d.Cj0 == 0 {
		return 0
	}
	if vd < 0 {
		arg := 1 - vd/d.Vj
		if arg < 0.1 {
			arg = 0.1
		}
		return d.Cj0 / math.Pow(arg, d.M)
	}
	return d.Cj0 * (1 + d.M*vd/d.Vj)
}

func (d *Diode) diffusionCapacitance(vd, temp, timeStep float64) float64 {
	if d.Tt == 0.0 || timeStep == 0.0 {
		return 0.0
	}
	id := d.calculateCurrent(vd, temp)
	didt := (id - d.idOld) / timeStep
	return d.Tt * didt
}

func (d *Diode) Stamp(m matrix.StampTarget, state *devstate.State) error {
	if len(d.Nodes) != 2 {
		return fmt.Errorf("diode %s: requires exactly 2 nodes", d.Name)
	}
	n1, n2 := d.Nodes[0], d.Nodes[1]

	d.id = d.calculateCurrent(d.vd, state.Temp)
	d.gd = d.calculateConductance(d.vd, d.id, state.Temp)

	if state.Mode == devstate.Transient && state.TimeStep > 0 {
		cd := d.diffusionCapacitance(d.vd, state.Temp, state.TimeStep)
		d.capCurrent = cd * (d.vd - d.vdOld) / state.TimeStep
		d.id += d.capCurrent
	}

	ieq := d.id - d.gd*d.vd
	if err := stampConductance(m, n1, n2, d.gd); err != nil {
		return err
	}
	if n1 != 0 {
		if err := m.AddRHS(n1, -ieq); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddRHS(n2, ieq); err != nil {
			return err
		}
	}
	return nil
}

func (d *Diode) StampAC(m matrix.StampTarget, state *devstate.State) error {
	if len(d.Nodes) != 2 {
		return fmt.Errorf("diode %s: requires exactly 2 nodes", d.Name)
	}
	n1, n2 := d.Nodes[0], d.Nodes[1]
	omega := 2 * math.Pi * state.Frequency
	cj := d.calculateJunctionCap(d.vd)
	return stampComplexConductance(m, n1, n2, d.gd, omega*cj)
}

// UpdateVoltages re-linearizes around the Newton iterate's junction
// voltage, clamped with limitJunctionVoltage so a large linear step in
// the exponential region can't send the next iteration's current to
// overflow.
func (d *Diode) UpdateVoltages(voltages []float64) error {
	if len(d.Nodes) != 2 {
		return fmt.Errorf("diode %s: requires exactly 2 nodes", d.Name)
	}
	n1, n2 := d.Nodes[0], d.Nodes[1]
	var v1, v2 float64
	if n1 != 0 {
		v1 = voltages[n1]
	}
	if n2 != 0 {
		v2 = voltages[n2]
	}
	vnew := v1 - v2
	vt := d.thermalVoltage(300.15)
	isT := d.temperatureAdjustedIs(300.15)
	d.vd = limitJunctionVoltage(vnew, d.vd, d.N*vt, isT)
	return nil
}

// ReadProperty exposes the diode's solved internal quantities by name;
// the switch doubles as the device's static property table.
func (d *Diode) ReadProperty(name string) (float64, bool) {
	switch name {
	case "vd":
		return d.vd, true
	case "id":
		return d.id, true
	case "gd":
		return d.gd, true
	}
	return 0, false
}

func (d *Diode) stateName() string { return "D:" + d.Name + ":vd" }

func (d *Diode) DeclareState(h *integrate.History) { h.Declare(d.stateName()) }

func (d *Diode) StampTransient(m matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	return d.Stamp(m, state)
}

func (d *Diode) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {
	d.vdOld = d.vd
	d.idOld = d.id - d.capCurrent
	d.capCurrent = 0.0
	h.Push(d.stateName(), d.vd)
}

func (d *Diode) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	if d.Tt == 0 && d.Cj0 == 0 {
		return 0
	}
	return math.Abs(d.vd - d.vdOld)
}
