package device

import (
	"fmt"
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

const mu0 = 4 * math.Pi * 1e-7 // vacuum permeability (H/m)

// JilesAthertonCore is the scalar Jiles-Atherton hysteresis model: given an
// applied field H it tracks anhysteretic, irreversible and total
// magnetization and returns the differential permeability dM/dH the
// coupled inductor needs for its effective inductance.
type JilesAthertonCore struct {
	Ms    float64 // Saturation magnetization (A/m)
	alpha float64 // Domain coupling parameter
	a     float64 // Shape parameter
	c     float64 // Reversibility
	k     float64 // Pinning coefficient
	area  float64 // Cross-sectional area (m^2)
	len   float64 // Mean path length (m)
	tc    float64 // Curie temperature (K)
	beta  float64 // Temperature coefficient

	H    float64
	Hold float64
	M    float64
	Man  float64
	Mirr float64
	dMdH float64
	temp float64
}

func NewJilesAthertonCore() *JilesAthertonCore {
	return &JilesAthertonCore{
		Ms:    1.6e6,
		alpha: 1e-3,
		a:     1000.0,
		c:     0.1,
		k:     2000.0,
		tc:    1043.0,
		beta:  0.0,
		area:  1e-4,
		len:   0.1,
	}
}

func (c *JilesAthertonCore) Calculate(h, temp float64) (float64, float64) {
	c.temp = temp
	dH := h - c.Hold

	if math.Abs(dH) < 1e-12 {
		return c.M, c.dMdH
	}

	mst := c.Ms * math.Pow((c.tc-temp)/c.tc, c.beta)
	he := h + c.alpha*c.M

	lan := func(x float64) float64 {
		if math.Abs(x) < 1e-6 {
			return x / 3.0
		}
		return 1.0/math.Tanh(x) - 1.0/x
	}
	c.Man = mst * lan(he/c.a)

	delta := 1.0
	if dH < 0 {
		delta = -1.0
	}

	denom := c.k*delta - c.alpha*(c.Man-c.Mirr)
	if math.Abs(denom) < 1e-12 {
		denom = 1e-12 * math.Copysign(1.0, denom)
	}
	dMirrdH := (c.Man - c.Mirr) / denom
	c.Mirr += dMirrdH * dH

	mold := c.M
	c.M = c.Mirr + c.c*(c.Man-c.Mirr)

	c.dMdH = (c.M - mold) / dH
	if math.IsNaN(c.dMdH) || math.IsInf(c.dMdH, 0) {
		c.dMdH = mst / c.a / 3.0
	}

	c.H = h
	c.Hold = h
	return c.M, c.dMdH
}

// MagneticCore is a saturable core shared by every winding coupled to it.
type MagneticCore struct {
	JilesAthertonCore
	inductors []*MagneticInductor
}

func NewMagneticCore() *MagneticCore {
	return &MagneticCore{JilesAthertonCore: *NewJilesAthertonCore(), inductors: make([]*MagneticInductor, 0)}
}

func (mc *MagneticCore) AddInductor(ind *MagneticInductor) { mc.inductors = append(mc.inductors, ind) }

// MagneticInductor is a winding on a shared saturable core: a branch
// current unknown the same way Inductor is, but with an effective
// inductance that depends on the core's instantaneous differential
// permeability instead of a fixed value.
type MagneticInductor struct {
	BaseDevice
	core      *MagneticCore
	turns     int
	branchIdx int

	current0, currentPrev float64
	voltage0, voltagePrev float64
}

var _ Biasing = (*MagneticInductor)(nil)
var _ Frequency = (*MagneticInductor)(nil)
var _ Transient = (*MagneticInductor)(nil)
var _ InductiveElement = (*MagneticInductor)(nil)

func NewMagneticInductor(name string, nodeNames []string, turns int) *MagneticInductor {
	return &MagneticInductor{BaseDevice: *NewBaseDevice(name, 0, nodeNames), turns: turns}
}

func (m *MagneticInductor) GetType() string { return "L" }

func (m *MagneticInductor) BranchIndex() int            { return m.branchIdx }
func (m *MagneticInductor) SetBranchIndex(idx int)      { m.branchIdx = idx }
func (m *MagneticInductor) GetCurrent() float64         { return m.current0 }
func (m *MagneticInductor) GetPreviousCurrent() float64 { return m.currentPrev }

// GetValue returns the effective inductance at the core's current operating
// point, overriding BaseDevice's fixed Value field since this winding's
// inductance is nonlinear in the instantaneous current.
func (m *MagneticInductor) GetValue() float64 {
	if m.core == nil {
		return 0
	}
	_, dMdH := m.core.Calculate(float64(m.turns)*m.current0/m.core.len, 300.15)
	return mu0 * float64(m.turns*m.turns) * m.core.area * (1 + dMdH) / m.core.len
}

func (m *MagneticInductor) SetCore(params map[string]float64) {
	core := NewMagneticCore()
	if v, ok := params["ms"]; ok {
		core.Ms = v
	}
	if v, ok := params["alpha"]; ok {
		core.alpha = v
	}
	if v, ok := params["a"]; ok {
		core.a = v
	}
	if v, ok := params["c"]; ok {
		core.c = v
	}
	if v, ok := params["k"]; ok {
		core.k = v
	}
	if v, ok := params["area"]; ok {
		core.area = v
	}
	if v, ok := params["len"]; ok {
		core.len = v
	}
	m.core = core
	core.AddInductor(m)
}

// AttachCore puts this winding on an already-built core, the sharing path
// for a second L line naming the same core model.
func (m *MagneticInductor) AttachCore(core *MagneticCore) {
	m.core = core
	core.AddInductor(m)
}

func (m *MagneticInductor) GetCore() *MagneticCore { return m.core }

func (m *MagneticInductor) currentStateName() string { return "L:" + m.Name + ":i" }

func (m *MagneticInductor) DeclareState(h *integrate.History) { h.Declare(m.currentStateName()) }

func (m *MagneticInductor) Stamp(target matrix.StampTarget, state *devstate.State) error {
	if m.core == nil {
		return fmt.Errorf("magnetic core not set for inductor %s", m.Name)
	}
	n1, n2, b := m.Nodes[0], m.Nodes[1], m.branchIdx
	if err := stampBranchCoupling(target, n1, n2, b); err != nil {
		return err
	}
	return target.AddElement(b, b, 0)
}

// StampTransient evaluates the core at the present current estimate and
// stamps the same general multistep companion model Inductor uses, with
// the effective inductance recomputed every call rather than held fixed.
func (m *MagneticInductor) StampTransient(target matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	if m.core == nil {
		return fmt.Errorf("magnetic core not set for inductor %s", m.Name)
	}
	n1, n2, b := m.Nodes[0], m.Nodes[1], m.branchIdx
	if err := stampBranchCoupling(target, n1, n2, b); err != nil {
		return err
	}
	if state.TimeStep <= 0 {
		return target.AddElement(b, b, 0)
	}

	hField := float64(m.turns) * m.current0 / m.core.len
	_, dMdH := m.core.Calculate(hField, state.Temp)
	leff := mu0 * float64(m.turns*m.turns) * m.core.area * (1 + dMdH) / m.core.len

	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	ag := integrate.Coefficients(method, state.Order, state.TimeStep)

	if err := target.AddElement(b, b, -leff*ag[0]); err != nil {
		return err
	}
	historic := 0.0
	iname := m.currentStateName()
	for k := 1; k < len(ag); k++ {
		historic += ag[k] * h.At(iname, k-1)
	}
	return target.AddRHS(b, leff*historic)
}

func (m *MagneticInductor) StampAC(target matrix.StampTarget, state *devstate.State) error {
	if m.core == nil {
		return fmt.Errorf("magnetic core not set for inductor %s", m.Name)
	}
	n1, n2, b := m.Nodes[0], m.Nodes[1], m.branchIdx
	if err := stampBranchCoupling(target, n1, n2, b); err != nil {
		return err
	}

	hField := float64(m.turns) * m.current0 / m.core.len
	_, dMdH := m.core.Calculate(hField, state.Temp)
	leff := mu0 * float64(m.turns*m.turns) * m.core.area * (1 + dMdH) / m.core.len

	omega := 2 * math.Pi * state.Frequency
	return target.AddComplexElement(b, b, 0, -omega*leff)
}

func (m *MagneticInductor) branchVoltage(voltages []float64) float64 {
	v1, v2 := 0.0, 0.0
	if m.Nodes[0] != 0 {
		v1 = voltages[m.Nodes[0]]
	}
	if m.Nodes[1] != 0 {
		v2 = voltages[m.Nodes[1]]
	}
	return v1 - v2
}

func (m *MagneticInductor) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {
	h.Push(m.currentStateName(), m.current0)
	m.currentPrev = m.current0
	m.voltagePrev = m.voltage0
	m.voltage0 = m.branchVoltage(voltages)
}

// RecordCurrent lets the transient driver feed back the branch-current
// unknown the matrix solve just produced, before AcceptStep commits it.
func (m *MagneticInductor) RecordCurrent(i float64) { m.current0 = i }

func (m *MagneticInductor) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	lteConst := integrate.LTEConstant(method, state.Order)
	iname := m.currentStateName()
	iNew := m.current0
	if m.branchIdx > 0 && m.branchIdx < len(voltages) {
		iNew = voltages[m.branchIdx]
	}
	iOld := h.At(iname, state.Order-1)
	dt := state.TimeStep
	if dt <= 0 {
		return 0
	}
	return lteConst * m.GetValue() * math.Abs(iNew-iOld) / dt
}
