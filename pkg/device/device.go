// Package device implements the circuit element catalog: resistor,
// capacitor, inductor, independent sources, diode, BJT, MOSFET levels
// 1-3, mutual inductance and a Jiles-Atherton saturable core, each
// stamping into a spicengine/pkg/matrix.StampTarget according to the
// capability interfaces below.
package device

import (
	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Device is the minimum every circuit element implements: identity, pin
// list, and its nominal value for display purposes.
type Device interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	SetNodes(nodes []int)
	GetValue() float64
}

// Biasing is the DC/operating-point stamp every device that carries
// current implements.
type Biasing interface {
	Device
	Stamp(m matrix.StampTarget, state *devstate.State) error
}

// Frequency is implemented by devices with a small-signal admittance
// distinct from their DC stamp (capacitor, inductor, any nonlinear
// device's linearized conductance) for AC analysis.
type Frequency interface {
	StampAC(m matrix.StampTarget, state *devstate.State) error
}

// Transient is implemented by devices with internal state that evolves
// across timesteps: it declares its state-history slots, advances them
// once a step is accepted, and estimates its own contribution to the
// local truncation error.
type Transient interface {
	DeclareState(h *integrate.History)
	StampTransient(m matrix.StampTarget, state *devstate.State, h *integrate.History) error
	AcceptStep(h *integrate.History, voltages []float64, state *devstate.State)
	// LocalTruncationError estimates this device's per-step integration
	// error from the trial solution the matrix solve just produced and the
	// accepted history; it is evaluated before AcceptStep commits the step.
	LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64
}

// CurrentRecorder is implemented by branch-current devices (inductors)
// that need the solved branch unknown fed back before AcceptStep or a
// coupled device reads GetCurrent.
type CurrentRecorder interface {
	BranchIndex() int
	RecordCurrent(i float64)
}

// NonLinear is implemented by devices whose conductance/current depend on
// the solution itself and so need re-linearizing every Newton iteration
// from the previous iterate's voltages.
type NonLinear interface {
	UpdateVoltages(voltages []float64) error
}

// Temperature is implemented by devices whose parameters are
// temperature-dependent (resistor TC1/TC2, diode/BJT saturation current).
type Temperature interface {
	SetTemperature(tempK float64)
}

// Noise is implemented by devices contributing a noise spectral density
// for a noise analysis. No device in this catalog implements it yet; it's
// declared so one can be added without another protocol change.
type Noise interface {
	NoiseSpectralDensity(freq float64) float64
}

// InductiveElement is the surface mutual.go's coupled-inductor model
// needs from each inductor it couples.
type InductiveElement interface {
	Device
	GetCurrent() float64
	GetPreviousCurrent() float64
	BranchIndex() int
}

// BaseDevice supplies the common Device fields and trivial accessors
// every concrete device embeds.
type BaseDevice struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

func (d *BaseDevice) GetName() string        { return d.Name }
func (d *BaseDevice) GetNodes() []int        { return d.Nodes }
func (d *BaseDevice) GetNodeNames() []string { return d.NodeNames }
func (d *BaseDevice) GetValue() float64      { return d.Value }
func (d *BaseDevice) SetNodes(nodes []int)   { d.Nodes = nodes }

// ModelParam is a named, reusable .model card (diode/BJT/MOSFET
// parameter sets shared across multiple instances).
type ModelParam struct {
	Type   string
	Name   string
	Params map[string]float64
}

func NewBaseDevice(name string, value float64, nodeNames []string) *BaseDevice {
	return &BaseDevice{
		Name:      name,
		Value:     value,
		NodeNames: nodeNames,
		Nodes:     make([]int, len(nodeNames)),
	}
}
