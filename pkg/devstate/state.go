// Package devstate holds the simulation state every device's Stamp method
// reads: what kind of analysis is running, the working point in time or
// frequency, and the integration method currently in effect.
package devstate

// AnalysisMode identifies which analysis is driving the current stamp
// pass, since a handful of devices (capacitor, inductor, diode) stamp
// differently depending on it.
type AnalysisMode int

const (
	OperatingPoint AnalysisMode = iota
	Transient
	AC
	DCSweep
)

// IntegrationMethod names the numerical integration rule in effect for a
// transient step.
type IntegrationMethod int

const (
	BackwardEuler IntegrationMethod = iota
	Trapezoidal
	Gear
)

// IntegrationPhase distinguishes a normal accepted step from the
// predictor evaluation the LTE-based step control uses to extrapolate a
// trial solution before a corrector pass.
type IntegrationPhase int

const (
	NormalPhase IntegrationPhase = iota
	PredictPhase
)

// State is the read side of the simulation every device and every layer
// above pkg/matrix consults: the working point, the active method and
// order, and (for transient analyses with .IC) the initial-condition
// clamp a device should honor on its very first stamp.
type State struct {
	Mode AnalysisMode

	Time      float64
	TimeStep  float64
	PrevDelta float64

	Gmin float64
	Temp float64

	Method   IntegrationMethod
	Phase    IntegrationPhase
	Order    int
	MaxOrder int

	Frequency float64 // valid only when Mode == AC

	UseIC      bool
	ICVoltages map[string]float64
}

// New returns a State with the conventional defaults: operating-point
// mode, room temperature, gmin off, trapezoidal order 1.
func New() *State {
	return &State{
		Mode:     OperatingPoint,
		Temp:     300.15,
		Method:   Trapezoidal,
		Order:    1,
		MaxOrder: 2,
	}
}

// ICVoltage returns the clamped initial-condition voltage for a named node
// and whether one was supplied.
func (s *State) ICVoltage(node string) (float64, bool) {
	if !s.UseIC || s.ICVoltages == nil {
		return 0, false
	}
	v, ok := s.ICVoltages[node]
	return v, ok
}
