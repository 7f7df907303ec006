package device

import (
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// VoltageSource is an independent voltage source with DC, SIN, PULSE, PWL
// and AC small-signal variants, introducing a branch-current unknown.
type VoltageSource struct {
	BaseDevice
	vtype   SourceType
	dcValue float64

	amplitude, freq, phase float64

	v1, v2, delay, rise, fall, pWidth, period float64

	times, values []float64

	acMag, acPhase float64

	branchIdx    int
	sourceFactor float64
}

func NewDCVoltageSource(name string, nodeNames []string, value float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice:   *NewBaseDevice(name, value, nodeNames),
		vtype:        DC,
		dcValue:      value,
		sourceFactor: 1,
	}
}

func NewSinVoltageSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice:   *NewBaseDevice(name, offset, nodeNames),
		vtype:        SIN,
		dcValue:      offset,
		amplitude:    amplitude,
		freq:         freq,
		phase:        phase,
		sourceFactor: 1,
	}
}

func NewPulseVoltageSource(name string, nodeNames []string, v1, v2, delay, rise, fall, pWidth, period float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice:   *NewBaseDevice(name, v1, nodeNames),
		vtype:        PULSE,
		v1:           v1,
		v2:           v2,
		delay:        delay,
		rise:         rise,
		fall:         fall,
		pWidth:       pWidth,
		period:       period,
		sourceFactor: 1,
	}
}

func NewPWLVoltageSource(name string, nodeNames []string, times, values []float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice:   *NewBaseDevice(name, values[0], nodeNames),
		vtype:        PWL,
		times:        times,
		values:       values,
		sourceFactor: 1,
	}
}

func NewACVoltageSource(name string, nodeNames []string, dcValue, acMag, acPhase float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice:   *NewBaseDevice(name, dcValue, nodeNames),
		vtype:        DC,
		dcValue:      dcValue,
		acMag:        acMag,
		acPhase:      acPhase,
		sourceFactor: 1,
	}
}

func (v *VoltageSource) GetType() string { return "V" }

func (v *VoltageSource) BranchIndex() int       { return v.branchIdx }
func (v *VoltageSource) SetBranchIndex(idx int) { v.branchIdx = idx }

func (v *VoltageSource) SetValue(value float64) {
	v.Value = value
	v.dcValue = value
}

// SetSourceFactor scales every waveform by factor in [0,1]; the
// source-stepping homotopy fallback ramps this from 0 to 1 when plain
// Newton iteration and gmin stepping both fail to converge.
func (v *VoltageSource) SetSourceFactor(factor float64) { v.sourceFactor = factor }

func (v *VoltageSource) GetVoltage(t float64) float64 {
	var val float64
	switch v.vtype {
	case DC:
		val = v.dcValue
	case SIN:
		phaseRad := v.phase * math.Pi / 180.0
		val = v.dcValue + v.amplitude*math.Sin(2.0*math.Pi*v.freq*t+phaseRad)
	case PULSE:
		val = v.getPulseVoltage(t)
	case PWL:
		val = v.getPWLVoltage(t)
	}
	return val * v.sourceFactor
}

// RegisterBreakpoints marks every PULSE edge (or PWL knot) that falls
// within [0, tstop] so the transient step controller lands on it exactly
// instead of risking the edge falling inside a step and being missed by
// the LTE estimate.
func (v *VoltageSource) RegisterBreakpoints(b *integrate.Breakpoints, tstop float64) {
	switch v.vtype {
	case PULSE:
		if v.period <= 0 {
			for _, t := range []float64{v.delay, v.delay + v.rise, v.delay + v.rise + v.pWidth, v.delay + v.rise + v.pWidth + v.fall} {
				if t <= tstop {
					b.Insert(t)
				}
			}
			return
		}
		for t := v.delay; t <= tstop; t += v.period {
			for _, e := range []float64{t, t + v.rise, t + v.rise + v.pWidth, t + v.rise + v.pWidth + v.fall} {
				if e <= tstop {
					b.Insert(e)
				}
			}
		}
	case PWL:
		for _, t := range v.times {
			if t <= tstop {
				b.Insert(t)
			}
		}
	}
}

func (v *VoltageSource) Stamp(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := v.Nodes[0], v.Nodes[1]
	b := v.branchIdx

	if n1 != 0 {
		if err := m.AddElement(b, n1, 1); err != nil {
			return err
		}
		if err := m.AddElement(n1, b, 1); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddElement(b, n2, -1); err != nil {
			return err
		}
		if err := m.AddElement(n2, b, -1); err != nil {
			return err
		}
	}
	return m.AddRHS(b, v.GetVoltage(state.Time))
}

func (v *VoltageSource) StampAC(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := v.Nodes[0], v.Nodes[1]
	b := v.branchIdx

	if n1 != 0 {
		if err := m.AddComplexElement(b, n1, 1, 0); err != nil {
			return err
		}
		if err := m.AddComplexElement(n1, b, 1, 0); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddComplexElement(b, n2, -1, 0); err != nil {
			return err
		}
		if err := m.AddComplexElement(n2, b, -1, 0); err != nil {
			return err
		}
	}

	phaseRad := v.acPhase * math.Pi / 180.0
	return m.AddComplexRHS(b, v.acMag*math.Cos(phaseRad), v.acMag*math.Sin(phaseRad))
}

func (v *VoltageSource) getPulseVoltage(t float64) float64 {
	if t < v.delay {
		return v.v1
	}
	t = t - v.delay
	if v.period > 0 {
		t = math.Mod(t, v.period)
	}
	if t < v.rise {
		if v.rise == 0 {
			return v.v2
		}
		return v.v1 + (v.v2-v.v1)*t/v.rise
	}
	if t < v.rise+v.pWidth {
		return v.v2
	}
	fallStart := v.rise + v.pWidth
	if t < fallStart+v.fall {
		if v.fall == 0 {
			return v.v1
		}
		return v.v2 - (v.v2-v.v1)*(t-fallStart)/v.fall
	}
	return v.v1
}

func (v *VoltageSource) getPWLVoltage(t float64) float64 {
	if t <= v.times[0] {
		return v.values[0]
	}
	last := len(v.times) - 1
	if t >= v.times[last] {
		return v.values[last]
	}
	for i := 1; i < len(v.times); i++ {
		if t <= v.times[i] {
			t1, t2 := v.times[i-1], v.times[i]
			v1, v2 := v.values[i-1], v.values[i]
			slope := (v2 - v1) / (t2 - t1)
			return v1 + slope*(t-t1)
		}
	}
	return v.values[last]
}
