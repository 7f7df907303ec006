package device

import (
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// CurrentSource is an independent current source, same waveform variants
// as VoltageSource but stamped purely onto the RHS (no branch unknown).
type CurrentSource struct {
	BaseDevice
	ctype   SourceType
	dcValue float64

	amplitude, freq, phase float64

	i1, i2, delay, rise, fall, pWidth, period float64

	times, values []float64

	acMag, acPhase float64

	sourceFactor float64
}

func NewDCCurrentSource(name string, nodeNames []string, value float64) *CurrentSource {
	return &CurrentSource{BaseDevice: *NewBaseDevice(name, value, nodeNames), ctype: DC, dcValue: value, sourceFactor: 1}
}

func NewSinCurrentSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *CurrentSource {
	return &CurrentSource{
		BaseDevice: *NewBaseDevice(name, offset, nodeNames),
		ctype:      SIN, dcValue: offset, amplitude: amplitude, freq: freq, phase: phase,
		sourceFactor: 1,
	}
}

func NewPulseCurrentSource(name string, nodeNames []string, i1, i2, delay, rise, fall, pWidth, period float64) *CurrentSource {
	return &CurrentSource{
		BaseDevice: *NewBaseDevice(name, i1, nodeNames),
		ctype:      PULSE, i1: i1, i2: i2, delay: delay, rise: rise, fall: fall, pWidth: pWidth, period: period,
		sourceFactor: 1,
	}
}

func NewPWLCurrentSource(name string, nodeNames []string, times, values []float64) *CurrentSource {
	return &CurrentSource{
		BaseDevice: *NewBaseDevice(name, values[0], nodeNames),
		ctype:      PWL, times: times, values: values,
		sourceFactor: 1,
	}
}

func NewACCurrentSource(name string, nodeNames []string, dcValue, acMag, acPhase float64) *CurrentSource {
	return &CurrentSource{
		BaseDevice: *NewBaseDevice(name, dcValue, nodeNames),
		ctype:      DC, dcValue: dcValue, acMag: acMag, acPhase: acPhase,
		sourceFactor: 1,
	}
}

func (i *CurrentSource) GetType() string { return "I" }

func (i *CurrentSource) SetValue(value float64) {
	i.Value = value
	i.dcValue = value
}

func (i *CurrentSource) SetSourceFactor(factor float64) { i.sourceFactor = factor }

func (i *CurrentSource) GetCurrent(t float64) float64 {
	var val float64
	switch i.ctype {
	case DC:
		val = i.dcValue
	case SIN:
		phaseRad := i.phase * math.Pi / 180.0
		val = i.dcValue + i.amplitude*math.Sin(2.0*math.Pi*i.freq*t+phaseRad)
	case PULSE:
		val = i.getPulseCurrent(t)
	case PWL:
		val = i.getPWLCurrent(t)
	}
	return val * i.sourceFactor
}

func (i *CurrentSource) RegisterBreakpoints(b *integrate.Breakpoints, tstop float64) {
	switch i.ctype {
	case PULSE:
		if i.period <= 0 {
			for _, t := range []float64{i.delay, i.delay + i.rise, i.delay + i.rise + i.pWidth, i.delay + i.rise + i.pWidth + i.fall} {
				if t <= tstop {
					b.Insert(t)
				}
			}
			return
		}
		for t := i.delay; t <= tstop; t += i.period {
			b.Insert(t)
			b.Insert(t + i.rise)
			b.Insert(t + i.rise + i.pWidth)
			b.Insert(t + i.rise + i.pWidth + i.fall)
		}
	case PWL:
		for _, t := range i.times {
			if t <= tstop {
				b.Insert(t)
			}
		}
	}
}

func (i *CurrentSource) Stamp(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := i.Nodes[0], i.Nodes[1]
	current := i.GetCurrent(state.Time)
	if n1 != 0 {
		if err := m.AddRHS(n1, current); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddRHS(n2, -current); err != nil {
			return err
		}
	}
	return nil
}

func (i *CurrentSource) StampAC(m matrix.StampTarget, state *devstate.State) error {
	n1, n2 := i.Nodes[0], i.Nodes[1]
	phaseRad := i.acPhase * math.Pi / 180.0
	real := i.acMag * math.Cos(phaseRad)
	imag := i.acMag * math.Sin(phaseRad)
	if n1 != 0 {
		if err := m.AddComplexRHS(n1, real, imag); err != nil {
			return err
		}
	}
	if n2 != 0 {
		if err := m.AddComplexRHS(n2, -real, -imag); err != nil {
			return err
		}
	}
	return nil
}

func (i *CurrentSource) getPulseCurrent(t float64) float64 {
	if t < i.delay {
		return i.i1
	}
	t = t - i.delay
	if i.period > 0 {
		t = math.Mod(t, i.period)
	}
	if t < i.rise {
		if i.rise == 0 {
			return i.i2
		}
		return i.i1 + (i.i2-i.i1)*t/i.rise
	}
	if t < i.rise+i.pWidth {
		return i.i2
	}
	fallStart := i.rise + i.pWidth
	if t < fallStart+i.fall {
		if i.fall == 0 {
			return i.i1
		}
		return i.i2 - (i.i2-i.i1)*(t-fallStart)/i.fall
	}
	return i.i1
}

func (i *CurrentSource) getPWLCurrent(t float64) float64 {
	if t <= i.times[0] {
		return i.values[0]
	}
	last := len(i.times) - 1
	if t >= i.times[last] {
		return i.values[last]
	}
	for idx := 1; idx < len(i.times); idx++ {
		if t <= i.times[idx] {
			t1, t2 := i.times[idx-1], i.times[idx]
			i1, i2 := i.values[idx-1], i.values[idx]
			slope := (i2 - i1) / (t2 - t1)
			return i1 + slope*(t-t1)
		}
	}
	return i.values[last]
}
