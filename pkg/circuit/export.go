package circuit

import (
	"fmt"
	"math"

	"spicengine/pkg/spiceerr"
)

// ExportEvent is handed to every subscriber once per solved point: one
// event for an operating point, one per sweep value in a DC sweep, one
// per frequency in an AC sweep, one per accepted step in a transient run.
// Readers pull what the analysis kind makes meaningful; the other
// accessors return zero.
type ExportEvent struct {
	circuit  *Circuit
	solution []float64

	Time       float64
	Frequency  float64
	SweepValue float64
}

// GetVoltage returns the solved voltage at the named node; ground ("0" or
// "gnd") is always 0.
func (e *ExportEvent) GetVoltage(nodeName string) float64 {
	if nodeName == "0" || nodeName == "gnd" {
		return 0
	}
	idx, ok := e.circuit.nodeMap[nodeName]
	if !ok || idx <= 0 || idx >= len(e.solution) {
		return 0
	}
	return e.solution[idx]
}

// GetCurrent returns the solved branch current through the named device
// (voltage source or inductor), in the convention that positive current
// flows into the device's first node.
func (e *ExportEvent) GetCurrent(branchName string) float64 {
	idx, ok := e.circuit.branchMap[branchName]
	if !ok || idx <= 0 || idx >= len(e.solution) {
		return 0
	}
	return -e.solution[idx]
}

func (e *ExportEvent) GetTime() float64       { return e.Time }
func (e *ExportEvent) GetFrequency() float64  { return e.Frequency }
func (e *ExportEvent) GetSweepValue() float64 { return e.SweepValue }

// Subscribe registers fn to be called once per solved point. The
// subscriber list is owned by the circuit and cleared on Unsetup, so a
// re-setup starts with no stale callbacks.
func (c *Circuit) Subscribe(fn func(*ExportEvent)) {
	c.subscribers = append(c.subscribers, fn)
}

// EmitExport publishes one solved point to every subscriber. Analyses
// fill in whichever of time/frequency/sweep applies and leave the rest
// zero; on a frequency point the event carries the complex solution's
// magnitudes.
func (c *Circuit) EmitExport(time, frequency, sweepValue float64) {
	if len(c.subscribers) == 0 {
		return
	}
	var sol []float64
	if frequency > 0 {
		sol = make([]float64, c.Size()+1)
		for i := 1; i <= c.Size(); i++ {
			re, im := c.matrix.ComplexSolution(i)
			sol[i] = math.Hypot(re, im)
		}
	} else {
		sol = c.matrix.Solution()
	}
	ev := &ExportEvent{
		circuit:    c,
		solution:   sol,
		Time:       time,
		Frequency:  frequency,
		SweepValue: sweepValue,
	}
	for _, fn := range c.subscribers {
		fn(ev)
	}
}

// propertyReader is implemented by devices that expose named internal
// quantities (a diode's junction voltage, a MOSFET's gm) beyond the
// plain node/branch solution.
type propertyReader interface {
	ReadProperty(name string) (float64, bool)
}

// PropertyExport is a lazy handle on (entity, property): the device is
// looked up on first Value call, not at construction, so handles can be
// created before Setup has instantiated the devices.
type PropertyExport struct {
	circuit  *Circuit
	entity   string
	property string
	reader   propertyReader
}

// Export returns a lazy property handle for the named entity.
func (c *Circuit) Export(entityName, propertyName string) *PropertyExport {
	return &PropertyExport{circuit: c, entity: entityName, property: propertyName}
}

// Value resolves the handle (once) and reads the property.
func (p *PropertyExport) Value() (float64, error) {
	if p.reader == nil {
		for _, dev := range p.circuit.devices {
			if dev.GetName() != p.entity {
				continue
			}
			r, ok := dev.(propertyReader)
			if !ok {
				return 0, fmt.Errorf("device %s exposes no properties: %w", p.entity, spiceerr.ErrInvalidParameter)
			}
			p.reader = r
			break
		}
		if p.reader == nil {
			return 0, fmt.Errorf("device %s not found: %w", p.entity, spiceerr.ErrInvalidParameter)
		}
	}
	v, ok := p.reader.ReadProperty(p.property)
	if !ok {
		return 0, fmt.Errorf("device %s has no property %q: %w", p.entity, p.property, spiceerr.ErrInvalidParameter)
	}
	return v, nil
}

// Unsetup releases everything Setup acquired: device matrix pointers (via
// the matrix itself), the state history, the subscriber list. Re-running
// an analysis afterward requires a fresh CreateMatrix/SetupDevices pass.
func (c *Circuit) Unsetup() {
	if c.matrix != nil {
		c.matrix.Unfix()
		c.matrix.Destroy()
		c.matrix = nil
	}
	c.history = nil
	c.subscribers = nil
	c.devices = nil
	c.nonlinear = nil
	c.bpDevices = nil
	c.sources = nil
}
