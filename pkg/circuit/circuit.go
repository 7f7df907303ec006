package circuit

import (
	"fmt"

	"spicengine/pkg/device"
	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
	"spicengine/pkg/netlist"
)

// branchOwner is implemented by every device that introduces its own
// branch-current unknown: independent voltage sources and inductors,
// plain or core-coupled.
type branchOwner interface {
	SetBranchIndex(idx int)
}

// breakpointSource is implemented by independent sources whose waveform
// has known discontinuities (PULSE edges, PWL knots) the transient step
// controller must land on exactly.
type breakpointSource interface {
	RegisterBreakpoints(b *integrate.Breakpoints, tstop float64)
}

// sourceFactorSetter is implemented by every independent source; it is
// the hook the Newton driver's source-stepping homotopy ramps from 0 to
// 1 when gmin stepping alone fails to converge.
type sourceFactorSetter interface {
	SetSourceFactor(factor float64)
}

// Circuit owns the MNA unknown layout (one row per node, one more per
// branch-current unknown), the device list sorted into the capability
// interfaces each analysis phase needs, and the shared state history
// every Transient device reads and writes. It implements
// spicengine/pkg/newton.Target.
type Circuit struct {
	name      string
	nodeMap   map[string]int
	branchMap map[string]int
	devices   []device.Device

	nonlinear []device.NonLinear
	bpDevices []breakpointSource
	sources   []sourceFactorSetter

	numNodes int

	matrix    *matrix.Matrix
	history   *integrate.History
	isComplex bool

	subscribers []func(*ExportEvent)

	Models map[string]device.ModelParam
}

// New returns a real-valued circuit, sized for DC/transient analysis.
func New(name string) *Circuit { return NewWithComplex(name, false) }

// NewWithComplex returns a circuit whose matrix also carries imaginary
// RHS/solution vectors, needed for AC analysis.
func NewWithComplex(name string, isComplex bool) *Circuit {
	return &Circuit{
		name:      name,
		nodeMap:   make(map[string]int),
		branchMap: make(map[string]int),
		isComplex: isComplex,
		Models:    make(map[string]device.ModelParam),
	}
}

func (c *Circuit) SetModels(models map[string]device.ModelParam) { c.Models = models }

// AssignNodeBranchMaps walks the netlist once to number every node
// (ground excluded) and every branch-current unknown a voltage source or
// inductor introduces, in netlist order, before any device or matrix
// exists.
func (c *Circuit) AssignNodeBranchMaps(elements []netlist.Element) error {
	for _, elem := range elements {
		for _, nodeName := range elem.Nodes {
			if nodeName == "0" || nodeName == "gnd" {
				continue
			}
			if _, exists := c.nodeMap[nodeName]; !exists {
				c.nodeMap[nodeName] = len(c.nodeMap) + 1
			}
		}
	}

	branchIdx := len(c.nodeMap) + 1
	for _, elem := range elements {
		switch elem.Type {
		case "V", "L":
			c.branchMap[elem.Name] = branchIdx
			branchIdx++
		}
	}

	c.numNodes = len(c.nodeMap)
	return nil
}

// CreateMatrix allocates the MNA matrix and the state history ring sized
// for the highest order any integration method in this package supports.
func (c *Circuit) CreateMatrix() error {
	size := len(c.nodeMap) + len(c.branchMap)
	m, err := matrix.New(size, c.isComplex)
	if err != nil {
		return fmt.Errorf("circuit %s: creating matrix: %w", c.name, err)
	}
	c.matrix = m
	c.history = integrate.NewHistory(6)
	return nil
}

// SetupDevices instantiates every netlist element, wires branch-current
// unknowns and mutual-inductance couplings, sorts devices into the
// capability interfaces later stages need, runs one bias stamp pass, one
// transient pass and (on a complex circuit) one AC pass so every position
// any analysis touches exists, and freezes the matrix's sparsity pattern.
func (c *Circuit) SetupDevices(elements []netlist.Element) error {
	cores := make(map[string]*device.MagneticCore)
	for _, elem := range elements {
		dev, err := netlist.CreateDevice(elem, c.nodeMap, c.Models, cores)
		if err != nil {
			return fmt.Errorf("creating device %s: %v", elem.Name, err)
		}

		nodeIndices := make([]int, len(elem.Nodes))
		for i, nodeName := range elem.Nodes {
			if nodeName == "0" || nodeName == "gnd" {
				nodeIndices[i] = 0
				continue
			}
			nodeIndices[i] = c.nodeMap[nodeName]
		}
		dev.SetNodes(nodeIndices)

		if bo, ok := dev.(branchOwner); ok {
			if idx, exists := c.branchMap[elem.Name]; exists {
				bo.SetBranchIndex(idx)
			}
		}

		if t, ok := dev.(device.Transient); ok {
			t.DeclareState(c.history)
		}
		if nl, ok := dev.(device.NonLinear); ok {
			c.nonlinear = append(c.nonlinear, nl)
		}
		if bp, ok := dev.(breakpointSource); ok {
			c.bpDevices = append(c.bpDevices, bp)
		}
		if sf, ok := dev.(sourceFactorSetter); ok {
			c.sources = append(c.sources, sf)
		}

		c.devices = append(c.devices, dev)
	}

	if err := c.wireMutualCouplings(); err != nil {
		return err
	}

	if err := c.Stamp(devstate.New()); err != nil {
		return fmt.Errorf("initial stamping failed: %v", err)
	}
	// Transient companion models reach positions the bias stamp doesn't
	// (a MOSFET's gate row carries only capacitive current); run one
	// transient pass so those exist before the freeze too.
	tranState := devstate.New()
	tranState.Mode = devstate.Transient
	tranState.TimeStep = 1
	if err := c.Stamp(tranState); err != nil {
		return fmt.Errorf("initial transient stamping failed: %v", err)
	}
	if c.isComplex {
		// The AC stamps touch complex positions the bias stamp never
		// does; run one frequency pass so the complex sparsity pattern
		// exists before the freeze.
		acState := devstate.New()
		acState.Mode = devstate.AC
		acState.Frequency = 1
		if err := c.Stamp(acState); err != nil {
			return fmt.Errorf("initial AC stamping failed: %v", err)
		}
	}
	c.matrix.Fix()

	return nil
}

// wireMutualCouplings resolves each Mutual device's inductor names
// against the devices already created, since K lines reference inductors
// by name rather than by Go value.
func (c *Circuit) wireMutualCouplings() error {
	for _, dev := range c.devices {
		mu, ok := dev.(*device.Mutual)
		if !ok {
			continue
		}
		for i, name := range mu.GetInductorNames() {
			ind, err := c.findInductor(name)
			if err != nil {
				return fmt.Errorf("mutual coupling %s: %v", mu.GetName(), err)
			}
			if err := mu.SetInductor(i, ind); err != nil {
				return fmt.Errorf("mutual coupling %s: %v", mu.GetName(), err)
			}
		}
	}
	return nil
}

func (c *Circuit) findInductor(name string) (device.InductiveElement, error) {
	for _, dev := range c.devices {
		if dev.GetName() != name {
			continue
		}
		ind, ok := dev.(device.InductiveElement)
		if !ok {
			return nil, fmt.Errorf("device %s is not an inductor", name)
		}
		return ind, nil
	}
	return nil, fmt.Errorf("undefined inductor %s", name)
}

// Stamp loads every device's contribution for the analysis mode state
// carries: Frequency stamps in AC, StampTransient (falling back to the
// DC Stamp for devices with no time-dependent state) in Transient, and
// the plain Biasing Stamp otherwise. This is the one stamping loop every
// analysis phase calls into.
func (c *Circuit) Stamp(state *devstate.State) error {
	for _, dev := range c.devices {
		switch state.Mode {
		case devstate.AC:
			f, ok := dev.(device.Frequency)
			if !ok {
				continue
			}
			if err := f.StampAC(c.matrix, state); err != nil {
				return fmt.Errorf("stamping %s: %v", dev.GetName(), err)
			}

		case devstate.Transient:
			if t, ok := dev.(device.Transient); ok {
				if err := t.StampTransient(c.matrix, state, c.history); err != nil {
					return fmt.Errorf("stamping %s: %v", dev.GetName(), err)
				}
				continue
			}
			if b, ok := dev.(device.Biasing); ok {
				if err := b.Stamp(c.matrix, state); err != nil {
					return fmt.Errorf("stamping %s: %v", dev.GetName(), err)
				}
			}

		default:
			b, ok := dev.(device.Biasing)
			if !ok {
				continue
			}
			if err := b.Stamp(c.matrix, state); err != nil {
				return fmt.Errorf("stamping %s: %v", dev.GetName(), err)
			}
		}
	}

	return c.stampICClamps(state)
}

// icClampConductance pins a .IC node hard enough to dominate any device
// conductance without wrecking the pivot scaling.
const icClampConductance = 1e6

// stampICClamps forces each .IC-declared node to its given voltage via a
// stiff Norton equivalent to ground, applied only while state.UseIC holds
// (the first step of a uic transient run).
func (c *Circuit) stampICClamps(state *devstate.State) error {
	if !state.UseIC || len(state.ICVoltages) == 0 {
		return nil
	}
	for nodeName, v := range state.ICVoltages {
		idx, ok := c.nodeMap[nodeName]
		if !ok || idx <= 0 {
			continue
		}
		if err := c.matrix.AddElement(idx, idx, icClampConductance); err != nil {
			return err
		}
		if err := c.matrix.AddRHS(idx, icClampConductance*v); err != nil {
			return err
		}
	}
	return nil
}

// Matrix returns the live MNA matrix, satisfying newton.Target.
func (c *Circuit) Matrix() *matrix.Matrix { return c.matrix }

// Size returns the total unknown count: node voltages plus branch
// currents, satisfying newton.Target.
func (c *Circuit) Size() int { return len(c.nodeMap) + len(c.branchMap) }

// UpdateNonlinearVoltages re-linearizes every nonlinear device from the
// previous Newton iterate, satisfying newton.Target.
func (c *Circuit) UpdateNonlinearVoltages(solution []float64) error {
	for _, dev := range c.nonlinear {
		if err := dev.UpdateVoltages(solution); err != nil {
			return fmt.Errorf("updating voltages: %v", err)
		}
	}
	return nil
}

// SetSourceFactor scales every independent source's waveform by factor,
// satisfying newton.Target's source-stepping homotopy hook.
func (c *Circuit) SetSourceFactor(factor float64) {
	for _, s := range c.sources {
		s.SetSourceFactor(factor)
	}
}

// RegisterBreakpoints asks every PULSE/PWL source to mark its known
// discontinuities in bp, up to tstop.
func (c *Circuit) RegisterBreakpoints(bp *integrate.Breakpoints, tstop float64) {
	for _, dev := range c.bpDevices {
		dev.RegisterBreakpoints(bp, tstop)
	}
}

// RecordBranchCurrents feeds each branch-current device (inductors) the
// solved value of its own unknown, so GetCurrent and the LTE estimate see
// the trial solution rather than the previous step's.
func (c *Circuit) RecordBranchCurrents(solution []float64) {
	for _, dev := range c.devices {
		cr, ok := dev.(device.CurrentRecorder)
		if !ok {
			continue
		}
		if b := cr.BranchIndex(); b > 0 && b < len(solution) {
			cr.RecordCurrent(solution[b])
		}
	}
}

// AcceptStep commits the just-solved voltages into every Transient
// device's state history; call this once a transient sub-step's LTE test
// passes, never on a rejected trial.
func (c *Circuit) AcceptStep(voltages []float64, state *devstate.State) {
	c.RecordBranchCurrents(voltages)
	for _, dev := range c.devices {
		if t, ok := dev.(device.Transient); ok {
			t.AcceptStep(c.history, voltages, state)
		}
	}
}

// SeedTransientState fills every Transient device's history ring with the
// operating-point (or initial-condition) solution, so the first transient
// step's companion models see a settled past instead of all-zero slots.
func (c *Circuit) SeedTransientState(voltages []float64, state *devstate.State) {
	for i := 0; i < c.history.Depth()+1; i++ {
		c.AcceptStep(voltages, state)
	}
}

// LocalTruncationError returns the worst-case LTE estimate across every
// Transient device for the trial solution, which the step controller
// compares against its tolerance to accept or reject the trial step.
func (c *Circuit) LocalTruncationError(solution []float64, state *devstate.State) float64 {
	c.RecordBranchCurrents(solution)
	worst := 0.0
	for _, dev := range c.devices {
		t, ok := dev.(device.Transient)
		if !ok {
			continue
		}
		if lte := t.LocalTruncationError(c.history, solution, state); lte > worst {
			worst = lte
		}
	}
	return worst
}

func (c *Circuit) GetMatrix() *matrix.Matrix { return c.matrix }

func (c *Circuit) GetNodeMap() map[string]int { return c.nodeMap }

func (c *Circuit) GetBranchMap() map[string]int { return c.branchMap }

func (c *Circuit) GetDevices() []device.Device { return c.devices }

// GetSolution maps the last-computed solution vector back to named node
// voltages and branch currents, plus the one derived reading (resistor
// current) SPICE output decks conventionally expect without an explicit
// branch unknown.
func (c *Circuit) GetSolution() map[string]float64 {
	solution := make(map[string]float64)
	matrixSolution := c.matrix.Solution()

	for name, idx := range c.nodeMap {
		solution[fmt.Sprintf("V(%s)", name)] = matrixSolution[idx]
	}

	for name, idx := range c.branchMap {
		solution[fmt.Sprintf("I(%s)", name)] = -matrixSolution[idx]
	}

	for _, dev := range c.devices {
		if dev.GetType() != "R" {
			continue
		}
		nodes := dev.GetNodes()
		v1, v2 := 0.0, 0.0
		if nodes[0] > 0 {
			v1 = matrixSolution[nodes[0]]
		}
		if nodes[1] > 0 {
			v2 = matrixSolution[nodes[1]]
		}
		solution[fmt.Sprintf("I(%s)", dev.GetName())] = (v1 - v2) / dev.GetValue()
	}

	return solution
}

func (c *Circuit) Destroy() {
	if c.matrix != nil {
		c.matrix.Destroy()
	}
}

func (c *Circuit) Name() string { return c.name }

func (c *Circuit) GetNumNodes() int { return c.numNodes }

func (c *Circuit) GetNodeVoltage(nodeIdx int) float64 {
	if nodeIdx <= 0 {
		return 0
	}
	solution := c.matrix.Solution()
	if nodeIdx >= len(solution) {
		return 0
	}
	return solution[nodeIdx]
}
