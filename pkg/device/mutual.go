package device

import (
	"fmt"
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Mutual couples two or more inductors through a coupling coefficient k,
// stamping the branch-current cross terms M = k*sqrt(L1*L2) into each
// coupled inductor's branch equation. It carries no state of its own: the
// history it reads on each StampTransient call belongs to the inductors it
// couples.
type Mutual struct {
	BaseDevice
	inductors   []InductiveElement
	names       []string
	coefficient float64
}

var _ Biasing = (*Mutual)(nil)
var _ Frequency = (*Mutual)(nil)
var _ Transient = (*Mutual)(nil)

func NewMutual(name string, indNames []string, k float64) *Mutual {
	return &Mutual{
		BaseDevice:  BaseDevice{Name: name},
		names:       indNames,
		coefficient: k,
		inductors:   make([]InductiveElement, len(indNames)),
	}
}

func (mu *Mutual) GetType() string { return "K" }

func (mu *Mutual) SetInductor(index int, ind InductiveElement) error {
	if index < 0 || index >= len(mu.inductors) {
		return fmt.Errorf("invalid inductor index: %d", index)
	}
	mu.inductors[index] = ind
	return nil
}

func (mu *Mutual) GetInductor(index int) (InductiveElement, error) {
	if index < 0 || index >= len(mu.inductors) {
		return nil, fmt.Errorf("invalid inductor index: %d", index)
	}
	return mu.inductors[index], nil
}

func (mu *Mutual) GetInductors() []InductiveElement { return mu.inductors }
func (mu *Mutual) GetInductorNames() []string       { return mu.names }
func (mu *Mutual) GetNumInductors() int             { return len(mu.inductors) }
func (mu *Mutual) GetCoefficient() float64          { return mu.coefficient }

// Stamp adds nothing to the DC bias system beyond checking the inductor
// count; the coupling enters the branch equations through StampTransient
// and StampAC.
func (mu *Mutual) Stamp(m matrix.StampTarget, state *devstate.State) error {
	if len(mu.inductors) < 2 {
		return fmt.Errorf("mutual coupling %s requires at least two inductors", mu.Name)
	}
	return nil
}

func (mu *Mutual) DeclareState(h *integrate.History) {}

// StampTransient adds the cross-coupling term to every inductor pair's
// branch equation using the same general multistep companion model the
// inductors themselves use, rather than a fixed backward-Euler 1/dt: each
// pair contributes -Mij*ag[0] on the off-diagonal branch coefficient and
// an RHS term from the paired inductor's current history.
func (mu *Mutual) StampTransient(m matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	if len(mu.inductors) < 2 {
		return fmt.Errorf("mutual coupling %s requires at least two inductors", mu.Name)
	}
	if state.TimeStep <= 0 {
		return nil
	}

	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	ag := integrate.Coefficients(method, state.Order, state.TimeStep)

	for i := range mu.inductors {
		for j := i + 1; j < len(mu.inductors); j++ {
			li, lj := mu.inductors[i], mu.inductors[j]
			mij := mu.coefficient * math.Sqrt(li.GetValue()*lj.GetValue())
			bi, bj := li.BranchIndex(), lj.BranchIndex()

			nameI, nameJ := currentStateNameOf(li), currentStateNameOf(lj)
			historicI, historicJ := 0.0, 0.0
			for k := 1; k < len(ag); k++ {
				historicI += ag[k] * h.At(nameI, k-1)
				historicJ += ag[k] * h.At(nameJ, k-1)
			}

			if err := m.AddElement(bi, bj, -mij*ag[0]); err != nil {
				return err
			}
			if err := m.AddElement(bj, bi, -mij*ag[0]); err != nil {
				return err
			}
			if err := m.AddRHS(bi, mij*historicJ); err != nil {
				return err
			}
			if err := m.AddRHS(bj, mij*historicI); err != nil {
				return err
			}
		}
	}
	return nil
}

// currentStateNameOf reproduces the History key the coupled inductor
// declared for its own branch current, since Mutual has no state of its
// own to look up.
func currentStateNameOf(ind InductiveElement) string {
	switch v := ind.(type) {
	case *Inductor:
		return v.currentStateName()
	case *MagneticInductor:
		return v.currentStateName()
	default:
		return "K:" + ind.GetName() + ":i"
	}
}

func (mu *Mutual) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {}

func (mu *Mutual) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	return 0
}

func (mu *Mutual) StampAC(m matrix.StampTarget, state *devstate.State) error {
	if len(mu.inductors) < 2 {
		return fmt.Errorf("mutual coupling %s requires at least two inductors", mu.Name)
	}
	omega := 2 * math.Pi * state.Frequency
	n := len(mu.inductors)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			mij := mu.coefficient * math.Sqrt(mu.inductors[i].GetValue()*mu.inductors[j].GetValue())
			if mij == 0 {
				continue
			}
			bi, bj := mu.inductors[i].BranchIndex(), mu.inductors[j].BranchIndex()
			// Same sign convention as the inductor's own branch row:
			// v_i - jwL_i*i_i - jwM*i_j = 0.
			if err := m.AddComplexElement(bi, bj, 0, -omega*mij); err != nil {
				return err
			}
			if err := m.AddComplexElement(bj, bi, 0, -omega*mij); err != nil {
				return err
			}
		}
	}
	return nil
}
