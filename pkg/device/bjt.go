package device

import (
	"fmt"
	"math"

	"spicengine/internal/consts"
	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Bjt is the Gummel-Poon bipolar junction transistor model: forward/reverse
// diode currents with Early-voltage and high-level-injection corrections,
// junction and diffusion capacitance, and temperature-adjusted saturation
// current and beta.
type Bjt struct {
	BaseDevice

	// DC model parameters
	Is  float64
	Bf  float64
	Br  float64
	Nf  float64
	Nr  float64
	Vaf float64
	Var float64
	Ikf float64
	Ikr float64
	Ise float64
	Ne  float64
	Isc float64
	Nc  float64
	Rc  float64
	Re  float64
	Rb  float64
	Rbm float64
	Irb float64

	// AC & capacitance parameters
	Cje  float64
	Vje  float64
	Mje  float64
	Fc   float64
	Cjc  float64
	Vjc  float64
	Mjc  float64
	Xcjc float64
	Tf   float64
	Xtf  float64
	Vtf  float64
	Itf  float64
	Tr   float64

	// Temperature parameters
	Xtb  float64
	Eg   float64
	Xti  float64
	Tnom float64

	// Internal state
	vbe, vbc, vce float64
	ic, ib, ie    float64
	gm, gpi       float64
	gmu, gout     float64
}

var _ Biasing = (*Bjt)(nil)
var _ Frequency = (*Bjt)(nil)
var _ NonLinear = (*Bjt)(nil)
var _ Transient = (*Bjt)(nil)

func NewBJT(name string, nodeNames []string) *Bjt {
	if len(nodeNames) != 3 {
		panic(fmt.Sprintf("bjt %s: requires exactly 3 nodes", name))
	}
	b := &Bjt{BaseDevice: *NewBaseDevice(name, 0, nodeNames)}
	b.setDefaultParameters()
	return b
}

func (b *Bjt) GetType() string { return "Q" }

func (b *Bjt) setDefaultParameters() {
	b.Is = 1e-16
	b.Bf = 100.0
	b.Br = 1.0
	b.Nf = 1.0
	b.Nr = 1.0
	b.Vaf = 100.0
	b.Var = 100.0
	b.Ikf = 0.01
	b.Ikr = 0.01
	b.Ise = 0.0
	b.Ne = 1.5
	b.Isc = 0.0
	b.Nc = 2.0
	b.Rc = 0.0
	b.Re = 0.0
	b.Rb = 0.0
	b.Rbm = b.Rb
	b.Irb = 0.0

	b.Cje = 0.0
	b.Vje = 0.75
	b.Mje = 0.33
	b.Fc = 0.5
	b.Cjc = 0.0
	b.Vjc = 0.75
	b.Mjc = 0.33
	b.Xcjc = 1.0
	b.Tf = 0.0
	b.Xtf = 0.0
	b.Vtf = 0.0
	b.Itf = 0.0
	b.Tr = 0.0

	b.Xtb = 0.0
	b.Eg = 1.11
	b.Xti = 3.0
	b.Tnom = 300.15
}

func (b *Bjt) SetModelParameters(params map[string]float64) {
	set := map[string]*float64{
		"is": &b.Is, "bf": &b.Bf, "br": &b.Br, "nf": &b.Nf, "nr": &b.Nr,
		"vaf": &b.Vaf, "var": &b.Var, "ikf": &b.Ikf, "ikr": &b.Ikr,
		"ise": &b.Ise, "ne": &b.Ne, "isc": &b.Isc, "nc": &b.Nc,
		"rc": &b.Rc, "re": &b.Re, "rb": &b.Rb, "rbm": &b.Rbm, "irb": &b.Irb,
		"cje": &b.Cje, "vje": &b.Vje, "mje": &b.Mje, "fc": &b.Fc,
		"cjc": &b.Cjc, "vjc": &b.Vjc, "mjc": &b.Mjc, "xcjc": &b.Xcjc,
		"tf": &b.Tf, "xtf": &b.Xtf, "vtf": &b.Vtf, "itf": &b.Itf, "tr": &b.Tr,
		"xtb": &b.Xtb, "eg": &b.Eg, "xti": &b.Xti, "tnom": &b.Tnom,
	}
	for key, dst := range set {
		if v, ok := params[key]; ok {
			*dst = v
		}
	}
}

func (b *Bjt) thermalVoltage(temp float64) float64 {
	if temp <= 0 {
		temp = 300.15
	}
	return consts.BOLTZMANN * temp / consts.CHARGE
}

func (b *Bjt) temperatureAdjustedIs(temp float64) float64 {
	ratio := temp / b.Tnom
	vg := b.Eg * consts.CHARGE
	dvg := vg * (1 - temp/b.Tnom)
	arg := dvg/(consts.BOLTZMANN*temp) + b.Xti*math.Log(ratio)
	return b.Is * math.Pow(ratio, b.Xti/b.Nf) * math.Exp(arg)
}

func (b *Bjt) temperatureAdjustedBeta(temp float64) (float64, float64) {
	ratio := temp / b.Tnom
	return b.Bf * math.Pow(ratio, b.Xtb), b.Br * math.Pow(ratio, b.Xtb)
}

func (b *Bjt) calculateCurrents(vbe, vbc, temp float64) (float64, float64, float64) {
	vt := b.thermalVoltage(temp)
	isT := b.temperatureAdjustedIs(temp)
	bfT, brT := b.temperatureAdjustedBeta(temp)

	iF, _ := b.diodeCurrentSlope(vbe, isT, vt)
	iR, _ := b.diodeCurrentSlope(vbc, isT, vt)

	qb := b.calculateChargeFactor(vbe, vbc, iF, iR)
	if b.Vaf > 0 {
		iF *= 1.0 + vbc/math.Max(b.Vaf, 1e-10)
	}
	if b.Var > 0 {
		iR *= 1.0 + vbe/math.Max(b.Var, 1e-10)
	}
	if b.Ikf > 0 {
		iF /= 1.0 + math.Abs(iF/(b.Ikf*qb))
	}
	if b.Ikr > 0 {
		iR /= 1.0 + math.Abs(iR/(b.Ikr*qb))
	}

	ib := iF/bfT + iR/brT
	ic := iF - iR
	ie := -(ic + ib)
	return ic, ib, ie
}

func (b *Bjt) calculateChargeFactor(vbe, vbc, iF, iR float64) float64 {
	q1 := 1.0
	if b.Vaf > 0 || b.Var > 0 {
		q1 = 1.0 / (1.0 - vbc/math.Max(b.Vaf, 1e-10) - vbe/math.Max(b.Var, 1e-10))
	}
	q2 := 0.0
	if b.Ikf > 0 {
		q2 += iF / b.Ikf
	}
	if b.Ikr > 0 {
		q2 += iR / b.Ikr
	}
	return q1 * (1.0 + (1.0+4.0*q2)*0.5)
}

func (b *Bjt) calculateConductances(vbe, vbc, ic, ib, temp float64) (gm, gpi, gmu, gout float64) {
	vt := b.thermalVoltage(temp)
	isT := b.temperatureAdjustedIs(temp)
	const gmin = 1e-12

	gm = math.Max(math.Abs(ic)/(b.Nf*vt), gmin)
	gpi = math.Max(math.Abs(ib)/(b.Nf*vt), gmin)

	gmu = gmin
	if vbc > -3.0*b.Nr*vt {
		gmu = math.Max(isT*math.Exp(vbc/(b.Nr*vt))/(b.Nr*vt), gmin)
	}

	gout = gmin
	if b.Vaf > 0 {
		gout += math.Abs(ic) / math.Max(b.Vaf, 1.0)
	}
	return
}

// calculateCapacitances returns the base-emitter and base-collector
// small-signal capacitance: junction depletion capacitance plus the
// diffusion term contributed by forward/reverse transit time.
func (b *Bjt) calculateCapacitances(vbe, vbc float64) (cbe, cbc float64) {
	cbe = b.Cje
	cbc = b.Cjc
	if b.Tf > 0 {
		cbe += b.Tf * b.gm
	}
	if b.Tr > 0 {
		cbc += b.Tr * b.gmu
	}
	return
}

func (b *Bjt) Stamp(m matrix.StampTarget, state *devstate.State) error {
	if state.Mode == devstate.AC {
		return b.StampAC(m, state)
	}

	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]

	if b.vbe == 0 && b.vce == 0 {
		b.vbe = 0.7
		b.vce = 0.3
		b.vbc = b.vbe - b.vce
		return nil
	}

	b.ic, b.ib, b.ie = b.calculateCurrents(b.vbe, b.vbc, state.Temp)
	b.gm, b.gpi, b.gmu, b.gout = b.calculateConductances(b.vbe, b.vbc, b.ic, b.ib, state.Temp)

	gmin := state.Gmin
	b.gpi += gmin
	b.gmu += gmin
	b.gout += gmin

	if nc != 0 {
		if err := m.AddElement(nc, nc, b.gout+b.gmu); err != nil {
			return err
		}
		if nb != 0 {
			if err := m.AddElement(nc, nb, -b.gmu); err != nil {
				return err
			}
		}
		if ne != 0 {
			if err := m.AddElement(nc, ne, -b.gout-b.gm); err != nil {
				return err
			}
		}
		if err := m.AddRHS(nc, -(b.ic - b.gout*b.vce + b.gmu*b.vbc)); err != nil {
			return err
		}
	}

	if nb != 0 {
		if err := m.AddElement(nb, nb, b.gpi+b.gmu); err != nil {
			return err
		}
		if nc != 0 {
			if err := m.AddElement(nb, nc, -b.gmu); err != nil {
				return err
			}
		}
		if ne != 0 {
			if err := m.AddElement(nb, ne, -b.gpi); err != nil {
				return err
			}
		}
		if err := m.AddRHS(nb, -(b.ib + b.gmu*b.vbc + b.gpi*b.vbe)); err != nil {
			return err
		}
	}

	if ne != 0 {
		if err := m.AddElement(ne, ne, b.gout+b.gm+b.gpi); err != nil {
			return err
		}
		if nc != 0 {
			if err := m.AddElement(ne, nc, -b.gout); err != nil {
				return err
			}
		}
		if nb != 0 {
			if err := m.AddElement(ne, nb, -b.gpi-b.gm); err != nil {
				return err
			}
		}
		if err := m.AddRHS(ne, -(b.ie + b.gout*b.vce + b.gpi*b.vbe + b.gm*b.vbe)); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bjt) StampAC(m matrix.StampTarget, state *devstate.State) error {
	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]
	cbe, cbc := b.calculateCapacitances(b.vbe, b.vbc)
	omega := 2 * math.Pi * state.Frequency

	if nb != 0 {
		if err := m.AddComplexElement(nb, nb, b.gpi+b.gmu, omega*(cbe+cbc)); err != nil {
			return err
		}
		if nc != 0 {
			if err := m.AddComplexElement(nb, nc, -b.gmu, -omega*cbc); err != nil {
				return err
			}
		}
	}
	if nc != 0 {
		if nb != 0 {
			if err := m.AddComplexElement(nc, nb, -b.gmu+b.gm, -omega*cbc); err != nil {
				return err
			}
		}
		if err := m.AddComplexElement(nc, nc, b.gout+b.gmu, omega*cbc); err != nil {
			return err
		}
	}
	if ne == 0 {
		if nb != 0 {
			if err := m.AddComplexElement(nb, nb, b.gpi+b.gm, omega*cbe); err != nil {
				return err
			}
		}
		if nc != 0 {
			if err := m.AddComplexElement(nc, nc, b.gout+b.gm, 0); err != nil {
				return err
			}
		}
		if nb != 0 && nc != 0 {
			if err := m.AddComplexElement(nc, nb, b.gm, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateVoltages re-linearizes around the Newton iterate's two junction
// voltages, each clamped by the shared limitJunctionVoltage helper instead
// of the separate flat 0.8V/-5V clamps a simpler model would use.
func (b *Bjt) UpdateVoltages(voltages []float64) error {
	if len(b.Nodes) != 3 {
		return fmt.Errorf("bjt %s: requires exactly 3 nodes", b.Name)
	}
	var vc, vb, ve float64
	if b.Nodes[0] != 0 {
		vc = voltages[b.Nodes[0]]
	}
	if b.Nodes[1] != 0 {
		vb = voltages[b.Nodes[1]]
	}
	if b.Nodes[2] != 0 {
		ve = voltages[b.Nodes[2]]
	}

	vt := b.thermalVoltage(300.15)
	isT := b.temperatureAdjustedIs(300.15)

	b.vbe = limitJunctionVoltage(vb-ve, b.vbe, b.Nf*vt, isT)
	b.vbc = limitJunctionVoltage(vb-vc, b.vbc, b.Nr*vt, isT)
	b.vce = vc - ve
	return nil
}

func (b *Bjt) limitVoltage(v, vt float64) float64 {
	arg := v / vt
	if arg > 40.0 {
		return 40.0 * vt
	}
	if arg < math.Log(1e-40) {
		return math.Log(1e-40) * vt
	}
	return v
}

func (b *Bjt) diodeCurrentSlope(v, is, vt float64) (current, conductance float64) {
	if v < -3.0*vt {
		return -is, 0.0
	}
	arg := b.limitVoltage(v, vt) / vt
	ev := b.limitExp(arg)
	return is * (ev - 1.0), is * ev / vt
}

func (b *Bjt) limitExp(x float64) float64 {
	if x > 80.0 {
		return math.Exp(80.0)
	}
	if x < -80.0 {
		return math.Exp(-80.0)
	}
	return math.Exp(x)
}

// ReadProperty exposes the transistor's solved internal quantities by
// name; the switch doubles as the device's static property table.
func (b *Bjt) ReadProperty(name string) (float64, bool) {
	switch name {
	case "vbe":
		return b.vbe, true
	case "vbc":
		return b.vbc, true
	case "vce":
		return b.vce, true
	case "ic":
		return b.ic, true
	case "ib":
		return b.ib, true
	case "ie":
		return b.ie, true
	case "gm":
		return b.gm, true
	}
	return 0, false
}

func (b *Bjt) vbeStateName() string { return "Q:" + b.Name + ":vbe" }
func (b *Bjt) vbcStateName() string { return "Q:" + b.Name + ":vbc" }

func (b *Bjt) DeclareState(h *integrate.History) {
	h.Declare(b.vbeStateName())
	h.Declare(b.vbcStateName())
}

// StampTransient adds the resistive Gummel-Poon stamp plus a companion
// model for the base-emitter and base-collector junction capacitances,
// following the same general multistep pattern Capacitor uses: each
// junction's capacitance at the current operating point becomes an
// equivalent conductance ag[0]*C across its two terminals, with the
// history of past junction voltages folded into an RHS current source.
func (b *Bjt) StampTransient(m matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	if err := b.Stamp(m, state); err != nil {
		return err
	}
	if state.TimeStep <= 0 {
		return nil
	}

	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]
	cbe, cbc := b.calculateCapacitances(b.vbe, b.vbc)

	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	ag := integrate.Coefficients(method, state.Order, state.TimeStep)

	// Stamped even when c is momentarily zero: the matrix positions must
	// exist in the frozen pattern for the bias points where it isn't.
	stampJunction := func(n1, n2 int, c float64, stateName string) error {
		geq := c * ag[0]
		historic := 0.0
		for k := 1; k < len(ag); k++ {
			historic += ag[k] * h.At(stateName, k-1)
		}
		ieq := -c * historic
		if err := stampConductance(m, n1, n2, geq); err != nil {
			return err
		}
		if n1 != 0 {
			if err := m.AddRHS(n1, ieq); err != nil {
				return err
			}
		}
		if n2 != 0 {
			if err := m.AddRHS(n2, -ieq); err != nil {
				return err
			}
		}
		return nil
	}

	if err := stampJunction(nb, ne, cbe, b.vbeStateName()); err != nil {
		return err
	}
	return stampJunction(nb, nc, cbc, b.vbcStateName())
}

func (b *Bjt) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {
	h.Push(b.vbeStateName(), b.vbe)
	h.Push(b.vbcStateName(), b.vbc)
}

func (b *Bjt) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	dt := state.TimeStep
	if dt <= 0 {
		return 0
	}
	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	lteConst := integrate.LTEConstant(method, state.Order)
	cbe, cbc := b.calculateCapacitances(b.vbe, b.vbc)

	vbeNew, vbeOld := b.vbe, h.At(b.vbeStateName(), state.Order-1)
	vbcNew, vbcOld := b.vbc, h.At(b.vbcStateName(), state.Order-1)

	dqbe := cbe * math.Abs(vbeNew-vbeOld)
	dqbc := cbc * math.Abs(vbcNew-vbcOld)
	return lteConst * math.Max(dqbe, dqbc) / dt
}
