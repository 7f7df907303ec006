package device

import (
	"fmt"
	"math"

	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/matrix"
)

// Mosfet is a Levels 1-3 MOSFET: Shockley square-law (1), Grove-Frohman
// mobility-degraded (2), and the semi-empirical level 3 model, each with a
// Meyer gate capacitance split by operating region plus voltage-dependent
// bulk junction capacitance.
type Mosfet struct {
	BaseDevice
	Type  string
	Level int

	L, W     float64
	AD, AS   float64
	PD, PS   float64
	NRD, NRS float64

	VTO, KP     float64
	GAMMA, PHI  float64
	LAMBDA      float64
	RD, RS, RSH float64
	IS, JS, N   float64

	CBD, CBS           float64
	CGSO, CGDO, CGBO   float64
	CJ, MJ, CJSW, MJSW float64
	PB, FC             float64

	TOX, NSUB, NSS, NFS   float64
	TPG                   float64
	XJ, LD                float64
	UO, UCRIT, UEXP       float64
	UTRA, VMAX, NEFF, XQC float64

	DELTA, THETA, ETA, KAPPA float64

	TNOM, KF, AF float64

	vgs, vds, vbs float64
	vgd, vbd      float64

	id   float64
	gm   float64
	gds  float64
	gmbs float64
	cgs  float64
	cgd  float64
	cgb  float64

	region int
}

const (
	CUTOFF     = 0
	LINEAR     = 1
	SATURATION = 2
)

var _ Biasing = (*Mosfet)(nil)
var _ Frequency = (*Mosfet)(nil)
var _ NonLinear = (*Mosfet)(nil)
var _ Transient = (*Mosfet)(nil)

func NewMosfet(name string, nodeNames []string) *Mosfet {
	if len(nodeNames) != 4 {
		panic(fmt.Sprintf("mosfet %s: requires exactly 4 nodes (drain, gate, source, bulk)", name))
	}
	m := &Mosfet{BaseDevice: *NewBaseDevice(name, 0, nodeNames), Type: "NMOS", Level: 1}
	m.setDefaultParameters()
	return m
}

func (m *Mosfet) GetType() string { return "M" }

func (m *Mosfet) setDefaultParameters() {
	m.L, m.W = 10e-6, 10e-6
	m.NRD, m.NRS = 1.0, 1.0

	m.VTO = 0.7
	m.KP = 2e-5
	m.GAMMA = 0.5
	m.PHI = 0.6
	m.LAMBDA = 0.01
	m.IS = 1e-14
	m.N = 1.0

	m.MJ = 0.5
	m.MJSW = 0.33
	m.PB = 0.8
	m.FC = 0.5

	m.TOX = 1e-7
	m.NSUB = 1e16
	m.TPG = 1.0
	m.UO = 600.0
	m.UCRIT = 1e4
	m.NEFF = 1.0
	m.XQC = 0.6

	m.KAPPA = 0.2

	m.TNOM = 300.15
	m.AF = 1.0
}

func (m *Mosfet) SetModelParameters(params map[string]float64) {
	if levelVal, ok := params["level"]; ok {
		m.Level = int(levelVal)
	}
	if typeVal, ok := params["type"]; ok {
		if typeVal == 1.0 {
			m.Type = "PMOS"
		} else {
			m.Type = "NMOS"
		}
	}

	set := map[string]*float64{
		"l": &m.L, "w": &m.W, "ad": &m.AD, "as": &m.AS, "pd": &m.PD, "ps": &m.PS,
		"nrd": &m.NRD, "nrs": &m.NRS,
		"vto": &m.VTO, "kp": &m.KP, "gamma": &m.GAMMA, "phi": &m.PHI, "lambda": &m.LAMBDA,
		"rd": &m.RD, "rs": &m.RS, "rsh": &m.RSH, "is": &m.IS, "js": &m.JS, "n": &m.N,
		"cbd": &m.CBD, "cbs": &m.CBS, "cgso": &m.CGSO, "cgdo": &m.CGDO, "cgbo": &m.CGBO,
		"cj": &m.CJ, "mj": &m.MJ, "cjsw": &m.CJSW, "mjsw": &m.MJSW, "pb": &m.PB, "fc": &m.FC,
		"tox": &m.TOX, "nsub": &m.NSUB, "nss": &m.NSS, "nfs": &m.NFS, "tpg": &m.TPG,
		"xj": &m.XJ, "ld": &m.LD, "uo": &m.UO, "ucrit": &m.UCRIT, "uexp": &m.UEXP,
		"utra": &m.UTRA, "vmax": &m.VMAX, "neff": &m.NEFF, "xqc": &m.XQC,
		"delta": &m.DELTA, "theta": &m.THETA, "eta": &m.ETA, "kappa": &m.KAPPA,
		"tnom": &m.TNOM, "kf": &m.KF, "af": &m.AF,
	}
	for key, dst := range set {
		if v, ok := params[key]; ok {
			*dst = v
		}
	}
}

func (m *Mosfet) calculateVth(vbs float64) float64 {
	vt0 := m.VTO
	if m.GAMMA > 0 {
		vth := vt0 + m.GAMMA*(math.Sqrt(math.Max(0, m.PHI-vbs))-math.Sqrt(m.PHI))
		if m.Type == "PMOS" {
			vth = -vth
		}
		return vth
	}
	if m.Type == "PMOS" {
		return -vt0
	}
	return vt0
}

func (m *Mosfet) calculateCurrents(vgs, vds, vbs, temp float64) (float64, int) {
	sign := 1.0
	if m.Type == "PMOS" {
		vgs, vds, vbs = -vgs, -vds, -vbs
		sign = -1.0
	}

	vth := m.calculateVth(vbs)
	vgst := vgs - vth
	if vgst <= 0 {
		return 0.0, CUTOFF
	}

	var id float64
	var region int
	switch m.Level {
	case 2:
		id, region = m.calculateLevel2Current(vgs, vds, vbs, vth, temp)
	case 3:
		id, region = m.calculateLevel3Current(vgs, vds, vbs, vth, temp)
	default:
		id, region = m.calculateLevel1Current(vgs, vds, vbs, vth, temp)
	}
	return sign * id, region
}

func (m *Mosfet) calculateLevel1Current(vgs, vds, vbs, vth, temp float64) (float64, int) {
	vgst := vgs - vth
	beta := m.KP * m.W / m.L
	if vds < vgst {
		return beta * (vgst*vds - 0.5*vds*vds) * (1.0 + m.LAMBDA*vds), LINEAR
	}
	return 0.5 * beta * vgst * vgst * (1.0 + m.LAMBDA*vds), SATURATION
}

func (m *Mosfet) calculateLevel2Current(vgs, vds, vbs, vth, temp float64) (float64, int) {
	vgst := vgs - vth

	eps0 := 8.85e-14
	epsox := 3.9 * eps0
	cox := epsox / m.TOX

	eeff := vgst / (m.TOX * 100)
	ueff := m.UO
	if m.UCRIT > 0 && eeff > 0 {
		ueff /= 1.0 + math.Pow(eeff/m.UCRIT, m.UEXP)
	}

	vdsat := vgst
	if m.VMAX > 0 {
		ecrit := m.VMAX / ueff * 100
		vdsat = math.Min(vgst, ecrit*m.L)
	}

	beta := ueff * cox * m.W / (m.L * 100)

	if vds < vdsat {
		return beta * (vgst*vds - 0.5*vds*vds) * (1.0 + m.LAMBDA*vds), LINEAR
	}
	return 0.5 * beta * vdsat * vdsat * (1.0 + m.LAMBDA*vds), SATURATION
}

func (m *Mosfet) calculateLevel3Current(vgs, vds, vbs, vth, temp float64) (float64, int) {
	vgst := vgs - vth

	vgstEff := vgst
	if m.THETA > 0 {
		vgstEff = vgst / (1.0 + m.THETA*vgst)
	}

	vdsat := vgstEff
	if m.KAPPA > 0 {
		vdsat = vgstEff / math.Sqrt(1.0+m.KAPPA*vgstEff)
	}

	beta := m.KP * m.W / m.L
	if m.DELTA > 0 {
		beta /= 1.0 + m.DELTA/m.W
	}

	if vds < vdsat {
		return beta * (vgstEff*vds - 0.5*vds*vds/(1.0+m.KAPPA*vgstEff)) * (1.0 + m.LAMBDA*vds), LINEAR
	}
	return 0.5 * beta * vdsat * vdsat * (1.0 + m.LAMBDA*vds), SATURATION
}

func (m *Mosfet) calculateConductances() {
	sign := 1.0
	if m.Type == "PMOS" {
		sign = -1.0
	}
	vgs, vds, vbs := m.vgs*sign, m.vds*sign, m.vbs*sign
	vth := m.calculateVth(vbs)
	vgst := vgs - vth
	beta := m.KP * m.W / m.L
	const gmin = 1e-12

	if m.region == CUTOFF {
		m.gm, m.gds, m.gmbs = gmin, gmin, gmin
		return
	}

	if m.GAMMA > 0 && m.PHI > 0 && vbs < 0 {
		m.gmbs = m.gm * m.GAMMA / (2.0 * math.Sqrt(m.PHI-vbs))
	} else {
		m.gmbs = gmin
	}

	switch m.Level {
	case 1:
		if m.region == LINEAR {
			m.gm = beta * vds * (1.0 + m.LAMBDA*vds)
			m.gds = beta*(vgst-vds)*(1.0+m.LAMBDA*vds) + beta*m.LAMBDA*(vgst*vds-0.5*vds*vds)
		} else {
			m.gm = beta * vgst * (1.0 + m.LAMBDA*vds)
			m.gds = 0.5 * beta * vgst * vgst * m.LAMBDA
		}
	default:
		delta := 1e-6
		id0 := m.id
		idg, _ := m.calculateCurrents(vgs+delta, vds, vbs, 300.15)
		m.gm = math.Max((idg-id0)/delta, gmin)
		idd, _ := m.calculateCurrents(vgs, vds+delta, vbs, 300.15)
		m.gds = math.Max((idd-id0)/delta, gmin)
		idb, _ := m.calculateCurrents(vgs, vds, vbs+delta, 300.15)
		m.gmbs = math.Max((idb-id0)/delta, gmin)
	}

	m.gm *= sign
	m.gmbs *= sign
}

func (m *Mosfet) calculateCapacitances() {
	cox := 3.9 * 8.85e-14 / m.TOX
	cgate := cox * m.W * m.L

	cgso := m.CGSO * m.W
	cgdo := m.CGDO * m.W
	cgbo := m.CGBO * m.L

	if m.CBS == 0 && m.CJ > 0 {
		m.CBS = m.CJ*m.AS + m.CJSW*m.PS
	}
	if m.CBD == 0 && m.CJ > 0 {
		m.CBD = m.CJ*m.AD + m.CJSW*m.PD
	}

	switch m.region {
	case CUTOFF:
		m.cgb = 2.0 * cgate / 3.0
		m.cgs = cgso
		m.cgd = cgdo
	case LINEAR:
		m.cgs = cgate/2.0 + cgso
		m.cgd = cgate/2.0 + cgdo
		m.cgb = cgbo
	case SATURATION:
		m.cgs = 2.0*cgate/3.0 + cgso
		m.cgd = cgdo
		m.cgb = cgbo + cgate/3.0
	}
}

// junctionCap is the voltage-dependent bulk junction capacitance shared by
// the bulk-source and bulk-drain terminals.
func junctionCap(cj0, v, pb, mj float64) float64 {
	if cj0 == 0 {
		return 0
	}
	if v < 0 {
		arg := 1 - v/pb
		if arg < 0.1 {
			arg = 0.1
		}
		return cj0 / math.Pow(arg, mj)
	}
	return cj0 * (1 + mj*v/pb)
}

func (m *Mosfet) UpdateVoltages(voltages []float64) error {
	nodeD, nodeG, nodeS, nodeB := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]

	var vg, vd, vs, vb float64
	if nodeG != 0 {
		vg = voltages[nodeG]
	}
	if nodeD != 0 {
		vd = voltages[nodeD]
	}
	if nodeS != 0 {
		vs = voltages[nodeS]
	}
	if nodeB != 0 {
		vb = voltages[nodeB]
	}

	typeValue := 1.0
	if m.Type == "PMOS" {
		typeValue = -1.0
	}

	m.vgs = typeValue * (vg - vs)
	m.vds = typeValue * (vd - vs)
	m.vbs = typeValue * (vb - vs)
	m.vgd = m.vgs - m.vds
	m.vbd = m.vbs - m.vds
	return nil
}

func (m *Mosfet) Stamp(target matrix.StampTarget, state *devstate.State) error {
	if state.Mode == devstate.AC {
		return m.StampAC(target, state)
	}

	nd, ng, ns, nb := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]

	if m.vgs == 0 && m.vds == 0 && m.vbs == 0 {
		if m.Type == "NMOS" {
			m.vgs, m.vds = 0.7, 0.1
		} else {
			m.vgs, m.vds = -0.7, -0.1
		}
		m.vbs = 0.0
		m.vgd = m.vgs - m.vds
		m.vbd = m.vbs - m.vds
	}

	m.id, m.region = m.calculateCurrents(m.vgs, m.vds, m.vbs, state.Temp)
	m.calculateConductances()
	m.calculateCapacitances()

	gmin := state.Gmin

	if nd != 0 {
		if err := target.AddElement(nd, nd, m.gds+gmin); err != nil {
			return err
		}
		if ng != 0 {
			if err := target.AddElement(nd, ng, m.gm); err != nil {
				return err
			}
		}
		if ns != 0 {
			if err := target.AddElement(nd, ns, -m.gds-m.gm-m.gmbs); err != nil {
				return err
			}
		}
		if nb != 0 {
			if err := target.AddElement(nd, nb, m.gmbs); err != nil {
				return err
			}
		}
		if err := target.AddRHS(nd, -m.id+m.gds*m.vds+m.gm*m.vgs+m.gmbs*m.vbs); err != nil {
			return err
		}
	}

	if ns != 0 {
		if err := target.AddElement(ns, ns, m.gds+m.gm+m.gmbs+gmin); err != nil {
			return err
		}
		if nd != 0 {
			if err := target.AddElement(ns, nd, -m.gds); err != nil {
				return err
			}
		}
		if ng != 0 {
			if err := target.AddElement(ns, ng, -m.gm); err != nil {
				return err
			}
		}
		if nb != 0 {
			if err := target.AddElement(ns, nb, -m.gmbs); err != nil {
				return err
			}
		}
		if err := target.AddRHS(ns, m.id-m.gds*m.vds-m.gm*m.vgs-m.gmbs*m.vbs); err != nil {
			return err
		}
	}

	return nil
}

func (m *Mosfet) StampAC(target matrix.StampTarget, state *devstate.State) error {
	nd, ng, ns, nb := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]
	m.calculateCapacitances()
	omega := 2.0 * math.Pi * state.Frequency

	cgsi := omega * m.cgs
	cgdi := omega * m.cgd
	cgbi := omega * m.cgb
	cbsi := omega * junctionCap(m.CBS, m.vbs, m.PB, m.MJ)
	cbdi := omega * junctionCap(m.CBD, m.vbd, m.PB, m.MJ)

	if nd != 0 {
		if err := target.AddComplexElement(nd, nd, m.gds, 0); err != nil {
			return err
		}
		if ng != 0 {
			if err := target.AddComplexElement(nd, ng, m.gm, cgdi); err != nil {
				return err
			}
		}
		if ns != 0 {
			if err := target.AddComplexElement(nd, ns, -m.gds-m.gm-m.gmbs, 0); err != nil {
				return err
			}
		}
		if nb != 0 {
			if err := target.AddComplexElement(nd, nb, m.gmbs, cbdi); err != nil {
				return err
			}
		}
	}

	if ns != 0 {
		if err := target.AddComplexElement(ns, ns, m.gds+m.gm+m.gmbs, 0); err != nil {
			return err
		}
		if nd != 0 {
			if err := target.AddComplexElement(ns, nd, -m.gds, 0); err != nil {
				return err
			}
		}
		if ng != 0 {
			if err := target.AddComplexElement(ns, ng, -m.gm, cgsi); err != nil {
				return err
			}
		}
		if nb != 0 {
			if err := target.AddComplexElement(ns, nb, -m.gmbs, cbsi); err != nil {
				return err
			}
		}
	}

	if ng != 0 {
		if err := target.AddComplexElement(ng, ng, 0, cgsi+cgdi+cgbi); err != nil {
			return err
		}
		if nd != 0 {
			if err := target.AddComplexElement(ng, nd, 0, cgdi); err != nil {
				return err
			}
		}
		if ns != 0 {
			if err := target.AddComplexElement(ng, ns, 0, cgsi); err != nil {
				return err
			}
		}
		if nb != 0 {
			if err := target.AddComplexElement(ng, nb, 0, cgbi); err != nil {
				return err
			}
		}
	}

	if nb != 0 {
		if err := target.AddComplexElement(nb, nb, 0, cbsi+cbdi+cgbi); err != nil {
			return err
		}
		if nd != 0 {
			if err := target.AddComplexElement(nb, nd, 0, cbdi); err != nil {
				return err
			}
		}
		if ns != 0 {
			if err := target.AddComplexElement(nb, ns, 0, cbsi); err != nil {
				return err
			}
		}
		if ng != 0 {
			if err := target.AddComplexElement(nb, ng, 0, cgbi); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Mosfet) vgsName() string { return "M:" + m.Name + ":vgs" }
func (m *Mosfet) vgdName() string { return "M:" + m.Name + ":vgd" }
func (m *Mosfet) vgbName() string { return "M:" + m.Name + ":vgb" }
func (m *Mosfet) vbsName() string { return "M:" + m.Name + ":vbs" }
func (m *Mosfet) vbdName() string { return "M:" + m.Name + ":vbd" }

func (m *Mosfet) DeclareState(h *integrate.History) {
	h.Declare(m.vgsName())
	h.Declare(m.vgdName())
	h.Declare(m.vgbName())
	h.Declare(m.vbsName())
	h.Declare(m.vbdName())
}

// StampTransient adds the resistive channel stamp plus the general
// multistep companion model for the five Meyer/junction capacitances
// (gate-source, gate-drain, gate-bulk, bulk-source, bulk-drain), the same
// pattern Capacitor and Bjt use rather than the fixed backward-Euler
// dq/dt a simpler model would use.
func (m *Mosfet) StampTransient(target matrix.StampTarget, state *devstate.State, h *integrate.History) error {
	if err := m.Stamp(target, state); err != nil {
		return err
	}
	if state.TimeStep <= 0 {
		return nil
	}

	nd, ng, ns, nb := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]
	m.calculateCapacitances()
	cbs := junctionCap(m.CBS, m.vbs, m.PB, m.MJ)
	cbd := junctionCap(m.CBD, m.vbd, m.PB, m.MJ)

	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	ag := integrate.Coefficients(method, state.Order, state.TimeStep)

	// Stamped even when c is momentarily zero (Meyer capacitances vanish
	// region by region): the matrix positions must exist in the frozen
	// pattern for the bias points where they don't.
	stampCap := func(n1, n2 int, c float64, stateName string) error {
		geq := c * ag[0]
		historic := 0.0
		for k := 1; k < len(ag); k++ {
			historic += ag[k] * h.At(stateName, k-1)
		}
		ieq := -c * historic
		if err := stampConductance(target, n1, n2, geq); err != nil {
			return err
		}
		if n1 != 0 {
			if err := target.AddRHS(n1, ieq); err != nil {
				return err
			}
		}
		if n2 != 0 {
			if err := target.AddRHS(n2, -ieq); err != nil {
				return err
			}
		}
		return nil
	}

	if err := stampCap(ng, ns, m.cgs, m.vgsName()); err != nil {
		return err
	}
	if err := stampCap(ng, nd, m.cgd, m.vgdName()); err != nil {
		return err
	}
	if err := stampCap(ng, nb, m.cgb, m.vgbName()); err != nil {
		return err
	}
	if err := stampCap(nb, ns, cbs, m.vbsName()); err != nil {
		return err
	}
	return stampCap(nb, nd, cbd, m.vbdName())
}

func (m *Mosfet) AcceptStep(h *integrate.History, voltages []float64, state *devstate.State) {
	h.Push(m.vgsName(), m.vgs)
	h.Push(m.vgdName(), m.vgd)
	h.Push(m.vgbName(), m.vgs-m.vbs)
	h.Push(m.vbsName(), m.vbs)
	h.Push(m.vbdName(), m.vbd)
}

func (m *Mosfet) LocalTruncationError(h *integrate.History, voltages []float64, state *devstate.State) float64 {
	dt := state.TimeStep
	if dt <= 0 {
		return 0
	}
	method := integrate.TrapezoidalMethod
	if state.Method == devstate.Gear {
		method = integrate.GearMethod
	}
	lteConst := integrate.LTEConstant(method, state.Order)

	trial := map[string]float64{
		m.vgsName(): m.vgs,
		m.vgdName(): m.vgd,
		m.vgbName(): m.vgs - m.vbs,
		m.vbsName(): m.vbs,
		m.vbdName(): m.vbd,
	}
	dq := func(name string, c float64) float64 {
		vNew, vOld := trial[name], h.At(name, state.Order-1)
		return c * math.Abs(vNew-vOld)
	}
	cbs := junctionCap(m.CBS, m.vbs, m.PB, m.MJ)
	cbd := junctionCap(m.CBD, m.vbd, m.PB, m.MJ)

	worst := dq(m.vgsName(), m.cgs)
	worst = math.Max(worst, dq(m.vgdName(), m.cgd))
	worst = math.Max(worst, dq(m.vgbName(), m.cgb))
	worst = math.Max(worst, dq(m.vbsName(), cbs))
	worst = math.Max(worst, dq(m.vbdName(), cbd))
	return lteConst * worst / dt
}

// ReadProperty exposes the MOSFET's solved internal quantities by name;
// the switch doubles as the device's static property table.
func (m *Mosfet) ReadProperty(name string) (float64, bool) {
	switch name {
	case "vgs":
		return m.vgs, true
	case "vds":
		return m.vds, true
	case "vbs":
		return m.vbs, true
	case "id":
		return m.id, true
	case "gm":
		return m.gm, true
	case "gds":
		return m.gds, true
	}
	return 0, false
}

func (m *Mosfet) GetVgs() float64 { return m.vgs }
func (m *Mosfet) GetVds() float64 { return m.vds }
func (m *Mosfet) GetVbs() float64 { return m.vbs }
func (m *Mosfet) GetId() float64  { return m.id }
func (m *Mosfet) GetGm() float64  { return m.gm }
func (m *Mosfet) GetGds() float64 { return m.gds }
func (m *Mosfet) GetRegion() int  { return m.region }
