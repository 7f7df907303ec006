package device

import "math"

// limitJunctionVoltage damps a pn-junction voltage step the way every
// SPICE derivative does: past a few thermal voltages of forward bias the
// exponential diode/BJT current law blows up long before Newton's linear
// step would otherwise settle. When vnew lies above vcrit and differs from
// vold by more than 2*vt, the step is compressed logarithmically: to
// vold + vt*ln(1 + (vnew-vold)/vt) when vold > 0 (vcrit if that log's
// argument is not positive), and to vt*ln(vnew/vt) when vold <= 0.
// vcrit is the voltage where the exponential's
// curvature itself equals 1/vt, i.e. vt*ln(vt/(sqrt2*isat)).
func limitJunctionVoltage(vnew, vold, vt, isat float64) float64 {
	vcrit := vt * math.Log(vt/(math.Sqrt2*isat))
	if isat <= 0 {
		return vnew
	}
	if vnew > vcrit && math.Abs(vnew-vold) > 2*vt {
		if vold > 0 {
			arg := 1 + (vnew-vold)/vt
			if arg > 0 {
				vnew = vold + vt*math.Log(arg)
			} else {
				vnew = vcrit
			}
		} else {
			vnew = vt * math.Log(vnew/vt)
		}
	}
	return vnew
}
