package transient_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spicengine/pkg/circuit"
	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/netlist"
	"spicengine/pkg/newton"
	"spicengine/pkg/transient"
)

func buildPulseRC(t *testing.T) *circuit.Circuit {
	t.Helper()

	data, err := netlist.Parse(`pulse into rc
V1 in 0 PULSE(0 5 0 1n 1n 5n 10n)
R1 in out 1k
C1 out 0 1n
.tran 1n 50n
`)
	require.NoError(t, err)

	ckt := circuit.New(data.Title)
	ckt.SetModels(data.Models)
	require.NoError(t, ckt.AssignNodeBranchMaps(data.Elements))
	require.NoError(t, ckt.CreateMatrix())
	require.NoError(t, ckt.SetupDevices(data.Elements))

	// Settle the t=0 bias point the step loop starts from.
	state := devstate.New()
	_, err = newton.New(newton.DefaultTolerances()).SolveWithHomotopy(ckt, state)
	require.NoError(t, err)
	return ckt
}

func pulseRCConfig() integrate.Config {
	return integrate.Config{
		InitialStepSize:   1e-9,
		MinStepSize:       2e-11,
		MaxStepSize:       1e-9,
		AbsoluteTolerance: 1e-12,
		RelativeTolerance: 1e-3,
		MaxOrder:          6,
		MaxRejections:     10,
	}
}

func TestPulseSourceBreakpointsAreHitExactly(t *testing.T) {
	ckt := buildPulseRC(t)
	driver := transient.New(ckt, pulseRCConfig())

	const tstop = 50e-9
	results, err := driver.Run(0, tstop, false, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.Greater(t, results[i].Time, results[i-1].Time,
			"accepted times must be strictly increasing")
	}

	// Every PULSE edge inside the run: period start, end of rise, start
	// and end of fall, for each 10ns period.
	var edges []float64
	for base := 0.0; base <= tstop; base += 10e-9 {
		for _, off := range []float64{0, 1e-9, 6e-9, 7e-9} {
			if e := base + off; e > 0 && e <= tstop {
				edges = append(edges, e)
			}
		}
	}

	const tol = 1e-12
	for _, edge := range edges {
		hit := false
		for _, r := range results {
			if math.Abs(r.Time-edge) <= tol {
				hit = true
				break
			}
		}
		assert.Truef(t, hit, "breakpoint at %g was not landed on", edge)
	}
}

func TestPulseRCOutputStaysBounded(t *testing.T) {
	ckt := buildPulseRC(t)
	driver := transient.New(ckt, pulseRCConfig())

	results, err := driver.Run(0, 50e-9, false, nil)
	require.NoError(t, err)

	for _, r := range results {
		v := r.Solution["V(out)"]
		assert.GreaterOrEqual(t, v, -0.01, "RC response cannot undershoot the pulse range at t=%g", r.Time)
		assert.LessOrEqual(t, v, 5.01, "RC response cannot overshoot the pulse range at t=%g", r.Time)
	}
}

func TestTransientRejectsReversedTimeRange(t *testing.T) {
	ckt := buildPulseRC(t)
	driver := transient.New(ckt, pulseRCConfig())

	_, err := driver.Run(1e-9, 1e-9, false, nil)
	require.Error(t, err)
}
