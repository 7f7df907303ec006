package analysis_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spicengine/pkg/analysis"
	"spicengine/pkg/circuit"
	"spicengine/pkg/netlist"
	"spicengine/pkg/spiceerr"
)

// buildCircuit runs the same setup path cmd/spicesim does: parse the
// netlist text, number the unknowns, allocate the matrix, instantiate and
// stamp the devices.
func buildCircuit(t *testing.T, netlistText string) (*circuit.Circuit, *netlist.NetlistData) {
	t.Helper()

	data, err := netlist.Parse(netlistText)
	require.NoError(t, err)

	ckt := circuit.NewWithComplex(data.Title, data.Analysis == netlist.AnalysisAC)
	ckt.SetModels(data.Models)
	require.NoError(t, ckt.AssignNodeBranchMaps(data.Elements))
	require.NoError(t, ckt.CreateMatrix())
	require.NoError(t, ckt.SetupDevices(data.Elements))
	return ckt, data
}

func TestResistorDividerOperatingPoint(t *testing.T) {
	ckt, _ := buildCircuit(t, `divider
V1 in 0 DC 10
R1 in out 1k
R2 out 0 1k
.op
`)

	op := analysis.NewOP()
	require.NoError(t, op.Setup(ckt))
	require.NoError(t, op.Execute())

	results := op.GetResults()
	require.Len(t, results["V(out)"], 1)
	assert.InDelta(t, 5.0, results["V(out)"][0], 1e-9)
	assert.InDelta(t, 10.0, results["V(in)"][0], 1e-9)
}

func TestOperatingPointIsDeterministic(t *testing.T) {
	run := func() float64 {
		ckt, _ := buildCircuit(t, `divider
V1 in 0 DC 10
R1 in out 1k
R2 out 0 1k
.op
`)
		op := analysis.NewOP()
		require.NoError(t, op.Setup(ckt))
		require.NoError(t, op.Execute())
		return op.GetResults()["V(out)"][0]
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "re-running the same analysis must be bitwise identical")
}

func TestRCAtDCStaysFlatThroughTransient(t *testing.T) {
	ckt, data := buildCircuit(t, `rc hold
V1 in 0 DC 10
R1 in out 10
C1 out 0 20
.tran 1 10
`)

	p := data.TranParam
	tr := analysis.NewTransient(p.TStart, p.TStop, p.TStep, p.TMax, p.UIC)
	require.NoError(t, tr.Setup(ckt))
	require.NoError(t, tr.Execute())

	results := tr.GetResults()
	times := results["TIME"]
	require.NotEmpty(t, times)
	require.Len(t, results["V(out)"], len(times))

	for i, tm := range times {
		assert.InDeltaf(t, 10.0, results["V(out)"][i], 1e-9,
			"V(out) must hold the DC value at t=%g", tm)
		if i > 0 {
			assert.Greater(t, tm, times[i-1], "accepted times must be strictly increasing")
		}
	}
	assert.InDelta(t, 10.0, times[len(times)-1], 1e-9, "the run must reach tstop")
}

func TestLowPassFilterThreeDBPoint(t *testing.T) {
	ckt, data := buildCircuit(t, `low pass
V1 in 0 AC 1
R1 in out 1k
C1 out 0 1u
.ac DEC 10 1 1meg
`)

	p := data.ACParam
	ac := analysis.NewAC(p.FStart, p.FStop, p.Points, p.Sweep)
	require.NoError(t, ac.Setup(ckt))
	require.NoError(t, ac.Execute())

	results := ac.GetResults()
	freqs := results["FREQ"]
	mags := results["V(out)_MAG"]
	require.NotEmpty(t, freqs)
	require.Len(t, mags, len(freqs))

	// |H| at the sweep point nearest the corner frequency 1/(2*pi*R*C).
	corner := 1.0 / (2 * math.Pi * 1e3 * 1e-6)
	best := 0
	for i, f := range freqs {
		if math.Abs(f-corner) < math.Abs(freqs[best]-corner) {
			best = i
		}
	}
	assert.InEpsilon(t, 1.0/math.Sqrt2, mags[best], 0.01)

	// Well below the corner the filter passes through; well above it rolls
	// off a decade per decade.
	assert.InDelta(t, 1.0, mags[0], 1e-3)
	assert.Less(t, mags[len(mags)-1], 1e-2)
}

func TestDiodeForwardCurrent(t *testing.T) {
	ckt, _ := buildCircuit(t, `diode forward
V1 a 0 DC 0.7
D1 a 0 DMOD
.model DMOD D(is=1e-14 n=1)
.op
`)

	op := analysis.NewOP()
	require.NoError(t, op.Setup(ckt))
	require.NoError(t, op.Execute())

	results := op.GetResults()
	require.Len(t, results["I(V1)"], 1)

	const (
		charge    = 1.6021918e-19
		boltzmann = 1.3806226e-23
	)
	vt := boltzmann * 300.15 / charge
	expected := 1e-14 * (math.Exp(0.7/vt) - 1)

	assert.InEpsilon(t, expected, math.Abs(results["I(V1)"][0]), 0.05)
}

func TestParallelVoltageSourcesAreSingular(t *testing.T) {
	ckt, _ := buildCircuit(t, `conflict
V1 a 0 DC 5
V2 a 0 DC 10
.op
`)

	op := analysis.NewOP()
	require.NoError(t, op.Setup(ckt))
	err := op.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, spiceerr.ErrSingularMatrix),
		"two conflicting ideal sources must surface ErrSingularMatrix, got: %v", err)
}

func TestDCSweepDivider(t *testing.T) {
	ckt, _ := buildCircuit(t, `swept divider
V1 in 0 DC 0
R1 in out 1k
R2 out 0 1k
.dc V1 0 10 1
`)

	dc := analysis.NewDCSweep([]string{"V1"}, []float64{0}, []float64{10}, []float64{1})
	require.NoError(t, dc.Setup(ckt))
	require.NoError(t, dc.Execute())

	results := dc.GetResults()
	sweeps := results["SWEEP1"]
	require.Len(t, sweeps, 11)
	for i, v := range sweeps {
		assert.InDeltaf(t, v/2, results["V(out)"][i], 1e-9, "divider at V1=%g", v)
	}
}

func TestExportEventDeliversSolvedPoint(t *testing.T) {
	ckt, _ := buildCircuit(t, `divider
V1 in 0 DC 10
R1 in out 1k
R2 out 0 1k
.op
`)

	var events []*circuit.ExportEvent
	ckt.Subscribe(func(ev *circuit.ExportEvent) { events = append(events, ev) })

	op := analysis.NewOP()
	require.NoError(t, op.Setup(ckt))
	require.NoError(t, op.Execute())

	require.Len(t, events, 1)
	assert.InDelta(t, 5.0, events[0].GetVoltage("out"), 1e-9)
	assert.InDelta(t, 0.0, events[0].GetVoltage("0"), 0)
	assert.InDelta(t, 5e-3, math.Abs(events[0].GetCurrent("V1")), 1e-9)
}
