package circuit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spicengine/pkg/circuit"
	"spicengine/pkg/devstate"
	"spicengine/pkg/netlist"
	"spicengine/pkg/newton"
)

func setup(t *testing.T, text string) *circuit.Circuit {
	t.Helper()

	data, err := netlist.Parse(text)
	require.NoError(t, err)

	ckt := circuit.New(data.Title)
	ckt.SetModels(data.Models)
	require.NoError(t, ckt.AssignNodeBranchMaps(data.Elements))
	require.NoError(t, ckt.CreateMatrix())
	require.NoError(t, ckt.SetupDevices(data.Elements))
	return ckt
}

const dividerNetlist = `divider
V1 in 0 DC 10
R1 in out 1k
R2 out 0 1k
.op
`

func TestNodeAndBranchNumbering(t *testing.T) {
	ckt := setup(t, dividerNetlist)

	nodes := ckt.GetNodeMap()
	branches := ckt.GetBranchMap()

	require.Len(t, nodes, 2)
	require.Len(t, branches, 1)
	// Branch rows come after every node row.
	assert.Greater(t, branches["V1"], nodes["in"])
	assert.Greater(t, branches["V1"], nodes["out"])
	assert.Equal(t, 3, ckt.Size())
}

func TestSubscribersSeeEmittedPoints(t *testing.T) {
	ckt := setup(t, dividerNetlist)

	driver := newton.New(newton.DefaultTolerances())
	_, err := driver.SolveWithHomotopy(ckt, devstate.New())
	require.NoError(t, err)

	var got []float64
	ckt.Subscribe(func(ev *circuit.ExportEvent) {
		got = append(got, ev.GetVoltage("out"))
	})

	ckt.EmitExport(0, 0, 0)
	require.Len(t, got, 1)
	assert.InDelta(t, 5.0, got[0], 1e-9)
}

func TestUnsetupClearsSubscribers(t *testing.T) {
	ckt := setup(t, dividerNetlist)

	driver := newton.New(newton.DefaultTolerances())
	_, err := driver.SolveWithHomotopy(ckt, devstate.New())
	require.NoError(t, err)

	calls := 0
	ckt.Subscribe(func(*circuit.ExportEvent) { calls++ })
	ckt.EmitExport(0, 0, 0)
	require.Equal(t, 1, calls)

	ckt.Unsetup()
	ckt.EmitExport(0, 0, 0) // no matrix, no subscribers: must be a no-op
	assert.Equal(t, 1, calls)
}

func TestPropertyExportResolvesLazily(t *testing.T) {
	ckt := setup(t, `diode forward
V1 a 0 DC 0.7
D1 a 0 DMOD
.model DMOD D(is=1e-14 n=1)
.op
`)

	vd := ckt.Export("D1", "vd")

	driver := newton.New(newton.DefaultTolerances())
	_, err := driver.SolveWithHomotopy(ckt, devstate.New())
	require.NoError(t, err)

	v, err := vd.Value()
	require.NoError(t, err)
	assert.InDelta(t, 0.7, v, 1e-6)

	_, err = ckt.Export("D1", "nosuch").Value()
	assert.Error(t, err)

	_, err = ckt.Export("missing", "vd").Value()
	assert.Error(t, err)
}

func TestStampHonorsInitialConditionClamp(t *testing.T) {
	ckt := setup(t, `rc with ic
V1 in 0 DC 10
R1 in out 1k
C1 out 0 1u
.tran 1u 10u uic
`)

	driver := newton.New(newton.DefaultTolerances())
	state := devstate.New()
	state.Mode = devstate.Transient
	state.TimeStep = 1e-6
	state.UseIC = true
	state.ICVoltages = map[string]float64{"out": 2.5}

	sol, err := driver.SolveWithHomotopy(ckt, state)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, sol[ckt.GetNodeMap()["out"]], 1e-3)
}
