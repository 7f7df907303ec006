package newton_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spicengine/pkg/circuit"
	"spicengine/pkg/devstate"
	"spicengine/pkg/netlist"
	"spicengine/pkg/newton"
	"spicengine/pkg/spiceerr"
)

func buildFromNetlist(t *testing.T, text string) *circuit.Circuit {
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

func TestSolveLinearDivider(t *testing.T) {
	ckt := buildFromNetlist(t, `divider
V1 in 0 DC 10
R1 in out 1k
R2 out 0 1k
.op
`)

	driver := newton.New(newton.DefaultTolerances())
	sol, err := driver.Solve(ckt, devstate.New(), 0)
	require.NoError(t, err)

	out := ckt.GetNodeMap()["out"]
	assert.InDelta(t, 5.0, sol[out], 1e-9)
}

func TestSolveConvergesOnDiodeExponential(t *testing.T) {
	ckt := buildFromNetlist(t, `diode bias
V1 a 0 DC 0.7
R1 a b 100
D1 b 0 DMOD
.model DMOD D(is=1e-14 n=1)
.op
`)

	driver := newton.New(newton.DefaultTolerances())
	sol, err := driver.SolveWithHomotopy(ckt, devstate.New())
	require.NoError(t, err)

	// The series resistor drops part of the 0.7V, so the junction settles
	// somewhere strictly between 0 and 0.7, and KVL must close.
	b := ckt.GetNodeMap()["b"]
	assert.Greater(t, sol[b], 0.0)
	assert.Less(t, sol[b], 0.7)
}

func TestSolveExhaustsIterationBudget(t *testing.T) {
	ckt := buildFromNetlist(t, `diode bias
V1 a 0 DC 0.7
D1 a 0 DMOD
.model DMOD D(is=1e-14 n=1)
.op
`)

	tol := newton.DefaultTolerances()
	tol.MaxIter = 1 // too few to even compare two iterates
	driver := newton.New(tol)

	_, err := driver.Solve(ckt, devstate.New(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, spiceerr.ErrNoConvergence))
}

func TestHomotopyPropagatesSingularMatrix(t *testing.T) {
	ckt := buildFromNetlist(t, `conflict
V1 a 0 DC 5
V2 a 0 DC 10
.op
`)

	driver := newton.New(newton.DefaultTolerances())
	_, err := driver.SolveWithHomotopy(ckt, devstate.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, spiceerr.ErrSingularMatrix),
		"homotopy must not mask a structurally singular system, got: %v", err)
}
