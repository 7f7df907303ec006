package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spicengine/pkg/device"
	"spicengine/pkg/devstate"
	"spicengine/pkg/matrix"
	"spicengine/pkg/spiceerr"
)

// buildResistiveDivider wires a current source of the given value into node 1, through
// R1 to node 2, through R2 to ground, and stamps the resulting system
// into a real matrix.Matrix end to end (device -> StampTarget -> sparse
// solver), the same path SetupDevices/Stamp drive in production.
func buildResistiveDivider(t *testing.T, r1, r2, current float64) *matrix.Matrix {
	t.Helper()

	src := device.NewDCCurrentSource("I1", []string{"1", "0"}, current)
	src.SetNodes([]int{1, 0})
	res1 := device.NewResistor("R1", []string{"1", "2"}, r1)
	res1.SetNodes([]int{1, 2})
	res2 := device.NewResistor("R2", []string{"2", "0"}, r2)
	res2.SetNodes([]int{2, 0})

	m, err := matrix.New(2, false)
	require.NoError(t, err)

	state := devstate.New()
	require.NoError(t, src.Stamp(m, state))
	require.NoError(t, res1.Stamp(m, state))
	require.NoError(t, res2.Stamp(m, state))

	m.Fix()
	return m
}

func TestResistorAndCurrentSourceStampSolveDivider(t *testing.T) {
	m := buildResistiveDivider(t, 1000, 1000, 1e-3)

	require.NoError(t, m.OrderAndFactor())
	require.NoError(t, m.Solve())
	sol := m.Solution()

	assert.InDelta(t, 2.0, sol[1], 1e-9)
	assert.InDelta(t, 1.0, sol[2], 1e-9)
}

func TestResistorTemperatureCoefficient(t *testing.T) {
	r := device.NewResistor("R1", []string{"1", "2"}, 1000)
	r.SetNodes([]int{1, 2})
	r.Tc1 = 0.001
	r.Tnom = 300.15

	m, err := matrix.New(2, false)
	require.NoError(t, err)

	state := devstate.New()
	state.Temp = 300.15 + 100 // 100K above nominal
	require.NoError(t, r.Stamp(m, state))
	m.Fix()

	// A lone resistor between two otherwise unconnected nodes stamps the
	// singular system [[g,-g],[-g,g]]: the second pivot cancels to zero.
	require.ErrorIs(t, m.OrderAndFactor(), spiceerr.ErrSingularMatrix)

	diag, err := m.GetDiagElement(1)
	require.NoError(t, err)
	wantG := 1.0 / (1000 * (1 + 0.001*100))
	// GetDiagElement returns the raw (pre-factor) value only before
	// OrderAndFactor overwrites it with its reciprocal; re-stamp fresh to
	// check the conductance value itself instead.
	_ = diag

	fresh, err := matrix.New(2, false)
	require.NoError(t, err)
	require.NoError(t, r.Stamp(fresh, state))
	fresh.Fix()
	d, err := fresh.GetDiagElement(1)
	require.NoError(t, err)
	assert.InDelta(t, wantG, float64(d.Value), 1e-12)
}

func TestCurrentSourceStampsOppositeSignsAtEachNode(t *testing.T) {
	src := device.NewDCCurrentSource("I1", []string{"1", "2"}, 2.5)
	src.SetNodes([]int{1, 2})

	m, err := matrix.New(2, false)
	require.NoError(t, err)
	require.NoError(t, src.Stamp(m, devstate.New()))

	rhs := m.RHS()
	assert.InDelta(t, 2.5, rhs[1], 1e-12)
	assert.InDelta(t, -2.5, rhs[2], 1e-12)
}
