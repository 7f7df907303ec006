package analysis

import (
	"fmt"

	"spicengine/pkg/circuit"
	"spicengine/pkg/devstate"
	"spicengine/pkg/integrate"
	"spicengine/pkg/transient"
)

// Transient runs a time-domain simulation from tStart to tStop, starting
// either from the DC operating point or from device .IC values.
type Transient struct {
	BaseAnalysis
	Options Options
	// Method selects the integration family: "gear" (the default) or
	// "trapezoidal".
	Method     string
	op         *OperatingPoint
	cfg        integrate.Config
	driver     *transient.Driver
	startTime  float64
	stopTime   float64
	useUIC     bool
	icVoltages map[string]float64
}

// NewTransient mirrors the classic .TRAN tStep/tStop/tMax/UIC line: tStep
// seeds the initial step size, tMax (or tStep if zero) bounds the largest
// step the controller may grow to.
func NewTransient(tStart, tStop, tStep, tMax float64, uic bool) *Transient {
	if tMax == 0 {
		tMax = tStep
	}

	opts := DefaultOptions()
	cfg := integrate.Config{
		InitialStepSize:   tStep,
		MinStepSize:       tStep / 50.0,
		MaxStepSize:       tMax,
		AbsoluteTolerance: opts.AbsTol,
		RelativeTolerance: opts.RelTol,
		TrTol:             opts.TrTol,
		MaxOrder:          6,
		MaxRejections:     10,
	}

	return &Transient{
		BaseAnalysis: *NewBaseAnalysis(),
		Options:      opts,
		op:           NewOP(),
		startTime:    tStart,
		stopTime:     tStop,
		useUIC:       uic,
		cfg:          cfg,
	}
}

// SetInitialConditions supplies the node voltages a .IC line clamps the
// first transient step to, used only when uic was set at construction.
func (tr *Transient) SetInitialConditions(voltages map[string]float64) {
	tr.icVoltages = voltages
}

func (tr *Transient) Setup(ckt *circuit.Circuit) error {
	tr.Circuit = ckt

	if !tr.useUIC {
		tr.op.Options = tr.Options
		if err := tr.op.Setup(ckt); err != nil {
			return fmt.Errorf("operating point setup error: %v", err)
		}
		if err := tr.op.Execute(); err != nil {
			return fmt.Errorf("operating point analysis error: %w", err)
		}
	}

	tr.cfg.AbsoluteTolerance = tr.Options.AbsTol
	tr.cfg.RelativeTolerance = tr.Options.RelTol
	tr.cfg.ChargeTolerance = tr.Options.ChgTol
	tr.cfg.TrTol = tr.Options.TrTol
	tr.driver = transient.New(ckt, tr.cfg)
	tr.driver.Newton.Tol = tr.Options.tolerances(tr.Options.ITL4)
	if tr.Method == "trapezoidal" {
		tr.driver.Method = devstate.Trapezoidal
	}
	return nil
}

func (tr *Transient) Execute() error {
	if tr.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}

	results, err := tr.driver.Run(tr.startTime, tr.stopTime, tr.useUIC, tr.icVoltages)
	if err != nil {
		return err
	}

	for _, r := range results {
		tr.StoreTimeResult(r.Time, r.Solution)
	}
	return nil
}
