package main // import "spicengine"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"spicengine/pkg/analysis"
	"spicengine/pkg/circuit"
	"spicengine/pkg/netlist"
	"spicengine/pkg/util"
)

func getKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printResults(results map[string][]float64) {
	fmt.Println("\nAnalysis Results:")
	fmt.Println("================")

	if freqs, isAC := results["FREQ"]; isAC {
		fmt.Printf("\nAC Analysis Results (%d frequency points):\n", len(freqs))
		fmt.Println("Frequency      Node Voltages (Magnitude/Phase)        Branch Currents (Magnitude/Phase)")
		fmt.Println("-----------------------------------------------------------------------------")

		var voltageNames, currentNames []string
		for name := range results {
			if strings.HasSuffix(name, "_MAG") {
				baseName := strings.TrimSuffix(name, "_MAG")
				if strings.HasPrefix(baseName, "V(") {
					voltageNames = append(voltageNames, baseName)
				} else if strings.HasPrefix(baseName, "I(") {
					currentNames = append(currentNames, baseName)
				}
			}
		}
		sort.Strings(voltageNames)
		sort.Strings(currentNames)

		for i, freq := range freqs {
			fmt.Printf("%-13s", util.FormatFrequency(freq))
			for _, name := range voltageNames {
				mag, phase := results[name+"_MAG"], results[name+"_PHASE"]
				fmt.Printf("%s  ", util.FormatMagnitudePhase(name, mag[i], phase[i]))
			}
			for _, name := range currentNames {
				mag, phase := results[name+"_MAG"], results[name+"_PHASE"]
				fmt.Printf("%s  ", util.FormatMagnitudePhase(name, mag[i], phase[i]))
			}
			fmt.Println()
		}
		return
	}

	if sweep1, isDC := results["SWEEP1"]; isDC {
		fmt.Printf("\nDC Sweep Analysis Results (%d points):\n", len(sweep1))
		fmt.Println("Sweep Values    Node Voltages        Branch Currents")
		fmt.Println("------------------------------------------------")

		var voltageNames, currentNames []string
		for name := range results {
			if name == "SWEEP1" || name == "SWEEP2" {
				continue
			}
			if strings.HasPrefix(name, "V(") {
				voltageNames = append(voltageNames, name)
			} else if strings.HasPrefix(name, "I(") {
				currentNames = append(currentNames, name)
			}
		}
		sort.Strings(voltageNames)
		sort.Strings(currentNames)

		_, hasNested := results["SWEEP2"]
		for i := range sweep1 {
			if hasNested {
				sweep2 := results["SWEEP2"]
				fmt.Printf("V1=%-9s V2=%-9s  ",
					util.FormatValueFactor(sweep1[i], "V"),
					util.FormatValueFactor(sweep2[i], "V"))
			} else {
				fmt.Printf("V=%-9s  ", util.FormatValueFactor(sweep1[i], "V"))
			}
			for _, name := range voltageNames {
				fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "V"))
			}
			for _, name := range currentNames {
				fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "A"))
			}
			fmt.Println()
		}
		return
	}

	if len(results["TIME"]) <= 1 {
		fmt.Println("\nNode Voltages:")
		for _, name := range getKeys(results) {
			if strings.HasPrefix(name, "V(") {
				fmt.Printf("%s = %s\n", name, util.FormatValueFactor(results[name][0], "V"))
			}
		}
		fmt.Println("\nBranch Currents:")
		for _, name := range getKeys(results) {
			if strings.HasPrefix(name, "I(") {
				fmt.Printf("%s = %s\n", name, util.FormatValueFactor(results[name][0], "A"))
			}
		}
		return
	}

	times := results["TIME"]
	fmt.Printf("\nTransient Analysis Results (%d time points):\n", len(times))
	fmt.Println("Time        Node Voltages        Branch Currents")
	fmt.Println("------------------------------------------------")

	var voltageNames, currentNames []string
	for name := range results {
		if name == "TIME" {
			continue
		}
		if strings.HasPrefix(name, "V(") {
			voltageNames = append(voltageNames, name)
		} else if strings.HasPrefix(name, "I(") {
			currentNames = append(currentNames, name)
		}
	}
	sort.Strings(voltageNames)
	sort.Strings(currentNames)

	for i, t := range times {
		fmt.Printf("%9s  ", util.FormatValueFactor(t, "s"))
		for _, name := range voltageNames {
			fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "V"))
		}
		for _, name := range currentNames {
			fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "A"))
		}
		fmt.Println()
	}
}

// plotResults renders every V(...) trace against TIME (transient) or
// FREQ (AC, magnitude only) into a single PNG at path, skipping silently
// if neither axis is present (DC sweep and operating-point results have
// no natural x-axis for a line plot).
func plotResults(results map[string][]float64, path string) error {
	xName, xLabel := "TIME", "time (s)"
	if _, ok := results["TIME"]; !ok {
		if _, ok := results["FREQ"]; ok {
			xName, xLabel = "FREQ", "frequency (Hz)"
		} else {
			return nil
		}
	}
	xs := results[xName]

	p := plot.New()
	p.Title.Text = "spicengine"
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "volts"
	if xName == "FREQ" {
		p.X.Scale = plot.LogScale{}
	}

	var traceNames []string
	suffix := ""
	if xName == "FREQ" {
		suffix = "_MAG"
	}
	for name := range results {
		if strings.HasPrefix(name, "V(") && strings.HasSuffix(name, suffix) && (suffix != "" || !strings.Contains(name, "_")) {
			traceNames = append(traceNames, name)
		}
	}
	sort.Strings(traceNames)

	for i, name := range traceNames {
		ys := results[name]
		pts := make(plotter.XYs, len(xs))
		for j := range xs {
			pts[j].X = xs[j]
			pts[j].Y = ys[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plotting %s: %v", name, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(strings.TrimSuffix(name, suffix), line)
	}

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

func run(netlistPath, plotPath string, verbose bool, opts analysis.Options, method string, keepOpInfo bool) error {
	content, err := os.ReadFile(netlistPath)
	if err != nil {
		return fmt.Errorf("reading netlist file: %v", err)
	}

	data, err := netlist.Parse(string(content))
	if err != nil {
		return fmt.Errorf("parsing netlist: %v", err)
	}
	if verbose {
		fmt.Printf("Analysis type: %v\n", data.Analysis)
		fmt.Printf("Circuit elements: %d\n", len(data.Elements))
	}

	isComplex := data.Analysis == netlist.AnalysisAC
	ckt := circuit.NewWithComplex(data.Title, isComplex)
	ckt.SetModels(data.Models)

	if err := ckt.AssignNodeBranchMaps(data.Elements); err != nil {
		return fmt.Errorf("creating circuit mappings: %v", err)
	}
	if err := ckt.CreateMatrix(); err != nil {
		return fmt.Errorf("creating matrix: %v", err)
	}
	if err := ckt.SetupDevices(data.Elements); err != nil {
		return fmt.Errorf("setting up devices: %v", err)
	}

	var analyzer analysis.Analysis
	switch data.Analysis {
	case netlist.AnalysisOP:
		op := analysis.NewOP()
		op.Options = opts
		analyzer = op
	case netlist.AnalysisTRAN:
		p := data.TranParam
		tr := analysis.NewTransient(p.TStart, p.TStop, p.TStep, p.TMax, p.UIC)
		tr.Options = opts
		tr.Method = method
		analyzer = tr
	case netlist.AnalysisAC:
		p := data.ACParam
		acz := analysis.NewAC(p.FStart, p.FStop, p.Points, p.Sweep)
		acz.Options = opts
		acz.SetKeepOpInfo(keepOpInfo)
		analyzer = acz
	case netlist.AnalysisDC:
		p := data.DCParam
		var dc *analysis.DCSweep
		if p.Source2 != "" {
			dc = analysis.NewDCSweep(
				[]string{p.Source1, p.Source2},
				[]float64{p.Start1, p.Start2},
				[]float64{p.Stop1, p.Stop2},
				[]float64{p.Increment1, p.Increment2},
			)
		} else {
			dc = analysis.NewDCSweep(
				[]string{p.Source1},
				[]float64{p.Start1},
				[]float64{p.Stop1},
				[]float64{p.Increment1},
			)
		}
		dc.Options = opts
		analyzer = dc
	default:
		return fmt.Errorf("unsupported analysis type")
	}

	if err := analyzer.Setup(ckt); err != nil {
		return fmt.Errorf("analysis setup: %v", err)
	}
	if err := analyzer.Execute(); err != nil {
		return fmt.Errorf("analysis execution: %v", err)
	}

	results := analyzer.GetResults()
	printResults(results)

	if plotPath != "" {
		if err := plotResults(results, plotPath); err != nil {
			return fmt.Errorf("plotting results: %v", err)
		}
		fmt.Printf("\nWrote plot to %s\n", plotPath)
	}

	ckt.Destroy()
	return nil
}

func main() {
	plotPath := flag.String("plot", "", "write a PNG plot of the results to this path")
	verbose := flag.Bool("v", false, "print netlist parsing detail before running")

	defaults := analysis.DefaultOptions()
	abstol := flag.Float64("abstol", defaults.AbsTol, "branch current convergence tolerance")
	reltol := flag.Float64("reltol", defaults.RelTol, "relative convergence tolerance")
	vntol := flag.Float64("vntol", defaults.VnTol, "node voltage convergence tolerance")
	gmin := flag.Float64("gmin", defaults.Gmin, "minimum junction conductance")
	itl1 := flag.Int("itl1", defaults.ITL1, "DC iteration limit")
	itl4 := flag.Int("itl4", defaults.ITL4, "transient sub-step iteration limit")
	trtol := flag.Float64("trtol", defaults.TrTol, "truncation error overestimation factor")
	chgtol := flag.Float64("chgtol", defaults.ChgTol, "charge tolerance for the LTE test")
	method := flag.String("method", "gear", "transient integration method: gear or trapezoidal")
	keepOpInfo := flag.Bool("keepopinfo", false, "retain the operating point in AC results")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Usage: spicesim [options] <netlist_file>")
	}

	opts := analysis.Options{
		AbsTol: *abstol,
		RelTol: *reltol,
		VnTol:  *vntol,
		Gmin:   *gmin,
		ITL1:   *itl1,
		ITL4:   *itl4,
		TrTol:  *trtol,
		ChgTol: *chgtol,
	}

	if err := run(flag.Arg(0), *plotPath, *verbose, opts, *method, *keepOpInfo); err != nil {
		log.Fatal(err)
	}
}
