// Command kinecheck sweeps assembly mappings through full four-stroke cycles
// and reports every kinematic invariant that fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cylinderworks/cylinderworks/internal/check"
	"github.com/cylinderworks/cylinderworks/internal/config"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

func main() {
	var (
		configPath = flag.String("config", "", "service config (yaml or json) supplying solver settings")
		step       = flag.Float64("step", 0.01, "crank step in radians")
		cycles     = flag.Int("cycles", 1, "four-stroke cycles to sweep")
		tolerance  = flag.Float64("tolerance", 1e-4, "invariant tolerance")
		parallel   = flag.Int("parallel", 0, "mappings swept at once (0 = GOMAXPROCS)")
		asJSON     = flag.Bool("json", false, "print reports as JSON")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: kinecheck [flags] mapping.json [mapping.yaml ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	cfg.Log.Level = "warn"
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(2)
		}
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := check.Options{
		Step:      *step,
		Cycles:    *cycles,
		Tolerance: *tolerance,
		Settings:  cfg.Kinematics.Settings(),
		Logger:    logger,
	}
	reports, err := check.SweepAll(ctx, flag.Args(), opts, *parallel)
	if err != nil {
		logger.Error("Sweep failed", log.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(reports)
	} else {
		for _, r := range reports {
			printReport(r)
		}
	}

	for _, r := range reports {
		if !r.OK() {
			os.Exit(1)
		}
	}
}

func printReport(r check.Report) {
	status := "ok"
	if !r.OK() {
		status = "FAIL"
	}
	fmt.Printf("%s: %s (%d samples, fingerprint %016x)\n", r.Source, status, r.Samples, r.Fingerprint)
	if r.Stroke > 0 {
		fmt.Printf("  stroke %.6g\n", r.Stroke)
	}
	for _, inv := range r.Summary.Invalid {
		fmt.Printf("  mechanism %s disabled: %s %v\n", inv.Mechanism, inv.Reason, inv.Missing)
	}
	for _, f := range r.Failures {
		fmt.Printf("  %-18s %-16s theta=%.4f value=%.6g  %s\n", f.Property, f.Part, f.Angle, f.Value, f.Detail)
	}
	if r.Truncated > 0 {
		fmt.Printf("  ... %d more failures\n", r.Truncated)
	}
}
