package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielbchen/raker/internal/ingest"
	"github.com/danielbchen/raker/internal/rake"
)

func runRake(cmd *cobra.Command, _ []string) {
	if rakeTargetsPath == "" || rakeDataPath == "" {
		fail("--targets and --data are required")
	}

	targetMap, err := ingest.LoadTargetsFile(rakeTargetsPath)
	if err != nil {
		fail("load targets: %v", err)
	}
	if len(rakeVariables) > 0 {
		subset := make(map[string]map[string]float64, len(rakeVariables))
		for _, name := range rakeVariables {
			props, ok := targetMap[name]
			if !ok {
				fail("variable %q is not in %s", name, rakeTargetsPath)
			}
			subset[name] = props
		}
		targetMap = subset
	}

	targets, err := rake.NewTargets(targetMap)
	if err != nil {
		fail("invalid targets: %v", err)
	}

	f, err := ingest.OpenRespondentsFile(rakeDataPath)
	if err != nil {
		fail("open data: %v", err)
	}
	respondents, err := ingest.ReadRespondentsCSV(f, ingest.CSVOptions{
		IDColumn:  rakeIDColumn,
		Variables: targets.Variables(),
	})
	_ = f.Close()
	if err != nil {
		fail("read data: %v", err)
	}

	ds, err := rake.NewDataset(targets, respondents)
	if err != nil {
		fail("invalid dataset: %v", err)
	}

	opts := rake.DefaultOptions()
	opts.Tolerance = rakeTolerance
	opts.MaxIterations = rakeMaxIterations
	opts.Trim = rake.TrimPolicy{Cap: rakeTrimCap, Floor: rakeTrimFloor}

	engine, err := rake.NewEngine(opts, cliLogger())
	if err != nil {
		fail("invalid options: %v", err)
	}

	res, err := engine.Rake(context.Background(), ds)
	if err != nil {
		fail("rake: %v", err)
	}

	report, err := rake.BuildReport(ds, res, rakeDecimals)
	if err != nil {
		fail("report: %v", err)
	}

	printReport(os.Stdout, report)

	if rakeOutPath != "" {
		ids := make([]string, len(res.Weights))
		for i, r := range ds.Respondents() {
			ids[i] = r.ID
		}
		out, err := os.Create(rakeOutPath)
		if err != nil {
			fail("create %s: %v", rakeOutPath, err)
		}
		if err := ingest.WriteWeightsCSV(out, ids, res.Weights); err != nil {
			_ = out.Close()
			fail("write weights: %v", err)
		}
		if err := out.Close(); err != nil {
			fail("write weights: %v", err)
		}
		fmt.Printf("\nweights written to %s\n", rakeOutPath)
	}

	if err := res.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "rakectl: %v\n", err)
		os.Exit(2)
	}
}

func printReport(w io.Writer, rep *rake.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tCATEGORY\tTARGET\tUNWEIGHTED\tWEIGHTED\tDEVIATION\tMATCH")
	for _, vr := range rep.Variables {
		for _, cr := range vr.Categories {
			match := "yes"
			if !cr.Match {
				match = "NO"
			}
			fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n",
				vr.Variable, cr.Category, cr.Target, cr.Unweighted, cr.Weighted, cr.Deviation, match)
		}
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nn=%d  iterations=%d  converged=%v  max_deviation=%.6f\n",
		rep.N, rep.Iterations, rep.Converged, rep.MaxDeviation)
	fmt.Fprintf(w, "weights: mean=%.4f  min=%.4f  max=%.4f  sum=%.2f\n",
		rep.Weights.Mean, rep.Weights.Min, rep.Weights.Max, rep.Weights.Sum)
	fmt.Fprintf(w, "design_effect=%.4f  effective_n=%.1f\n", rep.DesignEffect, rep.EffectiveN)
}

// cliLogger keeps engine noise off stdout so the report stays pipeable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
