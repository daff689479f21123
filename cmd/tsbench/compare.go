package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"tsdb-benchmark/internal/compare"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/export"
)

// printedFailures caps the failures echoed to stdout; the JSON report has
// all of them.
const printedFailures = 30

func newCompareCmd(c *cli) *cobra.Command {
	var (
		latencyUp      float64
		throughputDown float64
		reportPath     string
	)
	cmd := &cobra.Command{
		Use:   "compare BASE_DIR NEW_DIR",
		Short: "Compare two report directories and fail on regressions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := compare.Options{
				LatencyUp:      c.cfg.BenchmarkSettings.LatencyUp,
				ThroughputDown: c.cfg.BenchmarkSettings.ThroughputDown,
				Logger:         c.logger,
			}
			if cmd.Flags().Changed("latency-up") {
				opts.LatencyUp = latencyUp
			}
			if cmd.Flags().Changed("throughput-down") {
				opts.ThroughputDown = throughputDown
			}
			if opts.LatencyUp < 0 || opts.ThroughputDown < 0 {
				return benchErrors.ConfigErrorf("thresholds must be >= 0")
			}

			res, err := compare.Compare(args[0], args[1], opts)
			if err != nil {
				return err
			}
			if reportPath == "" {
				reportPath = filepath.Join(args[1], compare.ReportFile)
			}
			if err := res.Write(reportPath); err != nil {
				return err
			}
			res.Print(cmd.OutOrStdout(), printedFailures)
			if !res.Passed() {
				return benchErrors.NewInvariantViolation(benchErrors.CodeRegression,
					fmt.Sprintf("%d regression failures", res.FailuresCount))
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Float64Var(&latencyUp, "latency-up", 0.10, "allowed relative latency increase (default: config)")
	fs.Float64Var(&throughputDown, "throughput-down", 0.10, "allowed relative throughput decrease (default: config)")
	fs.StringVar(&reportPath, "report", "", "regression report path (default: NEW_DIR/"+compare.ReportFile+")")
	return cmd
}

func newCompareMainCmd(c *cli) *cobra.Command {
	var shaA, shaB string
	cmd := &cobra.Command{
		Use:   "compare-main",
		Short: "Compare the latest exported results of two commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.Export.Enabled() {
				return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "export.dsn is required for compare-main")
			}
			exp, err := export.NewPostgresExporter(cmd.Context(), c.cfg.Export.DSN, c.cfg.Export.Table)
			if err != nil {
				return benchErrors.NewStorageError(benchErrors.CodeReadFailed, "connect results database", err)
			}
			defer exp.Close()
			_, err = export.CompareSHAs(cmd.Context(), exp, shaA, shaB, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&shaA, "sha-a", "", "baseline commit")
	cmd.Flags().StringVar(&shaB, "sha-b", "", "candidate commit")
	_ = cmd.MarkFlagRequired("sha-a")
	_ = cmd.MarkFlagRequired("sha-b")
	return cmd
}
