package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/report"
	"tsdb-benchmark/internal/runner"
	"tsdb-benchmark/internal/state"
)

type deleteFlags struct {
	scenarioID  string
	contextPath string
	wipeAll     bool
}

// newDeleteCmd deletes the points of a previous write run, scoped by the
// run id from its write-context file, and verifies nothing is left.
func newDeleteCmd(c *cli, multi bool) *cobra.Command {
	f := &deleteFlags{}
	kind := report.KindWrite
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the points of a write run and verify none remain",
		Args:  cobra.NoArgs,
	}
	if multi {
		kind = report.KindMultiWrite
		cmd.Use = "multi-delete"
		cmd.Short = "Delete the points of a multi-write run from every bucket"
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		path := f.contextPath
		if path == "" {
			if f.scenarioID == "" {
				return benchErrors.ConfigErrorf("one of --scenario-id or --context is required")
			}
			path = report.ContextPath(c.cfg.Reports.Dir, kind, f.scenarioID)
		}
		meta, err := report.LoadContext(path)
		if err != nil {
			return err
		}
		return c.runDelete(cmd, meta, f.wipeAll)
	}

	fs := cmd.Flags()
	fs.StringVar(&f.scenarioID, "scenario-id", "", "scenario id of the write run")
	fs.StringVar(&f.contextPath, "context", "", "write-context file (default: derived from --scenario-id)")
	fs.BoolVar(&f.wipeAll, "wipe-all", false, "delete every point in the buckets, not only the run's")
	return cmd
}

// targetOf scopes a delete to the run described by meta.
func targetOf(meta report.Meta, wipeAll bool) runner.DeleteTarget {
	target := runner.DeleteTarget{
		Measurement: meta.Measurement,
		RunID:       meta.RunID,
		Partitions:  []string{meta.Bucket},
		WipeAll:     wipeAll,
	}
	if meta.BucketCount > 0 {
		target.Partitions = meta.Buckets
	}
	if !wipeAll && meta.TotalPoints > 0 {
		target.ExpectedPoints = meta.TotalPoints / int64(len(target.Partitions))
	}
	return target
}

func (c *cli) runDelete(cmd *cobra.Command, meta report.Meta, wipeAll bool) error {
	ctx := cmd.Context()
	target := targetOf(meta, wipeAll)
	results, err := c.coordinator().RunDelete(ctx, target)
	if err != nil {
		return err
	}

	r := report.NewDeleteReport(results, meta, wipeAll, c.env())
	path, err := c.publish(ctx, r)
	if err != nil {
		return err
	}

	var cleaned []state.DataRecord
	var remaining int64
	for _, res := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: before=%d after=%d deleted=%d status=%d\n",
			res.Partition, res.PointsBefore, res.PointsAfter, res.DeletedPoints, res.StatusCode)
		if res.OK {
			cleaned = append(cleaned, state.DataRecord{
				Target: state.TargetSUT, Partition: res.Partition, Measurement: meta.Measurement, RunID: meta.RunID,
			})
		}
		remaining += res.PointsAfter
	}
	if err := c.state.Forget(state.TargetSUT, nil, cleaned); err != nil {
		c.logger.Warn("state update failed", zap.Error(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", path)

	if len(cleaned) != len(results) {
		return benchErrors.NewInvariantViolation(benchErrors.CodePointsRemain,
			fmt.Sprintf("run %s: %d of %d buckets failed verification, %d points remain",
				meta.RunID, len(results)-len(cleaned), len(results), remaining))
	}
	return nil
}
