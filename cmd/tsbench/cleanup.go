package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/runner"
	"tsdb-benchmark/internal/state"
)

func newCleanupCmd(c *cli) *cobra.Command {
	opts := state.CleanupOptions{Target: state.TargetSUT}
	var yes bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove benchmark data or buckets recorded in the state file",
		Long: "Deletes data written by recorded runs, scoped by run id, or drops the " +
			"recorded buckets with --drop-buckets. Prints the plan and changes nothing unless --yes is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := c.state.Plan(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printPlan(out, plan)
			if len(plan.Partitions) == 0 && len(plan.Data) == 0 {
				fmt.Fprintln(out, "nothing to clean up")
				return nil
			}
			if !yes {
				fmt.Fprintln(out, "dry run; pass --yes to apply")
				return nil
			}
			if plan.Drop {
				return c.dropPartitions(cmd, plan)
			}
			return c.deleteData(cmd, plan)
		},
	}

	fs := cmd.Flags()
	fs.StringSliceVar(&opts.Partitions, "bucket", nil, "bucket to clean (repeatable; default: recorded buckets)")
	fs.StringSliceVar(&opts.Exclude, "exclude", nil, "bucket to leave alone (repeatable)")
	fs.StringSliceVar(&opts.Measurements, "measurement", nil, "measurement to delete (needs --run-id)")
	fs.StringSliceVar(&opts.RunIDs, "run-id", nil, "run id to delete (repeatable)")
	fs.BoolVar(&opts.FromState, "from-state", true, "use the buckets and runs recorded in the state file")
	fs.BoolVar(&opts.DropPartitions, "drop-buckets", false, "drop whole buckets instead of deleting run data")
	fs.BoolVar(&yes, "yes", false, "apply the plan")
	return cmd
}

func printPlan(w io.Writer, plan state.Plan) {
	if plan.Drop {
		for _, p := range plan.Partitions {
			fmt.Fprintf(w, "drop bucket %s\n", p)
		}
		return
	}
	for _, d := range plan.Data {
		fmt.Fprintf(w, "delete %s measurement=%s run_id=%s\n", d.Partition, d.Measurement, d.RunID)
	}
}

func (c *cli) dropPartitions(cmd *cobra.Command, plan state.Plan) error {
	ctx := cmd.Context()
	store, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	dropper, ok := store.(database.PartitionDropper)
	if !ok {
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue,
			fmt.Sprintf("store %s cannot drop buckets", store.Dialect()))
	}

	var dropped []string
	var firstErr error
	for _, p := range plan.Partitions {
		if err := dropper.DropPartition(ctx, p); err != nil {
			c.logger.Warn("drop bucket failed", zap.String("partition", p), zap.Error(err))
			if firstErr == nil {
				firstErr = benchErrors.NewOperationFailure(benchErrors.CodeDeleteFailed, "drop "+p, err)
			}
			continue
		}
		dropped = append(dropped, p)
		fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", p)
	}
	if err := c.state.Forget(plan.Target, dropped, nil); err != nil {
		return err
	}
	return firstErr
}

// deleteData runs one run-scoped delete per (measurement, run id) over the
// buckets it was written to.
func (c *cli) deleteData(cmd *cobra.Command, plan state.Plan) error {
	type runKey struct{ measurement, runID string }
	var order []runKey
	buckets := map[runKey][]string{}
	for _, d := range plan.Data {
		k := runKey{d.Measurement, d.RunID}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], d.Partition)
	}

	coord := c.coordinator()
	var cleaned []state.DataRecord
	failed := 0
	for _, k := range order {
		results, err := coord.RunDelete(cmd.Context(), runner.DeleteTarget{
			Measurement: k.measurement,
			RunID:       k.runID,
			Partitions:  buckets[k],
		})
		if err != nil {
			return err
		}
		for _, res := range results {
			if !res.OK {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "failed %s run_id=%s: status=%d after=%d\n",
					res.Partition, k.runID, res.StatusCode, res.PointsAfter)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d points from %s run_id=%s\n", res.DeletedPoints, res.Partition, k.runID)
			cleaned = append(cleaned, state.DataRecord{
				Target: plan.Target, Partition: res.Partition, Measurement: k.measurement, RunID: k.runID,
			})
		}
	}
	if err := c.state.Forget(plan.Target, nil, cleaned); err != nil {
		return err
	}
	if failed > 0 {
		return benchErrors.NewInvariantViolation(benchErrors.CodePointsRemain,
			fmt.Sprintf("%d run-scoped deletes did not verify", failed))
	}
	return nil
}
