package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/report"
	"tsdb-benchmark/internal/state"
	"tsdb-benchmark/internal/workload"
)

// defaultBatches is used when neither a scenario file nor a flag sets a
// termination condition.
const defaultBatches = 10

type writeFlags struct {
	scenario        string
	scenarioID      string
	measurement     string
	batchSize       int
	workers         int
	precision       string
	pointComplexity string
	tagCardinality  int
	timeOrdering    string
	compression     string
	rate            float64
	seed            uint64
	bucket          string
	bucketPrefix    string
	bucketCount     int
	batches         int
	duration        time.Duration
}

func (f *writeFlags) register(cmd *cobra.Command, multi bool) {
	d := workload.DefaultSpec()
	fs := cmd.Flags()
	fs.StringVar(&f.scenario, "scenario", "", "YAML scenario file; flags override its values")
	fs.StringVar(&f.scenarioID, "scenario-id", "", "scenario id used in report names (default: measurement)")
	fs.StringVar(&f.measurement, "measurement", d.Measurement, "measurement name")
	fs.IntVar(&f.batchSize, "batch-size", d.BatchSize, "points per batch")
	fs.IntVar(&f.workers, "workers", d.WorkerCount, "concurrent writers per bucket")
	fs.StringVar(&f.precision, "precision", string(d.Precision), "timestamp precision (ns, ms, s)")
	fs.StringVar(&f.pointComplexity, "point-complexity", string(d.PointComplexity), "fields per point (low, medium, high)")
	fs.IntVar(&f.tagCardinality, "tag-cardinality", d.TagCardinality, "distinct device ids")
	fs.StringVar(&f.timeOrdering, "time-ordering", string(d.TimeOrdering), "in_order or out_of_order")
	fs.StringVar(&f.compression, "compression", d.Compression, "request compression (none, gzip)")
	fs.Float64Var(&f.rate, "rate", 0, "batches per second per worker, 0 for unpaced")
	fs.Uint64Var(&f.seed, "seed", 0, "generator seed")
	fs.IntVar(&f.batches, "batches", 0, "batches per worker")
	fs.DurationVar(&f.duration, "duration", 0, "run for this long instead of a fixed batch count")
	if multi {
		fs.StringVar(&f.bucketPrefix, "bucket-prefix", "bench", "bucket name prefix")
		fs.IntVar(&f.bucketCount, "bucket-count", 2, "number of buckets")
	} else {
		fs.StringVar(&f.bucket, "bucket", "", "bucket name (default: config bucket)")
	}
}

// spec loads the scenario, or the defaults, and applies every flag the user
// set explicitly.
func (f *writeFlags) spec(cmd *cobra.Command, defaultBucket string, multi bool) (workload.Spec, error) {
	spec := workload.DefaultSpec()
	spec.Partition = defaultBucket
	if f.scenario != "" {
		var err error
		if spec, err = workload.LoadSpec(f.scenario); err != nil {
			return spec, err
		}
	}

	changed := cmd.Flags().Changed
	fromFile := f.scenario != ""
	set := func(name string) bool { return changed(name) || !fromFile }

	if changed("scenario-id") {
		spec.ScenarioID = f.scenarioID
	}
	if set("measurement") {
		spec.Measurement = f.measurement
	}
	if set("batch-size") {
		spec.BatchSize = f.batchSize
	}
	if set("workers") {
		spec.WorkerCount = f.workers
	}
	if set("precision") {
		spec.Precision = database.Precision(f.precision)
	}
	if set("point-complexity") {
		spec.PointComplexity = workload.Complexity(f.pointComplexity)
	}
	if set("tag-cardinality") {
		spec.TagCardinality = f.tagCardinality
	}
	if set("time-ordering") {
		spec.TimeOrdering = workload.Ordering(f.timeOrdering)
	}
	if set("compression") {
		spec.Compression = f.compression
	}
	if changed("rate") {
		spec.RatePerWorker = f.rate
	}
	if changed("seed") {
		spec.Seed = f.seed
	}
	if changed("batches") {
		spec.Iterations, spec.Duration = f.batches, 0
	}
	if changed("duration") {
		spec.Iterations, spec.Duration = 0, f.duration
	}
	if spec.Iterations == 0 && spec.Duration == 0 {
		spec.Iterations = defaultBatches
	}

	if multi {
		if set("bucket-prefix") {
			spec.PartitionPrefix = f.bucketPrefix
		}
		if set("bucket-count") {
			spec.PartitionCount = f.bucketCount
		}
	} else if changed("bucket") {
		spec.Partitioning = workload.Partitioning{Partition: f.bucket}
	}
	if multi != spec.Multi() {
		return spec, benchErrors.ConfigErrorf("scenario partitioning does not match %s", cmd.Name())
	}
	return spec, spec.Validate()
}

func newWriteCmd(c *cli, multi bool) *cobra.Command {
	f := &writeFlags{}
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write synthetic points into one bucket",
		Args:  cobra.NoArgs,
	}
	if multi {
		cmd.Use = "multi-write"
		cmd.Short = "Write synthetic points into several buckets in parallel"
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		spec, err := f.spec(cmd, c.cfg.Bucket, multi)
		if err != nil {
			return err
		}
		return c.runWrite(cmd, spec)
	}
	f.register(cmd, multi)
	cmd.Flags().StringVar(&c.runID, "run-id", "", "use this run id instead of generating one")
	return cmd
}

func (c *cli) runWrite(cmd *cobra.Command, spec workload.Spec) error {
	ctx := cmd.Context()
	rr, err := c.coordinator().RunWrite(ctx, spec)
	if err != nil {
		return err
	}

	// State and context are written before publishing can fail.
	partitions := rr.Partitions
	if err := c.state.RegisterPartitions(state.TargetSUT, partitions...); err != nil {
		c.logger.Warn("state update failed", zap.Error(err))
	}
	if err := c.state.RegisterData(state.TargetSUT, spec.Measurement, rr.RunID, partitions...); err != nil {
		c.logger.Warn("state update failed", zap.Error(err))
	}

	r := report.NewWriteReport(rr, spec, c.env())
	ctxPath, err := report.NewStore(c.cfg.Reports.Dir, false, c.logger).SaveContext(r)
	if err != nil {
		return err
	}
	path, err := c.publish(ctx, r)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d batches, %d failed, %d points in %s\n",
		rr.RunID, len(rr.Results), rr.Failed(), r.Meta.TotalPoints, rr.WallClock.Round(time.Millisecond))
	fmt.Fprintf(cmd.OutOrStdout(), "report: %s\ncontext: %s\n", path, ctxPath)
	return nil
}
