package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tsdb-benchmark/internal/report"
	"tsdb-benchmark/internal/workload"
)

type queryFlags struct {
	scenario     string
	scenarioID   string
	measurement  string
	queryType    string
	resultSize   string
	limit        int
	timeRange    time.Duration
	workers      int
	compression  string
	rate         float64
	bucket       string
	bucketPrefix string
	bucketCount  int
	iterations   int
	duration     time.Duration
}

func newQueryCmd(c *cli) *cobra.Command {
	f := &queryFlags{}
	d := workload.DefaultQuerySpec()
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query workload and record per-query timings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := f.spec(cmd, c.cfg.Bucket)
			if err != nil {
				return err
			}
			rr, err := c.coordinator().RunQuery(cmd.Context(), spec)
			if err != nil {
				return err
			}
			path, err := c.publish(cmd.Context(), report.NewQueryReport(rr, spec, c.env()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d queries, %d failed in %s\nreport: %s\n",
				rr.RunID, len(rr.Results), rr.Failed(), rr.WallClock.Round(time.Millisecond), path)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.scenario, "scenario", "", "YAML query scenario file; flags override its values")
	fs.StringVar(&f.scenarioID, "scenario-id", "", "scenario id (default: <query-type>_<result-size>)")
	fs.StringVar(&f.measurement, "measurement", d.Measurement, "measurement to query")
	fs.StringVar(&f.queryType, "query-type", string(d.QueryType), "filter, aggregate, group_by, pivot, join or raw")
	fs.StringVar(&f.resultSize, "result-size", string(d.ResultSize), "small or large")
	fs.IntVar(&f.limit, "limit", 0, "row limit (default: implied by result size)")
	fs.DurationVar(&f.timeRange, "time-range", d.TimeRange, "queried time range ending now")
	fs.IntVar(&f.workers, "workers", d.WorkerCount, "concurrent queriers per bucket")
	fs.StringVar(&f.compression, "compression", d.Compression, "response compression (none, gzip)")
	fs.Float64Var(&f.rate, "rate", 0, "queries per second per worker, 0 for unpaced")
	fs.StringVar(&f.bucket, "bucket", "", "bucket name (default: config bucket)")
	fs.StringVar(&f.bucketPrefix, "bucket-prefix", "", "query <prefix>_<i> buckets instead of one")
	fs.IntVar(&f.bucketCount, "bucket-count", 0, "number of prefixed buckets")
	fs.IntVar(&f.iterations, "iterations", d.Iterations, "queries per worker")
	fs.DurationVar(&f.duration, "duration", 0, "run for this long instead of a fixed query count")
	fs.StringVar(&c.runID, "run-id", "", "use this run id instead of generating one")
	return cmd
}

func (f *queryFlags) spec(cmd *cobra.Command, defaultBucket string) (workload.QuerySpec, error) {
	spec := workload.DefaultQuerySpec()
	spec.Partition = defaultBucket
	if f.scenario != "" {
		var err error
		if spec, err = workload.LoadQuerySpec(f.scenario); err != nil {
			return spec, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("scenario-id") {
		spec.ScenarioID = f.scenarioID
	}
	if changed("measurement") {
		spec.Measurement = f.measurement
	}
	if changed("query-type") {
		spec.QueryType = workload.QueryType(f.queryType)
	}
	if changed("result-size") {
		spec.ResultSize = workload.ResultSize(f.resultSize)
	}
	if changed("limit") {
		spec.Limit = f.limit
	}
	if changed("time-range") {
		spec.TimeRange = f.timeRange
	}
	if changed("workers") {
		spec.WorkerCount = f.workers
	}
	if changed("compression") {
		spec.Compression = f.compression
	}
	if changed("rate") {
		spec.RatePerWorker = f.rate
	}
	if changed("bucket") {
		spec.Partitioning = workload.Partitioning{Partition: f.bucket}
	}
	if changed("bucket-prefix") {
		spec.PartitionPrefix = f.bucketPrefix
	}
	if changed("bucket-count") {
		spec.PartitionCount = f.bucketCount
	}
	if changed("iterations") {
		spec.Iterations, spec.Duration = f.iterations, 0
	}
	if changed("duration") {
		spec.Iterations, spec.Duration = 0, f.duration
	}
	return spec, spec.Validate()
}
