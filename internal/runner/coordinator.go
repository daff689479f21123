package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/logging"
	"tsdb-benchmark/internal/workload"
)

// Coordinator fans a workload out over partitions and workers. Each worker
// gets its own Store handle from Connect.
type Coordinator struct {
	Connect   database.Connector
	Logger    *zap.Logger
	Observer  Observer
	OpTimeout time.Duration
	// RunID, when set, is used instead of a generated one.
	RunID string
}

type lane struct {
	partition string
	worker    int
	store     database.Store
}

func (c *Coordinator) logger() *zap.Logger { return logging.OrNop(c.Logger) }

func (c *Coordinator) observer() Observer {
	if c.Observer == nil {
		return nopObserver{}
	}
	return c.Observer
}

func (c *Coordinator) newRunID() string {
	if c.RunID != "" {
		return c.RunID
	}
	return uuid.New().String()
}

// open connects one handle per worker and ensures every partition exists. All
// setup happens before the clock starts.
func (c *Coordinator) open(ctx context.Context, partitions []string, workers int) ([]lane, error) {
	if c.Connect == nil {
		return nil, benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "coordinator has no store connector")
	}
	lanes := make([]lane, 0, len(partitions)*workers)
	for _, partition := range partitions {
		for w := 0; w < workers; w++ {
			store, err := c.Connect(ctx)
			if err != nil {
				closeLanes(lanes)
				return nil, fmt.Errorf("open store handle for %s worker %d: %w", partition, w, err)
			}
			lanes = append(lanes, lane{partition: partition, worker: w, store: store})
		}
	}

	for i, partition := range partitions {
		if err := lanes[i*workers].store.EnsurePartition(ctx, partition); err != nil {
			closeLanes(lanes)
			return nil, fmt.Errorf("ensure partition %s: %w", partition, err)
		}
	}
	return lanes, nil
}

func closeLanes(lanes []lane) {
	for _, l := range lanes {
		l.store.Close()
	}
}

// run starts one goroutine per lane and merges the per-worker results after
// all of them have returned.
func (c *Coordinator) run(ctx context.Context, lanes []lane, term workload.Termination, ratePerWorker float64, task func(l lane) Task) ([]OperationResult, time.Duration) {
	perWorker := make([][]OperationResult, len(lanes))
	stop := Stop{Iterations: term.Iterations}
	start := time.Now()
	if !term.CountBounded() {
		stop.Deadline = start.Add(term.Duration)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range lanes {
		g.Go(func() error {
			perWorker[i] = RunWorker(gctx, stop, newLimiter(ratePerWorker), task(l))
			return nil
		})
	}
	_ = g.Wait()
	wall := time.Since(start)

	total := 0
	for _, results := range perWorker {
		total += len(results)
	}
	merged := make([]OperationResult, 0, total)
	for _, results := range perWorker {
		merged = append(merged, results...)
	}
	return merged, wall
}

// RunWrite executes a write workload and returns every batch result with its
// partition attribution.
func (c *Coordinator) RunWrite(ctx context.Context, spec workload.Spec) (*RunResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	runID := c.newRunID()
	logger := c.logger().With(zap.String("run_id", runID))
	partitions := spec.Partitions()

	base := spec.Precision.Now()
	gen, err := workload.NewGenerator(spec, base, spec.Seed)
	if err != nil {
		return nil, err
	}

	lanes, err := c.open(ctx, partitions, spec.WorkerCount)
	if err != nil {
		return nil, err
	}
	defer closeLanes(lanes)

	logger.Info("starting write run",
		zap.Strings("partitions", partitions),
		zap.Int("workers", spec.WorkerCount),
		zap.Int("batch_size", spec.BatchSize),
		zap.Int("batches", spec.Iterations),
		zap.Duration("duration", spec.Duration))

	obs := c.observer()
	started := time.Now()
	results, wall := c.run(ctx, lanes, spec.Termination, spec.RatePerWorker, func(l lane) Task {
		writerID := fmt.Sprintf("%s-%d", l.partition, l.worker)
		tags := map[string]string{database.TagRunID: runID, database.TagWriterID: writerID}
		wlog := logger.With(zap.String("partition", l.partition), zap.String("writer_id", writerID))
		return func(ctx context.Context, b int) OperationResult {
			first, stride := workload.WriteIndex(spec, l.worker, b)
			points := gen.Batch(first, stride, spec.BatchSize, tags)
			res := ExecuteWrite(ctx, l.store, l.partition, b, points, c.OpTimeout)
			res.WorkerID = l.worker
			if !res.OK {
				wlog.Debug("batch failed", zap.Int("batch", b), zap.Int("status", res.StatusCode),
					zap.Bool("retryable", res.Retryable), zap.String("error", res.Error))
			}
			obs.ObserveOperation(KindWrite, res)
			return res
		}
	})

	rr := &RunResult{
		RunID:         runID,
		Kind:          KindWrite,
		Partitions:    partitions,
		Endpoint:      lanes[0].store.Endpoint(),
		Dialect:       lanes[0].store.Dialect(),
		Started:       started,
		WallClock:     wall,
		BaseTimestamp: base,
		Results:       results,
	}
	logger.Info("write run finished",
		zap.Int("batches", len(results)),
		zap.Int("failed", rr.Failed()),
		zap.Duration("wall_clock", wall))
	return rr, nil
}

// RunQuery executes a query workload. The query text is rendered once per
// partition for the store's dialect.
func (c *Coordinator) RunQuery(ctx context.Context, spec workload.QuerySpec) (*RunResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	runID := c.newRunID()
	logger := c.logger().With(zap.String("run_id", runID))
	partitions := spec.Partitions()

	lanes, err := c.open(ctx, partitions, spec.WorkerCount)
	if err != nil {
		return nil, err
	}
	defer closeLanes(lanes)

	dialect := lanes[0].store.Dialect()
	now := time.Now()
	texts := make(map[string]string, len(partitions))
	for _, partition := range partitions {
		text, err := workload.RenderQuery(dialect, partition, spec, now)
		if err != nil {
			return nil, err
		}
		texts[partition] = text
	}

	logger.Info("starting query run",
		zap.Strings("partitions", partitions),
		zap.String("query_type", string(spec.QueryType)),
		zap.Int("workers", spec.WorkerCount))

	obs := c.observer()
	results, wall := c.run(ctx, lanes, spec.Termination, spec.RatePerWorker, func(l lane) Task {
		text := texts[l.partition]
		qlog := logger.With(zap.String("partition", l.partition), zap.Int("worker", l.worker))
		return func(ctx context.Context, i int) OperationResult {
			res := ExecuteQuery(ctx, l.store, l.partition, i, text, c.OpTimeout)
			res.WorkerID = l.worker
			if !res.OK {
				qlog.Debug("query failed", zap.Int("iteration", i), zap.Int("status", res.StatusCode),
					zap.Bool("retryable", res.Retryable), zap.String("error", res.Error))
			}
			obs.ObserveOperation(KindQuery, res)
			return res
		}
	})

	rr := &RunResult{
		RunID:      runID,
		Kind:       KindQuery,
		Partitions: partitions,
		Endpoint:   lanes[0].store.Endpoint(),
		Dialect:    dialect,
		Started:    now,
		WallClock:  wall,
		QueryText:  texts,
		Results:    results,
	}
	logger.Info("query run finished",
		zap.Int("queries", len(results)),
		zap.Int("failed", rr.Failed()),
		zap.Duration("wall_clock", wall))
	return rr, nil
}
