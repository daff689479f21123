package runner

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
)

// DeleteTarget scopes a delete. RunID may only be empty when WipeAll is set.
type DeleteTarget struct {
	Measurement string
	RunID       string
	Partitions  []string
	Start       time.Time
	Stop        time.Time
	WipeAll     bool
	// ExpectedPoints is the number of points the run wrote per partition,
	// or 0 when unknown.
	ExpectedPoints int64
}

func (t DeleteTarget) predicate() database.Predicate {
	if t.WipeAll {
		return database.Predicate{}
	}
	return database.Predicate{Measurement: t.Measurement, RunID: t.RunID}
}

func (t DeleteTarget) window() (time.Time, time.Time) {
	start, stop := t.Start, t.Stop
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	if stop.IsZero() {
		stop = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return start, stop
}

type DeleteResult struct {
	Partition      string  `json:"bucket"`
	Measurement    string  `json:"measurement"`
	RunID          string  `json:"run_id"`
	LatencySeconds float64 `json:"latency_s"`
	StatusCode     int     `json:"status_code"`
	OK             bool    `json:"ok"`
	PointsBefore   int64   `json:"points_before"`
	PointsAfter    int64   `json:"points_after"`
	DeletedPoints  int64   `json:"deleted_points"`
	ExpectedPoints *int64  `json:"expected_points"`
	Error          string  `json:"error,omitempty"`
}

// RunDelete deletes the target's points partition by partition, counting
// before and after. A partition is OK only when the delete succeeded and
// nothing matching the predicate remains.
func (c *Coordinator) RunDelete(ctx context.Context, target DeleteTarget) ([]DeleteResult, error) {
	if target.RunID == "" && !target.WipeAll {
		return nil, benchErrors.NewConfigError(benchErrors.CodeMissingRunID, "refusing to delete without run_id; set wipe-all to delete every point")
	}
	if len(target.Partitions) == 0 {
		return nil, benchErrors.ConfigErrorf("delete needs at least one partition")
	}
	for _, p := range target.Partitions {
		if err := database.ValidatePartition(p); err != nil {
			return nil, err
		}
	}
	if c.Connect == nil {
		return nil, benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "coordinator has no store connector")
	}
	store, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	logger := c.logger().With(zap.String("run_id", target.RunID), zap.Bool("wipe_all", target.WipeAll))
	pred := target.predicate()
	start, stop := target.window()
	obs := c.observer()

	results := make([]DeleteResult, 0, len(target.Partitions))
	for _, partition := range target.Partitions {
		res := DeleteResult{Partition: partition, Measurement: pred.Measurement, RunID: pred.RunID}
		if target.ExpectedPoints > 0 {
			expected := target.ExpectedPoints
			res.ExpectedPoints = &expected
		}

		// Verification needs both counts; a failed count never passes.
		var countErr error
		before, err := store.CountPoints(ctx, partition, pred.Measurement, pred.RunID)
		if err != nil {
			logger.Warn("count before delete failed", zap.String("partition", partition), zap.Error(err))
			countErr = benchErrors.NewOperationFailure(benchErrors.CodeQueryFailed, "count before delete "+partition, err)
		}
		res.PointsBefore = before

		t0 := time.Now()
		err = call(ctx, c.OpTimeout, func(ctx context.Context) error {
			return store.DeleteByPredicate(ctx, partition, start, stop, pred)
		})
		res.LatencySeconds = time.Since(t0).Seconds()
		if err != nil {
			res.StatusCode = StatusOf(err)
			res.Error = benchErrors.NewOperationFailure(benchErrors.CodeDeleteFailed, "delete "+partition, err).Error()
		} else {
			res.StatusCode = http.StatusNoContent
		}

		after, err := store.CountPoints(ctx, partition, pred.Measurement, pred.RunID)
		if err != nil {
			logger.Warn("count after delete failed", zap.String("partition", partition), zap.Error(err))
			if countErr == nil {
				countErr = benchErrors.NewOperationFailure(benchErrors.CodeQueryFailed, "count after delete "+partition, err)
			}
		} else {
			res.PointsAfter = after
		}
		if countErr == nil {
			res.DeletedPoints = res.PointsBefore - res.PointsAfter
		} else if res.Error == "" {
			res.Error = countErr.Error()
		}
		res.OK = res.StatusCode == http.StatusNoContent && countErr == nil && res.PointsAfter == 0

		logger.Info("delete finished",
			zap.String("partition", partition),
			zap.Int64("points_before", res.PointsBefore),
			zap.Int64("points_after", res.PointsAfter),
			zap.Bool("ok", res.OK))
		obs.ObserveOperation(KindDelete, OperationResult{
			Partition:      partition,
			LatencySeconds: res.LatencySeconds,
			Units:          res.DeletedPoints,
			OK:             res.OK,
			StatusCode:     res.StatusCode,
		})
		results = append(results, res)
	}
	return results, nil
}
