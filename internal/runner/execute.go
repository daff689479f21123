package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
)

// ExecuteWrite writes one batch and records the outcome. It never returns an
// error: failures, timeouts and driver panics become OK == false.
func ExecuteWrite(ctx context.Context, store database.Store, partition string, index int, points []database.Point, timeout time.Duration) OperationResult {
	res := OperationResult{Index: index, Partition: partition, Units: int64(len(points))}
	start := time.Now()
	err := call(ctx, timeout, func(ctx context.Context) error {
		return store.WriteBatch(ctx, partition, points)
	})
	res.LatencySeconds = time.Since(start).Seconds()
	if err != nil {
		err = benchErrors.NewOperationFailure(failureCode(err, benchErrors.CodeWriteFailed), "write batch", err)
	}
	res.finish(err, http.StatusNoContent)
	return res
}

// ExecuteQuery runs one query and records its timing, row and byte counts.
func ExecuteQuery(ctx context.Context, store database.Store, partition string, index int, queryText string, timeout time.Duration) OperationResult {
	res := OperationResult{Index: index, Partition: partition, Units: 1}
	var stats database.QueryStats
	start := time.Now()
	err := call(ctx, timeout, func(ctx context.Context) error {
		var err error
		stats, err = store.RunQuery(ctx, partition, queryText)
		return err
	})
	res.LatencySeconds = time.Since(start).Seconds()
	res.Rows = stats.Rows
	res.Bytes = stats.Bytes
	if stats.Rows > 0 {
		ttf := stats.TimeToFirstRow.Seconds()
		res.TimeToFirstRowSeconds = &ttf
	}
	if err != nil {
		err = benchErrors.NewOperationFailure(failureCode(err, benchErrors.CodeQueryFailed), "run query", err)
	}
	res.finish(err, http.StatusOK)
	return res
}

func (r *OperationResult) finish(err error, okStatus int) {
	if err == nil {
		r.OK = true
		r.StatusCode = okStatus
		return
	}
	r.StatusCode = StatusOf(err)
	r.Error = err.Error()
	r.Retryable = benchErrors.IsRetryable(err)
}

// StatusOf maps a failed operation to a status code: the driver's own code
// if the error carries one, 504 for timeouts and 500 otherwise.
func StatusOf(err error) int {
	if code, ok := database.StatusCodeOf(err); ok {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func failureCode(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return benchErrors.CodeTimeout
	}
	return fallback
}

// call runs fn detached from the caller's cancellation, bounded by timeout,
// and converts a panic into an error.
func call(parent context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	ctx := context.WithoutCancel(parent)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = benchErrors.NewInternalError("store panic", fmt.Errorf("%v", p))
		}
	}()
	return fn(ctx)
}
