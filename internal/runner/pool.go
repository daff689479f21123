package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Stop is the termination condition of a worker: a fixed number of
// iterations, or a wall-clock deadline checked before each iteration.
type Stop struct {
	Iterations int
	Deadline   time.Time
}

func (s Stop) done(iteration int, now time.Time) bool {
	if s.Iterations > 0 {
		return iteration >= s.Iterations
	}
	return !now.Before(s.Deadline)
}

// Task builds and executes the iteration-th operation of a worker.
type Task func(ctx context.Context, iteration int) OperationResult

// RunWorker loops build, execute, append, check stop. Cancelling ctx stops
// the loop between operations; an operation in flight always completes.
// limiter may be nil.
func RunWorker(ctx context.Context, stop Stop, limiter *rate.Limiter, task Task) []OperationResult {
	var results []OperationResult
	if stop.Iterations > 0 {
		results = make([]OperationResult, 0, stop.Iterations)
	}
	for i := 0; !stop.done(i, time.Now()); i++ {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
			if stop.done(i, time.Now()) {
				break
			}
		}
		results = append(results, task(ctx, i))
	}
	return results
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
