// Package runner executes workloads against a Store: one timed operation
// at a time inside a worker loop, many workers per coordinated run.
package runner

import (
	"time"
)

// Operation kinds reported to observers.
const (
	KindWrite  = "write"
	KindQuery  = "query"
	KindDelete = "delete"
)

// OperationResult is one timed batch write or query. It is created by a
// single worker and never mutated after being appended to that worker's
// result list.
type OperationResult struct {
	Index                 int      `json:"batch_index"`
	WorkerID              int      `json:"worker_id"`
	Partition             string   `json:"bucket,omitempty"`
	LatencySeconds        float64  `json:"latency_s"`
	Units                 int64    `json:"units"`
	OK                    bool     `json:"ok"`
	StatusCode            int      `json:"status_code"`
	Rows                  int64    `json:"rows_returned,omitempty"`
	Bytes                 int64    `json:"bytes_returned,omitempty"`
	TimeToFirstRowSeconds *float64 `json:"time_to_first_result_s,omitempty"`
	Error                 string   `json:"error,omitempty"`
	// Retryable marks failures a retry could plausibly fix (timeouts and
	// write errors). The pool itself never retries.
	Retryable bool `json:"retryable,omitempty"`
}

// RunResult is the merged output of a coordinated run.
type RunResult struct {
	RunID      string
	Kind       string
	Partitions []string
	Endpoint   string
	Dialect    string
	Started    time.Time
	WallClock  time.Duration
	// BaseTimestamp is the first generated timestamp, in spec precision.
	BaseTimestamp int64
	// QueryText is the rendered query per partition.
	QueryText map[string]string
	Results   []OperationResult
}

// Failed counts results with OK == false.
func (r *RunResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK {
			n++
		}
	}
	return n
}

// ByPartition groups results by partition, preserving order.
func (r *RunResult) ByPartition() map[string][]OperationResult {
	out := make(map[string][]OperationResult, len(r.Partitions))
	for _, res := range r.Results {
		out[res.Partition] = append(out[res.Partition], res)
	}
	return out
}

// Observer receives every operation result as it is produced. It is called
// concurrently from all workers.
type Observer interface {
	ObserveOperation(kind string, res OperationResult)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, OperationResult) {}
