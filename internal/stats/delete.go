package stats

import "tsdb-benchmark/internal/runner"

// DeleteSummary aggregates per-partition delete results. OK holds only when
// every partition is OK.
type DeleteSummary struct {
	Partitions     int      `json:"bucket_count"`
	OK             bool     `json:"ok"`
	ErrorsCount    int      `json:"errors_count"`
	PointsBefore   int64    `json:"points_before"`
	PointsAfter    int64    `json:"points_after"`
	DeletedPoints  int64    `json:"deleted_points"`
	DeleteLatencyS *float64 `json:"delete_latency_s"`
	LatencySTotal  float64  `json:"latency_s_total"`
	WipeAll        bool     `json:"wipe_all"`
}

func SummarizeDeletes(results []runner.DeleteResult, wipeAll bool) DeleteSummary {
	s := DeleteSummary{Partitions: len(results), OK: len(results) > 0, WipeAll: wipeAll}
	for _, r := range results {
		if !r.OK {
			s.OK = false
		}
		if r.StatusCode != 204 {
			s.ErrorsCount++
		}
		s.PointsBefore += r.PointsBefore
		s.PointsAfter += r.PointsAfter
		s.DeletedPoints += r.DeletedPoints
		s.LatencySTotal += r.LatencySeconds
	}
	if len(results) > 0 {
		s.DeleteLatencyS = ptr(s.LatencySTotal)
	}
	return s
}
