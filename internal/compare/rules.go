package compare

import (
	"reflect"

	"tsdb-benchmark/internal/report"
)

// Classify decides a report's kind from its file name alone. A name outside
// every known prefix is KindUnknown whatever the file contains.
func Classify(name string) report.Kind {
	return report.KindOfName(name)
}

// shapeOf guesses a report's kind from the keys it carries. It only feeds the
// kind_changed cross-check and never classifies a file on its own.
func shapeOf(doc report.Document) report.Kind {
	switch {
	case doc.Has("batches"):
		if n, ok := doc.Number("meta.bucket_count"); ok && n > 0 {
			return report.KindMultiWrite
		}
		return report.KindWrite
	case doc.Has("runs"):
		return report.KindQuery
	case doc.Has("per_bucket"), doc.Has("run"):
		return report.KindDelete
	}
	if _, ok := doc.Get("summary.throughput_ops_s"); ok {
		return report.KindUser
	}
	if _, ok := doc.Get("result.throughput_mib_s"); ok {
		return report.KindMemory
	}
	if _, ok := doc.Get("result.metrics"); ok {
		return report.KindStorage
	}
	return report.KindUnknown
}

type metricRule struct {
	name      string
	path      string
	direction Direction
	// required metrics fail the report when absent on either side.
	required bool
}

var metricRules = map[report.Kind][]metricRule{
	report.KindWrite: {
		{"latency_median_s", "summary.latency_stats.median", LowerIsBetter, true},
		{"throughput_points_per_s", "summary.throughput.points_per_s", HigherIsBetter, true},
	},
	report.KindMultiWrite: {
		{"latency_median_s", "summary.latency_stats.median", LowerIsBetter, false},
		{"throughput_points_per_s", "summary.throughput.points_per_s", HigherIsBetter, false},
	},
	report.KindQuery: {
		{"ttf_median_s", "summary.latency_stats.ttf_median", LowerIsBetter, true},
		{"total_median_s", "summary.latency_stats.total_median", LowerIsBetter, true},
		{"throughput_rows_per_s", "summary.throughput.rows_per_s", HigherIsBetter, true},
		{"throughput_bytes_per_s", "summary.throughput.bytes_per_s", HigherIsBetter, true},
	},
	report.KindDelete: {
		{"delete_latency_s", "summary.delete_latency_s", LowerIsBetter, false},
	},
	report.KindUser: {
		{"throughput_ops_s", "summary.throughput_ops_s", HigherIsBetter, false},
		{"latency_median_s", "summary.stats_s.median", LowerIsBetter, false},
	},
	report.KindMemory: {
		{"throughput_mib_s", "result.throughput_mib_s", HigherIsBetter, false},
		{"total_time_s", "result.total_time_s", LowerIsBetter, false},
	},
	report.KindStorage: {
		{"read_bw_kib_s", "result.metrics.read_bw_kib_s", HigherIsBetter, false},
		{"write_bw_kib_s", "result.metrics.write_bw_kib_s", HigherIsBetter, false},
		{"read_iops", "result.metrics.read_iops", HigherIsBetter, false},
		{"write_iops", "result.metrics.write_iops", HigherIsBetter, false},
		{"read_lat_ns_mean", "result.metrics.read_lat_ns_mean", LowerIsBetter, false},
		{"write_lat_ns_mean", "result.metrics.write_lat_ns_mean", LowerIsBetter, false},
	},
}

// multiWriteConfig keys must not change between base and new.
var multiWriteConfig = []string{"bucket_count", "duration_s", "batch_size", "parallel_writers_per_bucket"}

// invariants are correctness checks no threshold waives.
func invariants(kind report.Kind, base, cand report.Document) []Check {
	switch kind {
	case report.KindWrite, report.KindMultiWrite, report.KindQuery:
		checks := []Check{zeroCheck(cand, "summary.errors_count", "errors_count==0", ErrNonzeroErrors)}
		if kind == report.KindMultiWrite {
			checks = append(checks, configUnchanged(base, cand)...)
		}
		return checks
	case report.KindDelete:
		okValue, _ := cand.Get("summary.ok")
		okCheck := Check{Check: "invariant", Metric: "summary.ok", New: okValue, Passed: okValue == true}
		if !okCheck.Passed {
			okCheck.Error = ErrNotOK
		}
		return []Check{okCheck, zeroCheck(cand, "summary.points_after", "summary.points_after==0", ErrNotZero)}
	case report.KindUser:
		return []Check{zeroCheck(cand, "summary.errors", "summary.errors==0", ErrNonzeroErrors)}
	}
	return nil
}

// zeroCheck requires the number at path to be present and exactly zero.
func zeroCheck(doc report.Document, path, metric, reason string) Check {
	v, _ := doc.Get(path)
	n, ok := doc.Number(path)
	c := Check{Check: "invariant", Metric: metric, New: v, Passed: ok && n == 0}
	if !c.Passed {
		c.Error = reason
	}
	return c
}

func configUnchanged(base, cand report.Document) []Check {
	var checks []Check
	for _, key := range multiWriteConfig {
		bv, bok := base.Get("meta." + key)
		nv, nok := cand.Get("meta." + key)
		if !bok || !nok || bv == nil || nv == nil {
			continue
		}
		c := Check{Check: "config", Metric: "meta." + key, Base: bv, New: nv, Passed: reflect.DeepEqual(bv, nv)}
		if !c.Passed {
			c.Error = ErrConfigChanged
		}
		checks = append(checks, c)
	}
	return checks
}
