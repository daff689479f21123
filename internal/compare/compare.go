// Package compare judges a directory of new reports against a directory of
// baseline reports and produces a regression verdict.
package compare

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"go.uber.org/zap"

	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/logging"
	"tsdb-benchmark/internal/report"
)

// ReportFile is the default artifact name.
const ReportFile = "regression_report.json"

type Direction string

const (
	LowerIsBetter  Direction = "lower_better"
	HigherIsBetter Direction = "higher_better"
)

// Failure reasons recorded in Check.Error.
const (
	ErrUnknownReportType = "unknown_report_type"
	ErrMissingInNew      = "missing_in_new"
	ErrMissingInBase     = "missing_in_base"
	ErrMissing           = "missing"
	ErrUnreadable        = "unreadable"
	ErrNotOK             = "not_ok"
	ErrNotZero           = "not_zero"
	ErrNonzeroErrors     = "nonzero_errors"
	ErrConfigChanged     = "config_changed"
	ErrKindChanged       = "kind_changed"
	ErrMetaMismatch      = "meta_mismatch"
)

type Options struct {
	LatencyUp      float64
	ThroughputDown float64
	Logger         *zap.Logger
}

// Ratio is a relative change that serialises +Inf as the string "+Inf".
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"+Inf"`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == `"+Inf"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Check is one recorded comparison.
type Check struct {
	File      string      `json:"file"`
	Kind      report.Kind `json:"kind"`
	Check     string      `json:"check,omitempty"`
	Metric    string      `json:"metric,omitempty"`
	Base      interface{} `json:"base,omitempty"`
	New       interface{} `json:"new,omitempty"`
	Regress   *Ratio      `json:"regress,omitempty"`
	Limit     *float64    `json:"limit,omitempty"`
	Direction Direction   `json:"direction,omitempty"`
	Passed    bool        `json:"passed"`
	Error     string      `json:"error,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Report is the regression verdict. It passes iff Failures is empty.
type Report struct {
	BaseDir        string  `json:"base_dir"`
	NewDir         string  `json:"new_dir"`
	LatencyUp      float64 `json:"latency_up"`
	ThroughputDown float64 `json:"throughput_down"`
	ChecksCount    int     `json:"checks_count"`
	FailuresCount  int     `json:"failures_count"`
	Failures       []Check `json:"failures"`
	Checks         []Check `json:"checks"`
}

func (r *Report) Passed() bool { return len(r.Failures) == 0 }

func (r *Report) record(c Check) {
	r.Checks = append(r.Checks, c)
	r.ChecksCount++
	if !c.Passed {
		r.Failures = append(r.Failures, c)
		r.FailuresCount++
	}
}

// Write stores the report as indented JSON.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "encode regression report", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "write "+path, err)
	}
	return nil
}

// Print writes the verdict line followed by at most limit failures.
func (r *Report) Print(w io.Writer, limit int) {
	if r.Passed() {
		fmt.Fprintln(w, "PASS: no regressions detected.")
		return
	}
	fmt.Fprintf(w, "FAIL: %d regression failures. See %s\n", r.FailuresCount, ReportFile)
	for i, f := range r.Failures {
		if i == limit {
			break
		}
		line, _ := json.Marshal(f)
		fmt.Fprintln(w, string(line))
	}
}

// RelativeChange is (new-base)/base with 0/0 = 0 and x/0 = +Inf.
func RelativeChange(base, cand float64) float64 {
	if base == 0 {
		if cand == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return (cand - base) / base
}

// Directional checks a metric against its threshold.
func Directional(metric string, base, cand float64, dir Direction, opts Options) Check {
	r := RelativeChange(base, cand)
	c := Check{Check: "threshold", Metric: metric, Base: base, New: cand, Direction: dir}
	ratio := Ratio(r)
	c.Regress = &ratio
	switch dir {
	case LowerIsBetter:
		limit := opts.LatencyUp
		c.Limit = &limit
		c.Passed = r <= limit
	case HigherIsBetter:
		limit := -opts.ThroughputDown
		c.Limit = &limit
		c.Passed = r >= limit
	}
	return c
}

// Compare judges every report in newDir against the same-named report in
// baseDir. Only unreadable directories are returned as errors; everything
// else becomes a check.
func Compare(baseDir, newDir string, opts Options) (*Report, error) {
	logger := logging.OrNop(opts.Logger)
	baseFiles, err := reportFiles(baseDir)
	if err != nil {
		return nil, err
	}
	newFiles, err := reportFiles(newDir)
	if err != nil {
		return nil, err
	}

	out := &Report{
		BaseDir:        baseDir,
		NewDir:         newDir,
		LatencyUp:      opts.LatencyUp,
		ThroughputDown: opts.ThroughputDown,
		Failures:       []Check{},
		Checks:         []Check{},
	}

	names := make([]string, 0, len(baseFiles)+len(newFiles))
	for name := range baseFiles {
		names = append(names, name)
	}
	for name := range newFiles {
		if _, ok := baseFiles[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		baseFile, inBase := baseFiles[name]
		newFile, inNew := newFiles[name]
		switch {
		case !inNew:
			out.record(Check{File: name, Kind: report.KindOfName(name), Check: "report_set", Error: ErrMissingInNew})
			continue
		case !inBase:
			out.record(Check{File: name, Kind: report.KindOfName(name), Check: "report_set", Error: ErrMissingInBase})
			continue
		}

		b, err := report.Load(filepath.Join(baseDir, baseFile))
		if err != nil {
			out.record(Check{File: name, Kind: report.KindOfName(name), Check: "load", Error: ErrUnreadable, Detail: err.Error()})
			continue
		}
		n, err := report.Load(filepath.Join(newDir, newFile))
		if err != nil {
			out.record(Check{File: name, Kind: report.KindOfName(name), Check: "load", Error: ErrUnreadable, Detail: err.Error()})
			continue
		}

		kind := Classify(name)
		logger.Debug("comparing report", zap.String("file", name), zap.String("kind", string(kind)))
		for _, c := range judge(name, kind, b, n, opts) {
			c.File = name
			c.Kind = kind
			out.record(c)
		}
	}

	logger.Info("comparison finished",
		zap.Int("checks", out.ChecksCount),
		zap.Int("failures", out.FailuresCount))
	return out, nil
}

// reportFiles maps logical report names to file names in dir.
func reportFiles(dir string) (map[string]string, error) {
	names, err := report.List(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(names))
	for _, name := range names {
		logical := report.LogicalName(name)
		if logical == ReportFile {
			continue
		}
		files[logical] = name
	}
	return files, nil
}

// metaKeys gate environment-dependent kinds when present in the base.
var metaKeys = []string{"sut_url", "sut_influx_url", "org", "sut_org", "bucket", "sut_bucket", "scenario_id"}

func metaGated(kind report.Kind) bool {
	switch kind {
	case report.KindWrite, report.KindMultiWrite, report.KindQuery, report.KindDelete, report.KindUser:
		return true
	}
	return false
}

func metaEqual(base, cand report.Document) (Check, bool) {
	for _, key := range metaKeys {
		bv, ok := base.Get("meta." + key)
		if !ok || bv == nil {
			continue
		}
		nv, _ := cand.Get("meta." + key)
		if !reflect.DeepEqual(bv, nv) {
			err := benchErrors.NewMetaMismatchError(key, bv, nv)
			return Check{Check: "meta_equal", Metric: "meta." + key, Base: bv, New: nv, Error: ErrMetaMismatch, Detail: err.Message}, false
		}
	}
	return Check{Check: "meta_equal", Passed: true}, true
}

func judge(name string, kind report.Kind, base, cand report.Document, opts Options) []Check {
	if kind == report.KindUnknown {
		return []Check{{Check: "classify", Error: ErrUnknownReportType, Detail: benchErrors.NewClassificationError(name).Message}}
	}
	var checks []Check
	if newKind := shapeOf(cand); newKind != report.KindUnknown && newKind != kind {
		checks = append(checks, Check{Check: "classify", Base: string(kind), New: string(newKind), Error: ErrKindChanged})
	}
	if metaGated(kind) {
		c, ok := metaEqual(base, cand)
		checks = append(checks, c)
		if !ok {
			return checks
		}
	}
	checks = append(checks, invariants(kind, base, cand)...)
	for _, rule := range metricRules[kind] {
		bv, bok := base.Number(rule.path)
		nv, nok := cand.Number(rule.path)
		if !bok || !nok {
			if rule.required {
				checks = append(checks, Check{Check: "threshold", Metric: rule.path, Error: ErrMissing})
			}
			continue
		}
		checks = append(checks, Directional(rule.name, bv, nv, rule.direction, opts))
	}
	return checks
}
