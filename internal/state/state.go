// Package state records what benchmark runs created so cleanup can remove
// it later without wildcard deletes.
package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	benchErrors "tsdb-benchmark/internal/errors"
)

// TargetSUT is the target of everything the benchmark writes to the system
// under test.
const TargetSUT = "sut"

// DataRecord is one (partition, measurement, run_id) a run wrote to.
type DataRecord struct {
	Target      string `json:"target"`
	Partition   string `json:"bucket"`
	Measurement string `json:"measurement"`
	RunID       string `json:"run_id"`
}

// File is the on-disk layout of the state file.
type File struct {
	CreatedPartitions map[string][]string `json:"created_buckets"`
	WrittenData       []DataRecord        `json:"written_data"`
}

// Registry reads and updates a JSON state file. Every update rewrites the
// whole file through a rename.
type Registry struct {
	path string
	mu   sync.Mutex
}

func Open(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) Path() string { return r.path }

// Load returns the current state. A missing file is an empty state.
func (r *Registry) Load() (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *Registry) load() (File, error) {
	st := File{CreatedPartitions: map[string][]string{}}
	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return st, nil
	case err != nil:
		return st, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "read state "+r.path, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "decode state "+r.path, err)
	}
	if st.CreatedPartitions == nil {
		st.CreatedPartitions = map[string][]string{}
	}
	return st, nil
}

func (r *Registry) save(st File) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "encode state", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "create state dir", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "write state "+tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "replace state "+r.path, err)
	}
	return nil
}

func (r *Registry) update(fn func(*File) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.load()
	if err != nil {
		return err
	}
	if !fn(&st) {
		return nil
	}
	return r.save(st)
}

// RegisterPartitions records partitions created on target.
func (r *Registry) RegisterPartitions(target string, names ...string) error {
	return r.update(func(st *File) bool {
		changed := false
		for _, name := range names {
			if name == "" || contains(st.CreatedPartitions[target], name) {
				continue
			}
			st.CreatedPartitions[target] = append(st.CreatedPartitions[target], name)
			changed = true
		}
		return changed
	})
}

// RegisterData records that runID wrote measurement into partitions.
// Records with an empty field are ignored.
func (r *Registry) RegisterData(target, measurement, runID string, partitions ...string) error {
	if measurement == "" || runID == "" {
		return nil
	}
	return r.update(func(st *File) bool {
		changed := false
		for _, p := range partitions {
			rec := DataRecord{Target: target, Partition: p, Measurement: measurement, RunID: runID}
			if p == "" || containsRecord(st.WrittenData, rec) {
				continue
			}
			st.WrittenData = append(st.WrittenData, rec)
			changed = true
		}
		return changed
	})
}

// Forget removes cleaned-up partitions and data records.
func (r *Registry) Forget(target string, partitions []string, records []DataRecord) error {
	return r.update(func(st *File) bool {
		drop := make(map[string]bool, len(partitions))
		for _, p := range partitions {
			drop[p] = true
		}
		var kept []string
		for _, p := range st.CreatedPartitions[target] {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(st.CreatedPartitions, target)
		} else {
			st.CreatedPartitions[target] = kept
		}

		var data []DataRecord
		for _, rec := range st.WrittenData {
			if drop[rec.Partition] && rec.Target == target {
				continue
			}
			if containsRecord(records, rec) {
				continue
			}
			data = append(data, rec)
		}
		st.WrittenData = data
		return true
	})
}

// CleanupOptions selects what cleanup removes.
type CleanupOptions struct {
	Target       string
	Partitions   []string
	Exclude      []string
	Measurements []string
	RunIDs       []string
	FromState    bool
	// DropPartitions drops whole partitions instead of deleting run data.
	DropPartitions bool
}

// DataTarget is one run-scoped delete.
type DataTarget struct {
	Partition   string
	Measurement string
	RunID       string
}

// Plan is what a cleanup would do.
type Plan struct {
	Target     string
	Drop       bool
	Partitions []string
	Data       []DataTarget
}

// Plan resolves opts against the recorded state. Run-scoped data deletes
// need at least one run id.
func (r *Registry) Plan(opts CleanupOptions) (Plan, error) {
	if opts.Target == "" {
		opts.Target = TargetSUT
	}
	plan := Plan{Target: opts.Target, Drop: opts.DropPartitions}

	var st File
	if opts.FromState {
		var err error
		if st, err = r.Load(); err != nil {
			return plan, err
		}
	}

	partitions := opts.Partitions
	if len(partitions) == 0 && opts.FromState {
		partitions = st.CreatedPartitions[opts.Target]
	}
	exclude := make(map[string]bool, len(opts.Exclude))
	for _, e := range opts.Exclude {
		exclude[e] = true
	}
	for _, p := range unique(partitions) {
		if !exclude[p] {
			plan.Partitions = append(plan.Partitions, p)
		}
	}
	if plan.Drop {
		return plan, nil
	}

	seen := map[DataTarget]bool{}
	add := func(t DataTarget) {
		if !seen[t] && !exclude[t.Partition] {
			seen[t] = true
			plan.Data = append(plan.Data, t)
		}
	}
	explicit := make(map[string]bool, len(opts.Partitions))
	for _, p := range opts.Partitions {
		explicit[p] = true
	}
	if opts.FromState {
		for _, rec := range st.WrittenData {
			if rec.Target != opts.Target || (len(explicit) > 0 && !explicit[rec.Partition]) {
				continue
			}
			add(DataTarget{Partition: rec.Partition, Measurement: rec.Measurement, RunID: rec.RunID})
		}
	}
	for _, p := range plan.Partitions {
		for _, m := range opts.Measurements {
			for _, id := range opts.RunIDs {
				add(DataTarget{Partition: p, Measurement: m, RunID: id})
			}
		}
	}
	if len(plan.Data) == 0 && len(opts.Measurements) > 0 && len(opts.RunIDs) == 0 {
		return plan, benchErrors.NewConfigError(benchErrors.CodeMissingRunID,
			"refusing to delete data without run ids; use --from-state or pass --run-id")
	}
	sort.Slice(plan.Data, func(i, j int) bool {
		a, b := plan.Data[i], plan.Data[j]
		if a.Partition != b.Partition {
			return a.Partition < b.Partition
		}
		if a.Measurement != b.Measurement {
			return a.Measurement < b.Measurement
		}
		return a.RunID < b.RunID
	})
	return plan, nil
}

// Records returns the plan's data targets as state records.
func (p Plan) Records() []DataRecord {
	out := make([]DataRecord, len(p.Data))
	for i, d := range p.Data {
		out[i] = DataRecord{Target: p.Target, Partition: d.Partition, Measurement: d.Measurement, RunID: d.RunID}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRecord(list []DataRecord, rec DataRecord) bool {
	for _, v := range list {
		if v == rec {
			return true
		}
	}
	return false
}

func unique(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
