package report

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/logging"
)

const (
	jsonExt = ".json"
	gzExt   = ".json.gz"

	// ContextDir holds write-context files, below the report directory so
	// report listings never pick them up.
	ContextDir = "context"
)

// Store persists reports under Dir.
type Store struct {
	Dir      string
	Compress bool
	Logger   *zap.Logger
}

func NewStore(dir string, compress bool, logger *zap.Logger) *Store {
	return &Store{Dir: dir, Compress: compress, Logger: logging.OrNop(logger)}
}

// Save writes r and returns the file path.
func (s *Store) Save(r *Report) (string, error) {
	name := r.FileName()
	if s.Compress {
		name = strings.TrimSuffix(name, jsonExt) + gzExt
	}
	path := filepath.Join(s.Dir, name)
	if err := writeJSON(path, r, s.Compress); err != nil {
		return "", err
	}
	logging.OrNop(s.Logger).Info("report saved", zap.String("path", path), zap.String("run_id", r.Meta.RunID))
	return path, nil
}

// SaveContext writes the write-context file a later delete reads its run
// identity from.
func (s *Store) SaveContext(r *Report) (string, error) {
	path := ContextPath(s.Dir, r.Kind, r.Meta.ScenarioID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", benchErrors.NewStorageError(benchErrors.CodeWriteReport, "create context dir", err)
	}
	if err := writeJSON(path, map[string]interface{}{"meta": r.Meta}, false); err != nil {
		return "", err
	}
	return path, nil
}

// ContextPath is <dir>/context/write-context-<id>.json, or
// multi-write-context-<id>.json for multi-partition writes.
func ContextPath(dir string, kind Kind, scenarioID string) string {
	prefix := "write-context-"
	if kind == KindMultiWrite {
		prefix = "multi-write-context-"
	}
	return filepath.Join(dir, ContextDir, prefix+scenarioID+jsonExt)
}

// LoadContext reads the meta of a write-context file.
func LoadContext(path string) (Meta, error) {
	var doc struct {
		Meta Meta `json:"meta"`
	}
	data, err := readFile(path)
	if err != nil {
		return Meta{}, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Meta{}, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "decode "+path, err)
	}
	if doc.Meta.RunID == "" {
		return Meta{}, benchErrors.NewConfigError(benchErrors.CodeMissingRunID, "write context "+path+" has no run_id")
	}
	return doc.Meta, nil
}

func writeJSON(path string, v interface{}, compress bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "encode "+path, err)
	}
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "compress "+path, err)
		}
		if err := zw.Close(); err != nil {
			return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "compress "+path, err)
		}
		data = buf.Bytes()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "create report dir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "write "+path, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, benchErrors.NewStorageError(benchErrors.CodeNotFound, "report not found: "+path, err)
		}
		return nil, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "read "+path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "gunzip "+path, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "gunzip "+path, err)
	}
	return out, nil
}

// Document is a report decoded without assuming its kind.
type Document map[string]interface{}

// Load reads a .json or .json.gz report.
func Load(path string) (Document, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "decode "+path, err)
	}
	return doc, nil
}

// Get follows a dotted path such as "summary.latency_stats.median".
func (d Document) Get(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(d)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Number returns the value at path when it is a JSON number. A null value
// is reported as absent.
func (d Document) Number(path string) (float64, bool) {
	v, ok := d.Get(path)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// List returns the report file names in dir (.json and .json.gz), sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "list "+dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), jsonExt) || strings.HasSuffix(e.Name(), gzExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LogicalName strips a trailing .gz so compressed and plain copies of a
// report match.
func LogicalName(name string) string {
	return strings.TrimSuffix(name, ".gz")
}
