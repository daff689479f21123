package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
)

type Config struct {
	SUT               database.Config   `yaml:"sut"`
	Bucket            string            `yaml:"bucket"`
	Export            Export            `yaml:"export"`
	Reports           Reports           `yaml:"reports"`
	Logging           Logging           `yaml:"logging"`
	Metrics           Metrics           `yaml:"metrics"`
	BenchmarkSettings BenchmarkSettings `yaml:"benchmark_settings"`
	Env               Env               `yaml:"env"`
	StateFile         string            `yaml:"state_file"`
}

// Export configures the "main" results database.
type Export struct {
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	Strict bool   `yaml:"strict"`
}

func (e Export) Enabled() bool { return e.DSN != "" }

type Reports struct {
	Dir string   `yaml:"dir"`
	S3  S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type BenchmarkSettings struct {
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	LatencyUp        float64       `yaml:"latency_up"`
	ThroughputDown   float64       `yaml:"throughput_down"`
}

// Env tags are copied into every report's meta and export row.
type Env struct {
	Name       string `yaml:"env_name"`
	GitSHA     string `yaml:"git_sha"`
	GitRef     string `yaml:"git_ref"`
	PipelineID string `yaml:"pipeline_id"`
	RunID      string `yaml:"run_id"`
}

func DefaultConfig() *Config {
	return &Config{
		SUT: database.Config{
			Driver:   database.DialectMemory,
			Database: "benchmarkdb",
		},
		Bucket: "bench",
		Export: Export{
			Table: "bench_results",
		},
		Reports: Reports{
			Dir: "reports",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		BenchmarkSettings: BenchmarkSettings{
			OperationTimeout: 30 * time.Second,
			LatencyUp:        0.10,
			ThroughputDown:   0.10,
		},
		Env: Env{
			Name: "local",
		},
		StateFile: ".tsbench-state.json",
	}
}

// LoadConfig reads path on top of DefaultConfig and applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, benchErrors.NewStorageError(benchErrors.CodeReadFailed, "read config "+path, err)
		default:
			if err := yaml.Unmarshal(file, config); err != nil {
				return nil, benchErrors.Wrap(benchErrors.CategoryConfig, benchErrors.CodeInvalidConfig, "parse config "+path, err)
			}
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TSBENCH_SUT_DRIVER":   &c.SUT.Driver,
		"TSBENCH_SUT_DSN":      &c.SUT.DSN,
		"TSBENCH_SUT_DATABASE": &c.SUT.Database,
		"TSBENCH_SUT_BUCKET":   &c.Bucket,
		"TSBENCH_MAIN_DSN":     &c.Export.DSN,
		"TSBENCH_REPORTS_DIR":  &c.Reports.Dir,
		"TSBENCH_S3_BUCKET":    &c.Reports.S3.Bucket,
		"TSBENCH_LOG_LEVEL":    &c.Logging.Level,
		"TSBENCH_METRICS_ADDR": &c.Metrics.Addr,
		"TSBENCH_RUN_ID":       &c.Env.RunID,
		"ENV_NAME":             &c.Env.Name,
		"GIT_SHA":              &c.Env.GitSHA,
		"GIT_REF":              &c.Env.GitRef,
		"PIPELINE_ID":          &c.Env.PipelineID,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("TSBENCH_EXPORT_STRICT"); ok && v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return benchErrors.ConfigErrorf("TSBENCH_EXPORT_STRICT: %v", err)
		}
		c.Export.Strict = strict
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SUT.Driver == "" {
		return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "sut.driver is required")
	}
	if c.SUT.Driver != database.DialectMemory && c.SUT.DSN == "" {
		return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig,
			fmt.Sprintf("sut.dsn is required for driver %q", c.SUT.Driver))
	}
	if c.BenchmarkSettings.OperationTimeout <= 0 {
		return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "benchmark_settings.operation_timeout must be > 0")
	}
	if c.BenchmarkSettings.LatencyUp < 0 || c.BenchmarkSettings.ThroughputDown < 0 {
		return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "regression thresholds must be >= 0")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue,
			fmt.Sprintf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if c.Reports.Dir == "" {
		return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, "reports.dir is required")
	}
	return nil
}
