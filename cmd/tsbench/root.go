package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tsdb-benchmark/internal/config"
	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/export"
	"tsdb-benchmark/internal/logging"
	"tsdb-benchmark/internal/metrics"
	"tsdb-benchmark/internal/report"
	"tsdb-benchmark/internal/runner"
	"tsdb-benchmark/internal/state"
)

// cli holds the state shared by every subcommand. connect may be preset to
// run the commands against an existing store.
type cli struct {
	configPath string
	outDir     string
	statePath  string
	runID      string
	dryRun     bool
	compress   bool

	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	connect   database.Connector
	state     *state.Registry
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "tsbench",
		Short:         "Benchmark a time-series database and compare runs for regressions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "config.yaml", "path to the YAML config file")
	f.StringVar(&c.outDir, "out", "", "report directory (overrides reports.dir)")
	f.StringVar(&c.statePath, "state", "", "state file (overrides state_file)")
	f.BoolVar(&c.dryRun, "dry-run", false, "run against the in-memory store")
	f.BoolVar(&c.compress, "gzip", false, "store reports as .json.gz")

	root.AddCommand(
		newWriteCmd(c, false),
		newWriteCmd(c, true),
		newQueryCmd(c),
		newDeleteCmd(c, false),
		newDeleteCmd(c, true),
		newCompareCmd(c),
		newCompareMainCmd(c),
		newCleanupCmd(c),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.outDir != "" {
		cfg.Reports.Dir = c.outDir
	}
	if c.statePath != "" {
		cfg.StateFile = c.statePath
	}
	if c.runID != "" {
		cfg.Env.RunID = c.runID
	}
	if c.dryRun {
		cfg.SUT.Driver = database.DialectMemory
	}
	c.cfg = cfg

	if c.logger == nil {
		if c.logger, err = logging.New(cfg.Logging); err != nil {
			return benchErrors.Wrap(benchErrors.CategoryConfig, benchErrors.CodeInvalidConfig, "build logger", err)
		}
	}
	if c.connect == nil {
		if c.connect, err = database.NewConnector(cfg.SUT); err != nil {
			return err
		}
	}
	c.collector = metrics.NewCollector()
	c.collector.Serve(ctx, cfg.Metrics.Addr, c.logger)
	c.state = state.Open(cfg.StateFile)
	return nil
}

func (c *cli) coordinator() *runner.Coordinator {
	return &runner.Coordinator{
		Connect:   c.connect,
		Logger:    c.logger,
		Observer:  c.collector,
		OpTimeout: c.cfg.BenchmarkSettings.OperationTimeout,
		RunID:     c.cfg.Env.RunID,
	}
}

func (c *cli) env() report.Env {
	return report.EnvFrom(c.cfg)
}

// publish stores r, uploads it when S3 is configured and exports its
// summary to the main results database when one is configured.
func (c *cli) publish(ctx context.Context, r *report.Report) (string, error) {
	store := report.NewStore(c.cfg.Reports.Dir, c.compress, c.logger)
	path, err := store.Save(r)
	if err != nil {
		return "", err
	}

	if c.cfg.Reports.S3.Enabled() {
		uploader, err := report.NewUploader(ctx, c.cfg.Reports.S3, c.logger)
		if err == nil {
			_, err = uploader.Upload(ctx, r.Meta, path)
		}
		if err != nil {
			c.logger.Warn("report upload failed", zap.String("path", path), zap.Error(err))
		}
	}

	if !c.cfg.Export.Enabled() {
		return path, nil
	}
	exp, err := export.NewPostgresExporter(ctx, c.cfg.Export.DSN, c.cfg.Export.Table)
	if err != nil {
		if c.cfg.Export.Strict {
			return path, benchErrors.NewStorageError(benchErrors.CodeWriteReport, "connect results database", err)
		}
		c.logger.Warn("results database unavailable, skipping export", zap.Error(err))
		return path, nil
	}
	defer exp.Close()
	return path, export.Publish(ctx, exp, r, c.cfg.Export.Strict, c.logger)
}
