package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/build"
	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/metrics"
	"github.com/patrickspencer/buildbat/internal/realtime"
	"github.com/patrickspencer/buildbat/internal/runlog"
	"github.com/patrickspencer/buildbat/internal/spark"
	"github.com/patrickspencer/buildbat/internal/store"
)

// app is the set of components every command that touches builds or Spark
// needs.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	creds    *credentials.Holder
	spark    *spark.Client
	logs     *runlog.Manager
	broker   *realtime.Broker
	metrics  *metrics.Metrics
	executor *build.Executor
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", cfg.DataDir)
	}
	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "buildbat.db"))
	if err != nil {
		return nil, err
	}

	creds, err := credentials.Open(ctx, st, cfg.Credentials)
	if err != nil {
		st.Close()
		return nil, err
	}

	client, err := spark.New(spark.Config{
		IDBrokerURL:     cfg.Spark.IDBrokerURL,
		ConversationURL: cfg.Spark.ConversationURL,
		Timeout:         cfg.Spark.RequestTimeout,
		MaxParallel:     cfg.Spark.MaxParallel,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   st,
		creds:   creds,
		spark:   client,
		broker:  realtime.NewBroker(),
		metrics: metrics.New(),
	}
	if cfg.BuildLogs.IsEnabled() {
		a.logs = runlog.NewManager(
			cfg.BuildLogs.Dir,
			cfg.BuildLogs.MaxBytes,
			cfg.BuildLogs.RetentionDays,
			cfg.BuildLogs.MaxTotalMB*1024*1024,
		)
	} else {
		logrus.Info("build console files disabled")
	}

	a.executor = build.NewExecutor(build.Options{
		BaseURL:     cfg.BaseURL,
		Store:       st,
		Credentials: creds,
		Deliverer:   client,
		Logs:        a.logs,
		Broker:      a.broker,
		Metrics:     a.metrics,
	})
	return a, nil
}

// loadJobs loads the job directory into the executor. A missing directory
// means no jobs.
func (a *app) loadJobs() ([]*config.Job, error) {
	jobs, err := config.LoadJobs(a.cfg.JobsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "load jobs from %s", a.cfg.JobsDir)
	}
	a.executor.SetJobs(jobs)
	return jobs, nil
}

// readConsole returns a build's console, or os.ErrNotExist when console
// files are disabled.
func (a *app) readConsole(jobName, buildID string) (string, error) {
	if a.logs == nil {
		return "", os.ErrNotExist
	}
	return a.logs.ReadConsole(jobName, buildID)
}

func (a *app) Close() error {
	return a.store.Close()
}
