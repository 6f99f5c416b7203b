package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/build"
	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/scheduler"
	"github.com/patrickspencer/buildbat/internal/web"
	"github.com/patrickspencer/buildbat/internal/web/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, ctx.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return errors.Wrapf(err, "create data dir %s", cfg.DataDir)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, "buildbat.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquire lock")
	}
	if !ok {
		return errors.Errorf("another buildbat daemon is already using %s", cfg.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logrus.Warnf("release daemon lock: %v", err)
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.loadJobs()
	if err != nil {
		return err
	}
	logrus.Infof("loaded %d job(s) from %s", len(jobs), cfg.JobsDir)

	var builds sync.WaitGroup
	runBuild := func(name, trigger string, params map[string]string) {
		defer builds.Done()
		if _, err := a.executor.Run(ctx, build.Request{Job: name, Trigger: trigger, Params: params}); err != nil {
			logrus.Errorf("build %s: %v", name, err)
		}
	}

	sched := scheduler.NewScheduler(func(name string) {
		if j, ok := a.executor.Job(name); !ok || !j.IsEnabled() {
			return
		}
		builds.Add(1)
		runBuild(name, build.TriggerSchedule, nil)
	})
	for _, j := range jobs {
		if j.Schedule == "" || !j.IsEnabled() {
			continue
		}
		if err := sched.AddJob(j.Name, j.Schedule); err != nil {
			logrus.Errorf("job %s: %v", j.Name, err)
		}
	}

	handler := &api.API{
		Store:       a.store,
		Events:      a.broker,
		Credentials: a.creds,
		GetConfig: func() *config.Config {
			cp := *cfg
			return &cp
		},
		Jobs:        a.executor.Jobs,
		NextRunTime: sched.NextRunTime,
		StartBuild: func(name string, params map[string]string) error {
			if _, ok := a.executor.Job(name); !ok {
				return api.ErrJobNotFound
			}
			builds.Add(1)
			go runBuild(name, build.TriggerManual, params)
			return nil
		},
		Provision: func(ctx context.Context, rooms, token string) error {
			return a.executor.Notifier().Provision(ctx, rooms, token)
		},
		ReadConsole: a.readConsole,
	}
	srv := web.NewServer(cfg.Listen, handler, a.metrics.Handler())

	if a.logs != nil {
		go cleanupLoop(ctx, a.logs.Cleanup, cfg.BuildLogs.CleanupInterval)
	}

	sched.Start()
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logrus.Infof("buildbat serving on %s (base url %s)", cfg.Listen, cfg.BaseURL)

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			sched.Stop(context.Background())
			return errors.Wrap(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("http shutdown: %v", err)
	}
	sched.Stop(shutdownCtx)
	builds.Wait()
	return nil
}

// cleanupLoop prunes console files now and then every interval.
func cleanupLoop(ctx context.Context, cleanup func() error, interval time.Duration) {
	if err := cleanup(); err != nil {
		logrus.Warnf("console cleanup: %v", err)
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cleanup(); err != nil {
				logrus.Warnf("console cleanup: %v", err)
			}
		}
	}
}
