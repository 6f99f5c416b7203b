// Package build runs jobs as builds and drives their Spark notifications.
package build

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/metrics"
	"github.com/patrickspencer/buildbat/internal/notifier"
	"github.com/patrickspencer/buildbat/internal/realtime"
	"github.com/patrickspencer/buildbat/internal/runlog"
	"github.com/patrickspencer/buildbat/internal/runner"
	"github.com/patrickspencer/buildbat/internal/store"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// Trigger sources recorded with each build.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerWrap     = "wrap"
)

// ErrUnknownJob is returned for a job name that is not loaded.
var ErrUnknownJob = errors.New("unknown job")

// Store is the persistence the executor needs.
type Store interface {
	store.BuildStore
	store.DeliveryStore
}

// Options wires an Executor. Logs, Broker and Metrics are optional.
type Options struct {
	BaseURL     string
	Store       Store
	Credentials notifier.CredentialSource
	Deliverer   plugin.Deliverer
	Runner      *runner.Runner
	Logs        *runlog.Manager
	Broker      *realtime.Broker
	Metrics     *metrics.Metrics
}

// Executor runs builds. It is safe for concurrent use.
type Executor struct {
	opts     Options
	observer notifier.Observer

	mu      sync.RWMutex
	jobs    map[string]*config.Job
	numbers map[string]int
	numMu   sync.Mutex
}

// NewExecutor creates an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.Runner == nil {
		opts.Runner = runner.NewRunner()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	obs := notifier.Observers{&History{Store: opts.Store}}
	if opts.Metrics != nil {
		obs = append(obs, opts.Metrics)
	}
	return &Executor{
		opts:     opts,
		observer: obs,
		jobs:     make(map[string]*config.Job),
		numbers:  make(map[string]int),
	}
}

// SetJobs replaces the loaded job set.
func (e *Executor) SetJobs(jobs []*config.Job) {
	m := make(map[string]*config.Job, len(jobs))
	for _, j := range jobs {
		m[j.Name] = j
	}
	e.mu.Lock()
	e.jobs = m
	e.mu.Unlock()
}

// Job returns the named job.
func (e *Executor) Job(name string) (*config.Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[name]
	return j, ok
}

// Jobs returns the loaded jobs sorted by name.
func (e *Executor) Jobs() []*config.Job {
	e.mu.RLock()
	out := make([]*config.Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Notifier returns a job-independent notifier, used for provisioning.
func (e *Executor) Notifier() *notifier.Notifier {
	return notifier.New(plugin.NotificationConfig{}, e.opts.Credentials, e.opts.Deliverer,
		notifier.WithObserver(e.buildObserver("", "")))
}

// URL returns the summary location of a build. It ends with a slash.
func (e *Executor) URL(jobName, buildID string) string {
	return e.opts.BaseURL + "/builds/" + url.PathEscape(jobName) + "/" + url.PathEscape(buildID) + "/"
}

// Request describes one build to run.
type Request struct {
	Job     string
	Trigger string
	Params  map[string]string
	// Console, when set, also receives everything written to the build log.
	Console io.Writer
}

// Run executes one build of req.Job to completion and returns its record.
// Notification problems never change the returned build.
func (e *Executor) Run(ctx context.Context, req Request) (*store.Build, error) {
	job, ok := e.Job(req.Job)
	if !ok {
		return nil, errors.Wrap(ErrUnknownJob, req.Job)
	}
	return e.RunJob(ctx, job, req)
}

// RunJob is Run for a job that is not part of the loaded set.
func (e *Executor) RunJob(ctx context.Context, job *config.Job, req Request) (*store.Build, error) {
	timeout, err := job.ParseTimeout()
	if err != nil {
		return nil, errors.Wrapf(err, "job %s: timeout", job.Name)
	}
	number, err := e.nextNumber(ctx, job.Name)
	if err != nil {
		return nil, err
	}

	id := store.NewID()
	params := mergeParams(job.Params, req.Params)
	vars := runner.Vars{
		JobName:     job.Name,
		BuildID:     id,
		DisplayName: fmt.Sprintf("%s #%d", job.Title(), number),
		URL:         e.URL(job.Name, id),
		Trigger:     req.Trigger,
		Env:         job.Env,
		Params:      params,
	}
	env := vars.Environment()
	// Messages name the job; the numbered name stays on the record and in BUILD_DISPLAY_NAME.
	bc := &plugin.BuildContext{Name: job.Title(), URL: vars.URL, Env: env, Params: vars.Parameters()}

	b := &store.Build{
		ID:          id,
		JobName:     job.Name,
		DisplayName: vars.DisplayName,
		Status:      store.StatusRunning,
		StartedAt:   time.Now().UTC(),
		Trigger:     req.Trigger,
		Params:      params,
		URL:         vars.URL,
	}
	if err := e.opts.Store.RecordBuild(ctx, b); err != nil {
		return nil, err
	}
	e.publish(realtime.Event{Type: realtime.TypeBuildStarted, JobName: job.Name, BuildID: id, Trigger: req.Trigger})
	if e.opts.Metrics != nil {
		e.opts.Metrics.BuildStarted()
	}

	console, closeConsole := e.openConsole(job.Name, id, req.Console)
	defer closeConsole()

	n := notifier.New(job.Notify, e.opts.Credentials, e.opts.Deliverer,
		notifier.WithJob(job.Name), notifier.WithObserver(e.buildObserver(id, vars.DisplayName)))
	lc := notifier.Track(n, bc, console)

	fmt.Fprintf(console, "Started %s (%s)\n", vars.DisplayName, req.Trigger)
	lc.OnStart(ctx)

	res := e.opts.Runner.Run(ctx, job.Command, runner.Options{
		Console: console,
		WorkDir: job.WorkingDir,
		Env:     runner.EnvList(env),
		Timeout: timeout,
	})
	result := runner.Classify(res, job.IsUnstableExit)
	fmt.Fprintf(console, "Finished: %s\n", result)

	lc.OnFinish(ctx, result)

	finished := time.Now().UTC()
	b.Status = store.StatusCompleted
	b.Result = string(result)
	b.ExitCode = res.ExitCode
	b.FinishedAt = &finished
	b.DurationMs = res.DurationMs
	b.OutputTail = res.Output
	if res.Err != nil {
		b.ErrorMsg = res.Err.Error()
	}
	// The build already ran; record it even if the caller gave up.
	if err := e.opts.Store.RecordBuild(context.WithoutCancel(ctx), b); err != nil {
		logrus.Errorf("[build] %s: record completion: %v", vars.DisplayName, err)
	}

	e.publish(realtime.Event{Type: realtime.TypeBuildCompleted, JobName: job.Name, BuildID: id, Result: string(result), Trigger: req.Trigger})
	if e.opts.Metrics != nil {
		e.opts.Metrics.BuildFinished(result)
	}
	logrus.WithFields(logrus.Fields{"job": job.Name, "build": id, "result": result, "duration_ms": res.DurationMs}).
		Info("[build] finished")
	return b, nil
}

func (e *Executor) openConsole(jobName, buildID string, extra io.Writer) (io.Writer, func()) {
	var writers []io.Writer
	closeFn := func() {}
	if e.opts.Logs != nil {
		c, err := e.opts.Logs.OpenConsole(jobName, buildID)
		if err != nil {
			logrus.Warnf("[build] %s/%s: console file disabled: %v", jobName, buildID, err)
		} else {
			writers = append(writers, c)
			closeFn = func() { _ = c.Close() }
		}
	}
	if extra != nil {
		writers = append(writers, extra)
	}
	switch len(writers) {
	case 0:
		return io.Discard, closeFn
	case 1:
		return writers[0], closeFn
	}
	return &syncWriter{w: io.MultiWriter(writers...)}, closeFn
}

// nextNumber returns the next sequential build number of a job.
func (e *Executor) nextNumber(ctx context.Context, jobName string) (int, error) {
	e.numMu.Lock()
	defer e.numMu.Unlock()

	n, ok := e.numbers[jobName]
	if !ok {
		stats, err := e.opts.Store.GetJobStats(ctx, jobName)
		if err != nil {
			return 0, errors.Wrapf(err, "job %s: build number", jobName)
		}
		n = stats.TotalBuilds
	}
	n++
	e.numbers[jobName] = n
	return n, nil
}

func (e *Executor) buildObserver(buildID, displayName string) notifier.Observer {
	return notifier.ObserverFunc(func(ctx context.Context, rec notifier.Record) {
		if displayName != "" {
			rec.Build = displayName
		}
		e.observer.Observe(ctx, rec)
		e.publish(notificationEvent(rec, buildID))
	})
}

func (e *Executor) publish(evt realtime.Event) {
	if e.opts.Broker != nil {
		e.opts.Broker.Publish(evt)
	}
}

func mergeParams(defaults, given map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(given))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range given {
		out[k] = v
	}
	return out
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
