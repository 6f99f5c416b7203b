// Package notifier decides when a build notifies Spark rooms, builds the
// message and hands it to a plugin.Deliverer.
//
// Nothing here can fail a build. Every problem ends up as a single line in
// the build log and an Outcome for the caller.
package notifier

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// CredentialSource returns the credentials to use for the next call.
type CredentialSource interface {
	Load() credentials.Credentials
}

// Record describes one notification or provisioning attempt.
type Record struct {
	Job      string
	Build    string
	BuildURL string
	Action   plugin.Action
	Trigger  plugin.Trigger
	Outcome  plugin.Outcome
	Rooms    []string
	Message  string
	Detail   string
	Duration time.Duration
	At       time.Time
}

// Observer is told about every Record. Implementations must not block for
// long; they run on the build's goroutine.
type Observer interface {
	Observe(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec Record)

func (f ObserverFunc) Observe(ctx context.Context, rec Record) { f(ctx, rec) }

// Observers fans a Record out to each observer in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, rec Record) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, rec)
		}
	}
}

// Notifier is the per-job BuildNotifier.
type Notifier struct {
	job      string
	cfg      plugin.NotificationConfig
	creds    CredentialSource
	deliver  plugin.Deliverer
	observer Observer
	now      func() time.Time
}

var _ plugin.BuildNotifier = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithJob names the job in Records.
func WithJob(name string) Option {
	return func(n *Notifier) { n.job = name }
}

// WithObserver registers an observer for Records.
func WithObserver(o Observer) Option {
	return func(n *Notifier) { n.observer = o }
}

// New creates a Notifier for one job configuration.
func New(cfg plugin.NotificationConfig, creds CredentialSource, d plugin.Deliverer, opts ...Option) *Notifier {
	n := &Notifier{
		cfg:     cfg,
		creds:   creds,
		deliver: d,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Config returns the job notification configuration.
func (n *Notifier) Config() plugin.NotificationConfig {
	return n.cfg
}

// OnStart fires the start notification when enabled.
func (n *Notifier) OnStart(ctx context.Context, build plugin.Build, out io.Writer) plugin.Outcome {
	d := Evaluate(n.cfg, EventStart, "")
	if !d.Fire {
		return plugin.OutcomeSkipped
	}
	creds := n.creds.Load()
	if err := credentials.CheckReady(n.cfg.Rooms, creds); err != nil {
		return n.reject(ctx, d.Trigger, build, err, out)
	}
	return n.dispatch(ctx, d.Trigger, build, creds, out)
}

// OnFinish fires the failure or success notification for result. When no
// completion trigger is enabled it returns before looking at rooms or
// credentials.
func (n *Notifier) OnFinish(ctx context.Context, build plugin.Build, result plugin.Result, out io.Writer) plugin.Outcome {
	if !completionEnabled(n.cfg) {
		return plugin.OutcomeSkipped
	}
	d := Evaluate(n.cfg, EventFinish, result)
	creds := n.creds.Load()
	if err := credentials.CheckReady(n.cfg.Rooms, creds); err != nil {
		return n.reject(ctx, d.Trigger, build, err, out)
	}
	if !d.Fire {
		return plugin.OutcomeSkipped
	}
	return n.dispatch(ctx, d.Trigger, build, creds, out)
}

func (n *Notifier) reject(ctx context.Context, trigger plugin.Trigger, build plugin.Build, err error, out io.Writer) plugin.Outcome {
	logLine(out, "Error Messaging Spark Room: %v", err)
	logrus.Warnf("[notifier] %s: %s notification skipped: %v", n.job, trigger, err)
	n.observe(ctx, Record{
		Build:    build.DisplayName(),
		BuildURL: build.AbsoluteURL(),
		Action:   plugin.ActionMessage,
		Trigger:  trigger,
		Outcome:  plugin.OutcomeRejected,
		Rooms:    credentials.ParseRooms(n.cfg.Rooms),
		Detail:   err.Error(),
	})
	return plugin.OutcomeRejected
}

func (n *Notifier) dispatch(ctx context.Context, trigger plugin.Trigger, build plugin.Build, creds credentials.Credentials, out io.Writer) plugin.Outcome {
	msg := Compose(trigger, n.cfg.Template(trigger), build, n.cfg.AddURL, out)
	rooms := credentials.ParseRooms(n.cfg.Rooms)

	started := n.now()
	outcome, err := send(ctx, n.deliver, plugin.Request{
		Action:      plugin.ActionMessage,
		Rooms:       rooms,
		Message:     msg,
		Credentials: creds,
	}, out)

	rec := Record{
		Build:    build.DisplayName(),
		BuildURL: build.AbsoluteURL(),
		Action:   plugin.ActionMessage,
		Trigger:  trigger,
		Outcome:  outcome,
		Rooms:    rooms,
		Message:  msg,
		Duration: n.now().Sub(started),
	}
	if err != nil {
		rec.Detail = err.Error()
		logrus.Errorf("[notifier] %s: %s notification failed: %v", n.job, trigger, err)
	} else {
		logrus.Debugf("[notifier] %s: %s notification sent to %d room(s)", n.job, trigger, len(rooms))
	}
	n.observe(ctx, rec)
	return outcome
}

func (n *Notifier) observe(ctx context.Context, rec Record) {
	if n.observer == nil {
		return
	}
	rec.Job = n.job
	if rec.At.IsZero() {
		rec.At = n.now().UTC()
	}
	n.observer.Observe(ctx, rec)
}
