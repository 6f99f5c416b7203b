package notifier

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// Event is a lifecycle transition reported by the build host.
type Event int

const (
	EventStart Event = iota
	EventFinish
)

// Decision is what Evaluate chose for one event.
type Decision struct {
	Fire    bool
	Trigger plugin.Trigger
}

// Evaluate maps a lifecycle event to at most one notification.
func Evaluate(cfg plugin.NotificationConfig, ev Event, result plugin.Result) Decision {
	switch ev {
	case EventStart:
		return Decision{Fire: cfg.Start, Trigger: plugin.TriggerStart}
	case EventFinish:
		if result.IsBroken() {
			return Decision{Fire: cfg.Fail, Trigger: plugin.TriggerFailure}
		}
		return Decision{Fire: cfg.Success, Trigger: plugin.TriggerSuccess}
	}
	return Decision{}
}

// completionEnabled is the fast-path check for OnFinish.
func completionEnabled(cfg plugin.NotificationConfig) bool {
	return cfg.Fail || cfg.Success
}

// Phase is where a build is in its notification lifecycle.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseRunning
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not started"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Lifecycle tracks one build through start and finish. The host calls
// OnStart once and OnFinish once; anything else is logged and ignored.
type Lifecycle struct {
	notifier plugin.BuildNotifier
	build    plugin.Build
	out      io.Writer

	mu    sync.Mutex
	phase Phase
}

// Track starts a Lifecycle for build, writing build log lines to out.
func Track(n plugin.BuildNotifier, build plugin.Build, out io.Writer) *Lifecycle {
	return &Lifecycle{notifier: n, build: build, out: out}
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// OnStart moves the build to running and fires the start notification.
func (l *Lifecycle) OnStart(ctx context.Context) plugin.Outcome {
	if !l.enter(PhaseRunning, PhaseNotStarted) {
		return plugin.OutcomeSkipped
	}
	return l.notifier.OnStart(ctx, l.build, l.out)
}

// OnFinish completes the build and fires the failure or success
// notification. A build that never reported its start may still finish.
func (l *Lifecycle) OnFinish(ctx context.Context, result plugin.Result) plugin.Outcome {
	if !l.enter(PhaseCompleted, PhaseNotStarted, PhaseRunning) {
		return plugin.OutcomeSkipped
	}
	return l.notifier.OnFinish(ctx, l.build, result, l.out)
}

func (l *Lifecycle) enter(to Phase, from ...Phase) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range from {
		if l.phase == p {
			l.phase = to
			return true
		}
	}
	logLine(l.out, "Spark notification ignored: build already %s", l.phase)
	return false
}
