package runner

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/patrickspencer/buildbat/pkg/plugin"
)

const (
	tailSize  = 64 * 1024 // 64KB
	waitDelay = 2 * time.Second
)

// TailBuffer is a fixed-size circular buffer that implements io.Writer.
// It retains only the most recent bytes written, up to its capacity.
type TailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int
	full bool
}

// NewTailBuffer creates a TailBuffer with the given capacity.
func NewTailBuffer(size int) *TailBuffer {
	return &TailBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer, overwriting the oldest data once full.
func (tb *TailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	n := len(p)
	if n >= tb.size {
		copy(tb.buf, p[n-tb.size:])
		tb.pos = 0
		tb.full = true
		return n, nil
	}

	oldPos := tb.pos
	first := tb.size - tb.pos
	if first >= n {
		copy(tb.buf[tb.pos:], p)
	} else {
		copy(tb.buf[tb.pos:], p[:first])
		copy(tb.buf, p[first:])
	}

	tb.pos = (tb.pos + n) % tb.size
	if !tb.full && tb.pos <= oldPos {
		tb.full = true
	}
	return n, nil
}

// String returns the buffered contents in chronological order.
func (tb *TailBuffer) String() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if !tb.full {
		return string(tb.buf[:tb.pos])
	}
	out := make([]byte, tb.size)
	n := copy(out, tb.buf[tb.pos:])
	copy(out[n:], tb.buf[:tb.pos])
	return string(out)
}

// Result is the outcome of one command.
type Result struct {
	ExitCode   int
	Output     string // combined stdout and stderr tail
	DurationMs int64
	TimedOut   bool
	Err        error
}

// Options controls a single command run.
type Options struct {
	// Console receives stdout and stderr as they are produced.
	Console io.Writer
	WorkDir string
	Env     []string
	Timeout time.Duration
}

// Runner executes shell commands for builds.
type Runner struct{}

// NewRunner creates a new Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes command with sh -c. It never returns nil.
func (r *Runner) Run(ctx context.Context, command string, opts Options) *Result {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = opts.Env
	cmd.Dir = opts.WorkDir
	// Children that keep the output pipe open must not hang the build
	// after the shell has been killed.
	cmd.WaitDelay = waitDelay

	tail := NewTailBuffer(tailSize)
	var out io.Writer = tail
	if opts.Console != nil {
		out = io.MultiWriter(tail, opts.Console)
	}
	// Same writer for both streams, so exec serializes the writes.
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Output:     tail.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		return res
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.Err = errors.Errorf("timed out after %s", opts.Timeout)
	} else {
		res.Err = err
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	return res
}

// Classify maps a command result to a build result. unstable reports
// which non-zero exit codes mark the build UNSTABLE rather than FAILURE.
func Classify(res *Result, unstable func(code int) bool) plugin.Result {
	switch {
	case res.TimedOut:
		return plugin.ResultAborted
	case res.Err == nil && res.ExitCode == 0:
		return plugin.ResultSuccess
	case res.ExitCode > 0 && unstable != nil && unstable(res.ExitCode):
		return plugin.ResultUnstable
	default:
		return plugin.ResultFailure
	}
}
