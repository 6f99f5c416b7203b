package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/build"
	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/store"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// exitTimedOut is the status of a wrapped build killed by its timeout, as
// timeout(1) reports it.
const exitTimedOut = 124

func newWrapCommand(ctx *commandContext) *cobra.Command {
	var (
		name    string
		params  []string
		timeout string
	)
	cmd := &cobra.Command{
		Use:   "wrap --name JOB [--param K=V] [-- command...]",
		Short: "Run one build with notifications, mirroring its console to stdout",
		Long: `Run one build of JOB and exit with its exit status.

If JOB is defined in the jobs directory its notification settings are used,
and the command after "--" replaces the configured one. Otherwise the build
runs without notifications.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parseParams(params)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), ctx.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.loadJobs(); err != nil {
				return err
			}

			job, err := wrapJob(a, name, strings.Join(args, " "), timeout)
			if err != nil {
				return err
			}

			b, err := a.executor.RunJob(cmd.Context(), job, build.Request{
				Job:     job.Name,
				Trigger: build.TriggerWrap,
				Params:  kv,
				Console: cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			if code := wrapExitCode(b); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Job name (required)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Build parameter as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&timeout, "timeout", "", "Command timeout, e.g. 10m")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// wrapJob returns the job to run: a copy of the configured job with command
// and timeout overrides applied, or an ad hoc job when name is unknown.
func wrapJob(a *app, name, command, timeout string) (*config.Job, error) {
	var job config.Job
	if existing, ok := a.executor.Job(name); ok {
		job = *existing
	} else {
		job = config.Job{Name: name}
	}
	if command != "" {
		job.Command = command
	}
	if timeout != "" {
		job.Timeout = timeout
	}
	if strings.TrimSpace(job.Command) == "" {
		return nil, errors.Errorf("job %s has no command, pass one after --", name)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// wrapExitCode maps a finished build to the process exit status. Commands
// that were killed or never started have no exit code of their own.
func wrapExitCode(b *store.Build) int {
	switch {
	case b.Result == string(plugin.ResultAborted):
		return exitTimedOut
	case b.ExitCode > 0:
		return b.ExitCode
	case b.ExitCode < 0 || b.Result != string(plugin.ResultSuccess):
		return 1
	}
	return 0
}

func parseParams(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.Errorf("invalid --param %q, want KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}
