package runner

import (
	"os"
	"sort"
	"strings"
)

// Vars describes one build to its command and its message templates.
type Vars struct {
	JobName     string
	BuildID     string
	DisplayName string
	URL         string
	Trigger     string
	Env         map[string]string
	Params      map[string]string
}

// Environment returns the full variable map of a build: the process
// environment, then job env, then params, then the BUILD_* metadata. A
// param with the same name as an env entry wins.
func (v Vars) Environment() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if k, val, ok := strings.Cut(e, "="); ok && k != "" {
			env[k] = val
		}
	}
	for k, val := range v.Env {
		env[k] = val
	}
	for k, val := range v.Params {
		env[k] = val
	}

	env["JOB_NAME"] = v.JobName
	env["BUILD_ID"] = v.BuildID
	env["BUILD_DISPLAY_NAME"] = v.DisplayName
	env["BUILD_URL"] = v.URL
	env["BUILDBAT_TRIGGER"] = v.Trigger
	return env
}

// Parameters returns a copy of the build parameters.
func (v Vars) Parameters() map[string]string {
	out := make(map[string]string, len(v.Params))
	for k, val := range v.Params {
		out[k] = val
	}
	return out
}

// EnvList converts an environment map to the KEY=VALUE form exec wants,
// sorted for stable output.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
