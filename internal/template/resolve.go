// Package template substitutes build variables into notification messages.
//
// A placeholder is `$NAME` or `${NAME}`. Environment variables are applied
// first, then build parameters, each as a whole-map pass over the message.
// Substituted values are not escaped, so a value that itself looks like a
// placeholder can be rewritten by a later key.
package template

import (
	"regexp"
	"sort"
)

// Source supplies the variables for one resolution.
type Source interface {
	Environment() (map[string]string, error)
	Parameters() (map[string]string, error)
}

// SubstitutionError reports that a variable map could not be read.
type SubstitutionError struct {
	// Stage is "environment variables" or "build parameters".
	Stage string
	Err   error
}

func (e *SubstitutionError) Error() string {
	return "unable to replace all " + e.Stage + ": " + e.Err.Error()
}

func (e *SubstitutionError) Cause() error { return e.Err }
func (e *SubstitutionError) Unwrap() error { return e.Err }

// Resolve replaces env placeholders and then param placeholders in tmpl.
func Resolve(tmpl string, env, params map[string]string) string {
	return apply(apply(tmpl, env), params)
}

// ResolveFrom reads both maps from src and resolves tmpl against them. If
// either map cannot be read the unmodified template is returned along with
// a *SubstitutionError.
func ResolveFrom(tmpl string, src Source) (string, error) {
	env, err := src.Environment()
	if err != nil {
		return tmpl, &SubstitutionError{Stage: "environment variables", Err: err}
	}
	params, err := src.Parameters()
	if err != nil {
		return tmpl, &SubstitutionError{Stage: "build parameters", Err: err}
	}
	return Resolve(tmpl, env, params), nil
}

func apply(msg string, vars map[string]string) string {
	for _, key := range orderedKeys(vars) {
		if key == "" {
			continue
		}
		msg = placeholder(key).ReplaceAllLiteralString(msg, vars[key])
	}
	return msg
}

// placeholder matches $KEY, ${KEY}, and the half-braced forms the same way
// the pattern \$\{?KEY\}? always has.
func placeholder(key string) *regexp.Regexp {
	return regexp.MustCompile(`\$\{?` + regexp.QuoteMeta(key) + `\}?`)
}

// orderedKeys sorts longest first so $JOB_NAME is claimed by JOB_NAME
// before JOB gets a chance to match its prefix.
func orderedKeys(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
