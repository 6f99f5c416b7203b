package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// Job is the definition of a single build job parsed from a YAML file.
type Job struct {
	Name              string                    `yaml:"name" json:"name"`
	DisplayName       string                    `yaml:"display_name" json:"display_name,omitempty"`
	Schedule          string                    `yaml:"schedule" json:"schedule,omitempty"`
	Command           string                    `yaml:"command" json:"command"`
	WorkingDir        string                    `yaml:"working_dir" json:"working_dir,omitempty"`
	Timeout           string                    `yaml:"timeout" json:"timeout,omitempty"`
	Env               map[string]string         `yaml:"env" json:"env,omitempty"`
	Params            map[string]string         `yaml:"params" json:"params,omitempty"`
	UnstableExitCodes []int                     `yaml:"unstable_exit_codes" json:"unstable_exit_codes,omitempty"`
	Enabled           *bool                     `yaml:"enabled" json:"enabled,omitempty"`
	Notify            plugin.NotificationConfig `yaml:"notify" json:"notify"`
	FilePath          string                    `yaml:"-" json:"-"`
}

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// IsEnabled returns whether the job is enabled. Defaults to true if not set.
func (j *Job) IsEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// Title is the human-readable job name used in build display names.
func (j *Job) Title() string {
	if strings.TrimSpace(j.DisplayName) != "" {
		return j.DisplayName
	}
	return j.Name
}

// ParseTimeout parses the Timeout string into a time.Duration.
// Returns 0 if the timeout is empty.
func (j *Job) ParseTimeout() (time.Duration, error) {
	if j.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(j.Timeout)
}

// IsUnstableExit reports whether code marks the build UNSTABLE.
func (j *Job) IsUnstableExit(code int) bool {
	for _, c := range j.UnstableExitCodes {
		if c == code && code != 0 {
			return true
		}
	}
	return false
}

// Validate checks the fields a build needs.
func (j *Job) Validate() error {
	if !jobNamePattern.MatchString(j.Name) {
		return errors.Errorf("invalid job name %q", j.Name)
	}
	if strings.TrimSpace(j.Command) == "" {
		return errors.Errorf("job %s: command is required", j.Name)
	}
	if _, err := j.ParseTimeout(); err != nil {
		return errors.Wrapf(err, "job %s: timeout", j.Name)
	}
	return nil
}

// ParseJobYAML parses and validates a single job YAML payload.
func ParseJobYAML(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// LoadJobs reads all *.yaml and *.yml files from dir. Job names must be
// unique.
func LoadJobs(dir string) ([]*Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var jobs []*Job
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}

		job, err := ParseJobYAML(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
		if prev, dup := seen[job.Name]; dup {
			return nil, errors.Errorf("job %s defined in both %s and %s", job.Name, prev, path)
		}
		seen[job.Name] = path

		job.FilePath = path
		jobs = append(jobs, job)
	}

	return jobs, nil
}
