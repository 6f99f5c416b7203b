package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/patrickspencer/buildbat/internal/credentials"
)

// LogConfig controls process logging.
type LogConfig struct {
	Level string `yaml:"level" default:"info"`
	// Format is "auto", "text" or "json". Auto picks text on a terminal.
	Format     string `yaml:"format" default:"auto"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
}

// SparkConfig points the delivery client at the Spark services.
type SparkConfig struct {
	IDBrokerURL     string        `yaml:"idbroker_url" default:"https://idbroker.webex.com/idb"`
	ConversationURL string        `yaml:"conversation_url" default:"https://conv-a.wbx2.com/conversation/api/v1"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"30s"`
	MaxParallel     int           `yaml:"max_parallel" default:"4"`
}

// BuildLogConfig controls the persistent per-build console files.
type BuildLogConfig struct {
	Enabled         *bool         `yaml:"enabled" default:"true"`
	Dir             string        `yaml:"dir"`
	MaxBytes        int64         `yaml:"max_bytes" default:"1048576"`
	RetentionDays   int           `yaml:"retention_days" default:"7"`
	MaxTotalMB      int64         `yaml:"max_total_mb" default:"128"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1h"`
}

// IsEnabled returns whether console files are kept. Defaults to true.
func (c BuildLogConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// Config is the top-level daemon configuration parsed from buildbat.yaml.
type Config struct {
	Listen  string `yaml:"listen" default:":8080"`
	BaseURL string `yaml:"base_url"`
	DataDir string `yaml:"data_dir" default:"./data"`
	JobsDir string `yaml:"jobs_dir"`

	Log       LogConfig      `yaml:"log"`
	Spark     SparkConfig    `yaml:"spark"`
	BuildLogs BuildLogConfig `yaml:"build_logs"`

	// Credentials seed the credential store the first time the daemon
	// starts. After that the stored value wins.
	Credentials credentials.Credentials `yaml:"credentials"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	if err := applyDefaults(&cfg); err != nil {
		// Only reachable with a malformed default tag.
		panic(err)
	}
	return &cfg
}

func applyDefaults(c *Config) error {
	if err := defaults.Set(c); err != nil {
		return errors.Wrap(err, "apply defaults")
	}
	c.DataDir = expandPath(c.DataDir)
	if c.JobsDir == "" {
		c.JobsDir = defaultJobsDir()
	}
	c.JobsDir = expandPath(c.JobsDir)
	if c.BuildLogs.Dir == "" {
		c.BuildLogs.Dir = filepath.Join(c.DataDir, "builds")
	} else {
		c.BuildLogs.Dir = expandPath(c.BuildLogs.Dir)
	}
	if c.Log.File != "" {
		c.Log.File = expandPath(c.Log.File)
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + hostPort(c.Listen)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

func hostPort(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}

func defaultJobsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "./jobs"
	}
	return filepath.Join(home, ".config", "buildbat", "jobs")
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") || strings.HasPrefix(v, "~\\") {
		return filepath.Join(home, v[2:])
	}
	return v
}

// LoadConfig reads a YAML configuration file from path and returns
// a Config with defaults applied for any unset fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is LoadConfig, except that a missing file yields defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil && os.IsNotExist(errors.Cause(err)) {
		return Default(), nil
	}
	return cfg, err
}
