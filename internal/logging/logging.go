// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/patrickspencer/buildbat/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup applies cfg to the standard logrus logger. Logs go to stderr, or
// to a rotating file when cfg.File is set. The returned Closer flushes
// the file.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return setup(logrus.StandardLogger(), cfg, os.Stderr)
}

func setup(logger *logrus.Logger, cfg config.LogConfig, stderr *os.File) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.Level)
	}
	logger.SetLevel(level)

	var (
		out    io.Writer = stderr
		closer io.Closer = nopCloser{}
		tty              = stderr != nil && isTerminal(stderr.Fd())
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out, closer, tty = lj, lj, false
	}
	logger.SetOutput(out)

	formatter, err := newFormatter(cfg.Format, tty)
	if err != nil {
		return nil, err
	}
	logger.SetFormatter(formatter)
	return closer, nil
}

func newFormatter(format string, tty bool) (logrus.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		if tty {
			return &logrus.TextFormatter{FullTimestamp: true}, nil
		}
		return &logrus.JSONFormatter{}, nil
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true, DisableColors: !tty}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	}
	return nil, errors.Errorf("unknown log format %q", format)
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
