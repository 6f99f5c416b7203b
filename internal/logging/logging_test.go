package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickspencer/buildbat/internal/config"
)

func TestNewFormatter(t *testing.T) {
	t.Parallel()

	f, err := newFormatter("auto", true)
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, f)

	f, err = newFormatter("", false)
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, f)

	f, err = newFormatter("JSON", true)
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, f)

	_, err = newFormatter("xml", false)
	assert.Error(t, err)
}

func TestSetupWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "buildbat.log")
	logger := logrus.New()
	closer, err := setup(logger, config.LogConfig{Level: "debug", Format: "auto", File: path, MaxSizeMB: 1}, os.Stderr)
	require.NoError(t, err)

	logger.WithField("job", "api").Debug("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"job":"api"`)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestSetupRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, err := setup(logrus.New(), config.LogConfig{Level: "loud"}, os.Stderr)
	assert.Error(t, err)
}
