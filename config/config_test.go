package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/log"
	"github.com/mwantia/tbf/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: dir:///var/lib/tbf
limits:
  max_object_size: 1048576
  counter_file: ids.bin
log:
  level: debug
  file: /var/log/tbf.log
  json: true
  no_terminal: true
metrics:
  enabled: true
  namespace: files
`))
	require.NoError(t, err)

	assert.Equal(t, "dir:///var/lib/tbf", cfg.Backend)
	assert.Equal(t, int64(1048576), cfg.Limits.MaxObjectSize)
	assert.Equal(t, "ids.bin", cfg.Limits.CounterFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/tbf.log", cfg.Log.File)
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Log.NoTerminal)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "files", cfg.Metrics.Namespace)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("backend: sqlite://:memory:\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite://:memory:", cfg.Backend)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultNamespace, cfg.Metrics.Namespace)
	assert.False(t, cfg.Metrics.Enabled)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty backend":   "backend: ''\n",
		"bad level":       "log:\n  level: loud\n",
		"negative size":   "limits:\n  max_object_size: -1\n",
		"empty namespace": "metrics:\n  enabled: true\n  namespace: ''\n",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}

	_, err := Parse([]byte("backend: [unterminated"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tbf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: ':memory:'\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Backend)
	assert.Equal(t, path, cfg.Path())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_Logger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.JSON = true
	cfg.Log.NoTerminal = true
	cfg.Log.File = filepath.Join(t.TempDir(), "tbf.log")

	logger, err := cfg.Logger()
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, log.Warn, logger.Level)
	assert.True(t, logger.JSON)
	assert.False(t, logger.Enabled(log.Info))
}

func TestConfig_Open(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Backend = "dir://" + dir
	cfg.Limits.CounterFile = "ids.bin"
	cfg.Limits.MaxObjectSize = 8
	cfg.Metrics.Enabled = true

	fs, err := cfg.Open(t.Context(), log.NewDiscardLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer fs.Close(t.Context())

	_, ok := fs.(*metrics.InstrumentedFileSystem)
	assert.True(t, ok)

	_, err = fs.AddFile(t.Context(), []byte("x"), []tbf.Tag{tbf.DefaultTag("a")})
	require.NoError(t, err)

	_, err = fs.AddFile(t.Context(), []byte("too large data"), nil)
	assert.ErrorIs(t, err, tbf.ErrObjectTooLarge)

	_, err = os.Stat(filepath.Join(dir, "ids.bin"))
	assert.NoError(t, err)
}

func TestConfig_OpenReadOnly(t *testing.T) {
	cfg, err := Parse([]byte("backend: ':memory:'\nread_only: true\n"))
	require.NoError(t, err)

	fs, err := cfg.Open(t.Context(), log.NewDiscardLogger(), nil)
	require.NoError(t, err)
	defer fs.Close(t.Context())

	_, err = fs.AddFile(t.Context(), []byte("x"), nil)
	assert.ErrorIs(t, err, tbf.ErrReadOnly)
}

func TestConfig_OpenWithoutMetrics(t *testing.T) {
	cfg := Default()

	fs, err := cfg.Open(t.Context(), log.NewDiscardLogger(), nil)
	require.NoError(t, err)
	defer fs.Close(t.Context())

	assert.Equal(t, "memory", fs.Name())

	cfg.Backend = "ftp://nowhere"
	_, err = cfg.Open(t.Context(), log.NewDiscardLogger(), nil)
	assert.ErrorIs(t, err, tbf.ErrUnknownBackendAddress)
}
