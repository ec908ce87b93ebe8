package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hexkit/internal/config"
	"github.com/joshuapare/hexkit/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(config.Options{Fs: afero.NewMemMapFs(), Paths: []string{"/etc/hexkit"}})
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, types.DefaultLimits(), cfg.TypesLimits())

	mo := cfg.ManagerOptions()
	assert.Equal(t, types.DefaultWorkers, mo.Workers)
	assert.Equal(t, types.DefaultGracePeriod, mo.GracePeriod)
	assert.Len(t, cfg.DocumentOptions(), 1)
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/hexkit/hexkit.yaml", []byte(`
limits:
  memory_load_limit: 1048576
  cache_size: 65536
  cache_boundary: 4096
  merge_limit: 0
operations:
  workers: 2
  grace_period: 250ms
log:
  enabled: true
  level: debug
`), 0o644))

	cfg, err := config.Load(config.Options{Fs: fs, Paths: []string{"/etc/hexkit"}})
	require.NoError(t, err)

	assert.Equal(t, int64(1<<20), cfg.Limits.MemoryLoadLimit)
	assert.Equal(t, int64(64<<10), cfg.Limits.CacheSize)
	assert.Equal(t, 0, cfg.Limits.MergeLimit)
	assert.Equal(t, int64(types.DefaultWriteBlock), cfg.Limits.WriteBlock, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Operations.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Operations.GracePeriod)

	lo := cfg.LoggerOptions()
	assert.True(t, lo.Enabled)
	assert.Equal(t, slog.LevelDebug, lo.Level)

	oo := cfg.OpenerOptions(fs)
	assert.Same(t, fs, oo.Fs)
	assert.Equal(t, int64(4096), oo.Limits.CacheBoundary)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HEXKIT_OPERATIONS_WORKERS", "7")
	t.Setenv("HEXKIT_LIMITS_MEMORY_LOAD_LIMIT", "2048")
	t.Setenv("HEXKIT_OPERATIONS_GRACE_PERIOD", "3s")

	cfg, err := config.Load(config.Options{Fs: afero.NewMemMapFs(), Paths: []string{"/"}})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Operations.Workers)
	assert.Equal(t, int64(2048), cfg.Limits.MemoryLoadLimit)
	assert.Equal(t, 3*time.Second, cfg.Operations.GracePeriod)
}

func TestLoadStrictProfile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/hexkit.yaml", []byte(`
limits:
  profile: strict
  history_limit: 50
`), 0o644))

	cfg, err := config.Load(config.Options{Fs: fs, Paths: []string{"/"}})
	require.NoError(t, err)

	want := types.StrictLimits()
	want.HistoryLimit = 50
	assert.Equal(t, config.ProfileStrict, cfg.Limits.Profile)
	assert.Equal(t, want, cfg.TypesLimits(), "explicit keys override the profile")
}

func TestLoadProfileFromEnv(t *testing.T) {
	t.Setenv("HEXKIT_LIMITS_PROFILE", "strict")
	t.Setenv("HEXKIT_LIMITS_WRITE_BLOCK", "4096")

	cfg, err := config.Load(config.Options{Fs: afero.NewMemMapFs(), Paths: []string{"/"}})
	require.NoError(t, err)
	assert.Equal(t, types.StrictLimits().MemoryLoadLimit, cfg.Limits.MemoryLoadLimit)
	assert.Equal(t, int64(4096), cfg.Limits.WriteBlock)
}

func TestLoadExplicitFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.json", []byte(`{"operations": {"workers": 3}}`), 0o644))

	cfg, err := config.Load(config.Options{Fs: fs, File: "/cfg.json"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Operations.Workers)

	_, err = config.Load(config.Options{Fs: fs, File: "/missing.yaml"})
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative limit", "limits:\n  memory_load_limit: -1\n"},
		{"negative workers", "operations:\n  workers: -2\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"unknown profile", "limits:\n  profile: tiny\n"},
		{"malformed", "limits: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/hexkit.yaml", []byte(tt.body), 0o644))
			_, err := config.Load(config.Options{Fs: fs, Paths: []string{"/"}})
			require.Error(t, err)
		})
	}
}
