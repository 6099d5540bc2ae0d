package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Store.FetchLimit)
	assert.Equal(t, 144000, cfg.Fleet.TotalCapacity)
	assert.InDelta(t, 1.0, cfg.Orchestration.Weights.Sum(), 1e-9)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  style: json
store:
  driver: postgres
  dsn: postgres://atlas@localhost/atlas
orchestration:
  minScore: 40
fleet:
  sectors:
    - name: finance
      share: 0.5
    - name: retail
      share: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Style)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 40.0, cfg.Orchestration.MinScore)
	require.Len(t, cfg.Fleet.Sectors, 2)

	// untouched sections keep their defaults
	assert.Equal(t, DefaultWeights(), cfg.Orchestration.Weights)
	assert.Equal(t, 50, cfg.Orchestration.MaxBatch)
	assert.Equal(t, 250, cfg.Realtime.DebounceMs)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ATLAS_GATEWAY_PORT", "7777")
	t.Setenv("ATLAS_LOG_LEVEL", "DEBUG")
	t.Setenv("ATLAS_REDIS_ADDR", "localhost:6380")
	t.Setenv("ATLAS_AI_API_KEY", "sk-test")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "localhost:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, "localhost:6380", cfg.Realtime.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("ATLAS_TEST_TOKEN", "tok-123")
	t.Setenv("ATLAS_TEST_DSN", "postgres://x")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
gateway:
  auth:
    token: ${ATLAS_TEST_TOKEN}
store:
  dsn: ${ATLAS_TEST_DSN}
ai:
  apiKey: ${ATLAS_UNSET_VAR}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Gateway.Auth.Token)
	assert.Equal(t, "postgres://x", cfg.Store.DSN)
	assert.Equal(t, "${ATLAS_UNSET_VAR}", cfg.AI.APIKey)
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"orchestration.weights.sector", []string{"orchestration", "weights", "sector"}, false},
		{"", nil, true},
		{"a..b", nil, true},
		{"__proto__.x", nil, true},
		{"x.constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGetSetUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{"port": 54321, "bind": "loopback"},
	}

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 54321, val)

	_, ok = GetValueAtPath(root, []string{"gateway", "missing"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"fleet", "totalCapacity"}, 1000)
	val, ok = GetValueAtPath(root, []string{"fleet", "totalCapacity"})
	assert.True(t, ok)
	assert.Equal(t, 1000, val)

	// overwrites a scalar intermediate with a map
	SetValueAtPath(root, []string{"gateway", "port", "inner"}, "x")
	val, ok = GetValueAtPath(root, []string{"gateway", "port", "inner"})
	assert.True(t, ok)
	assert.Equal(t, "x", val)

	assert.True(t, UnsetValueAtPath(root, []string{"gateway", "bind"}))
	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "bind"}))
	assert.False(t, UnsetValueAtPath(root, []string{"nope", "x"}))
}

func TestParseScalar(t *testing.T) {
	assert.Equal(t, true, ParseScalar("true"))
	assert.Equal(t, false, ParseScalar("FALSE"))
	assert.Equal(t, 42, ParseScalar("42"))
	assert.Equal(t, 0.25, ParseScalar("0.25"))
	assert.Equal(t, "loopback", ParseScalar("loopback"))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	raw := map[string]any{"gateway": map[string]any{"port": 9999}}
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)

	empty, err := LoadRaw(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestResolvePathsCustomHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("ATLAS_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(tmp, "data", "atlas.db"), paths.Database)

	require.NoError(t, paths.EnsureDirs())
	for _, d := range []string{paths.Data, paths.Logs} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
