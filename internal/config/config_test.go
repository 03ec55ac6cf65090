package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "levelverse.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "lvl_default", cfg.DefaultLevelID)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, filepath.Join("./data", "levels.sqlite"), cfg.Store.Path)
	assert.True(t, cfg.TransactionalCascades)
	assert.Equal(t, 200.0, cfg.Spawn().X)
	assert.Empty(t, cfg.LogRotateLayout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	p := writeYAML(t, `
listen: ":9000"
data_dir: /var/lib/lv
default_level_id: lvl_home
default_spawn: {x: 10, y: 20}
forbidden_ips: ["10.0.0.1", " 10.0.0.2 "]
transactional_cascades: false
store:
  backend: MEMORY
analytics:
  http_endpoint: https://ingest.example/v1
  batch_size: 50
mirror:
  enabled: true
  endpoint: r2.example
  bucket: logs
  access_key_id: ak
  secret_access_key: sk
`)
	cfg, err := LoadWithEnv(p, map[string]string{
		"LV_LISTEN":             ":9100",
		"LV_DEFAULT_SPAWN_Y":    "25",
		"LV_FORBIDDEN_IPS":      "192.168.1.1,::1",
		"LV_ANALYTICS_JSONL":    "false",
		"LV_ANALYTICS_FLUSH_MS": "250",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, "lvl_home", cfg.DefaultLevelID)
	assert.Equal(t, Point{X: 10, Y: 25}, cfg.DefaultSpawn)
	assert.Equal(t, []string{"192.168.1.1", "::1"}, cfg.ForbiddenIPs)
	assert.False(t, cfg.TransactionalCascades)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Empty(t, cfg.Store.Path)
	assert.False(t, cfg.Analytics.JSONL)
	assert.Equal(t, 50, cfg.Analytics.BatchSize)
	assert.Equal(t, int64(250), cfg.Analytics.FlushInterval().Milliseconds())
	assert.Equal(t, MirrorRotateLayout, cfg.LogRotateLayout)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"empty default level": {"LV_DEFAULT_LEVEL_ID": " "},
		"bad default level":   {"LV_DEFAULT_LEVEL_ID": "lvl default"},
		"bad backend":         {"LV_STORE_BACKEND": "mongo"},
		"bad ip":              {"LV_FORBIDDEN_IPS": "10.0.0.300"},
		"bad log level":       {"LV_LOG_LEVEL": "loud"},
		"mirror incomplete":   {"LV_MIRROR_ENABLED": "true", "LV_MIRROR_BUCKET": "logs"},
		"negative batch":      {"LV_ANALYTICS_BATCH_SIZE": "-1"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWithEnv("", environ)
			require.Error(t, err)
			_, ok := oops.AsOops(err)
			assert.True(t, ok, "want an oops error, got %T", err)
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.Error(t, err)

	_, err = LoadWithEnv(writeYAML(t, "store: [oops"), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "levelverse.yaml")
	_, ok := oops.AsOops(err)
	assert.True(t, ok)
}
