package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/programmodel/internal/archive"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "programmodel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OSS_FUZZ_CONTAINER_ORG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DBPath))
	assert.Equal(t, DefaultGraphDBURL, cfg.GraphDBURL)
	assert.True(t, cfg.GraphDBEnabled)
	assert.True(t, cfg.AllowPull)
	assert.True(t, cfg.ReconcileOwnership)
	assert.Equal(t, DefaultBaseImageURL, cfg.BaseImageURL)
	assert.Equal(t, time.Second, cfg.SleepTime)
	assert.Equal(t, 10*time.Minute, cfg.ClaimTimeout)
	assert.False(t, cfg.Archive.Enabled)

	assert.ErrorIs(t, cfg.Validate(), ErrMissingWorkDir)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("OSS_FUZZ_CONTAINER_ORG", "")
	path := writeConfig(t, `
db_path: /var/lib/programmodel/queue.db
work_dir: /work
script_dir: /scripts
kythe_dir: /opt/kythe
graphdb_url: ""
graphdb_enabled: false
allow_pull: false
sleep_time: 250ms
claim_timeout: 30m
log_format: console
archive:
  enabled: true
  endpoint: minio:9000
  access_key: key
  secret_key: secret
  bucket: indexes
  prefix: oss-fuzz
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/programmodel/queue.db", cfg.DBPath)
	assert.Equal(t, "/work", cfg.WorkDir)
	assert.Equal(t, "/opt/kythe", cfg.KytheDir)
	assert.Equal(t, DefaultGraphDBURL, cfg.GraphDBURL, "empty url falls back to the default")
	assert.False(t, cfg.GraphDBEnabled)
	assert.False(t, cfg.AllowPull)
	assert.Equal(t, 250*time.Millisecond, cfg.SleepTime)
	assert.Equal(t, 30*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, archive.Config{
		Endpoint:  "minio:9000",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "indexes",
		Prefix:    "oss-fuzz",
	}, cfg.Archive.Config)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "work_dir: /from-yaml\nbase_image_url: yaml.example/oss-fuzz\n")
	t.Setenv("PROGRAMMODEL_WORK_DIR", "/from-env")
	t.Setenv("PROGRAMMODEL_GRAPHDB_ENABLED", "false")
	t.Setenv("PROGRAMMODEL_SLEEP_TIME", "2")
	t.Setenv("PROGRAMMODEL_CLAIM_TIMEOUT", "90s")
	t.Setenv("OSS_FUZZ_CONTAINER_ORG", "ghcr.io/aixcc")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.WorkDir)
	assert.False(t, cfg.GraphDBEnabled)
	assert.Equal(t, 2*time.Second, cfg.SleepTime)
	assert.Equal(t, 90*time.Second, cfg.ClaimTimeout)
	assert.Equal(t, "ghcr.io/aixcc", cfg.BaseImageURL)

	t.Setenv("PROGRAMMODEL_BASE_IMAGE_URL", "registry.local/oss-fuzz")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "registry.local/oss-fuzz", cfg.BaseImageURL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "sleep_time: [1, 2]\n"))
	assert.Error(t, err)

	t.Setenv("PROGRAMMODEL_ALLOW_PULL", "sometimes")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.WorkDir = "/work"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no db", func(c *Config) { c.DBPath = "" }},
		{"zero sleep", func(c *Config) { c.SleepTime = 0 }},
		{"negative claim timeout", func(c *Config) { c.ClaimTimeout = -time.Second }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Endpoint = "minio:9000"
			c.Archive.AccessKey = "a"
			c.Archive.SecretKey = "s"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
