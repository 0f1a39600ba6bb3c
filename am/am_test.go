package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/teranos/gnis/errors"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "US Census Bureau", cfg.Pipeline.Source)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 10, cfg.Pipeline.Concurrency)
	assert.Equal(t, 0.90, cfg.Pipeline.QualityThreshold)
	assert.Equal(t, "https://api.census.gov/data", cfg.Census.APIURL)
	assert.Equal(t, 30*time.Second, cfg.Census.Timeout())
	assert.Equal(t, 3, cfg.Census.MaxRetries)
	assert.Equal(t, 10.0, cfg.Census.RequestsPerSecond)
	assert.False(t, cfg.Census.AllowPrivateHosts)
	assert.Equal(t, AuditSinkLog, cfg.Audit.Sink)
	assert.Equal(t, "gnis.db", cfg.Database.Path)
	assert.Empty(t, cfg.Schema.Path)
	assert.Empty(t, cfg.Policy.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[pipeline]
batch_size = 250
concurrency = 0

[census]
api_url = "http://127.0.0.1:9000/data"
allow_private_hosts = true

[audit]
sink = "jsonl"
jsonl_path = "/var/log/gnis/audit.jsonl"

[policy]
path = "policy.yaml"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, 0, cfg.Pipeline.Concurrency)
	assert.Equal(t, "US Census Bureau", cfg.Pipeline.Source, "defaults fill the rest")
	assert.Equal(t, "http://127.0.0.1:9000/data", cfg.Census.APIURL)
	assert.True(t, cfg.Census.AllowPrivateHosts)
	assert.Equal(t, AuditSinkJSONL, cfg.Audit.Sink)
	assert.Equal(t, "policy.yaml", cfg.Policy.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMergesProjectFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, DefaultDirPermissions))
	project := writeConfig(t, dir, "[pipeline]\nbatch_size = 42\nsource = \"file\"\n")

	t.Chdir(nested)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GNIS_PIPELINE_SOURCE", "env-source")
	t.Setenv("GNIS_CENSUS_API_KEY", "k-123")
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Pipeline.BatchSize)
	assert.Equal(t, "env-source", cfg.Pipeline.Source)
	assert.Equal(t, "k-123", cfg.Census.APIKey)

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	settings := map[string]SettingInfo{}
	for _, s := range Introspect() {
		settings[s.Key] = s
	}
	assert.Equal(t, SourceProject, settings["pipeline.batch_size"].Source)
	assert.Equal(t, project, settings["pipeline.batch_size"].SourcePath)
	assert.Equal(t, SourceEnvironment, settings["pipeline.source"].Source)
	assert.Equal(t, "GNIS_PIPELINE_SOURCE", settings["pipeline.source"].SourcePath)
	assert.Equal(t, SourceDefault, settings["census.max_retries"].Source)
	assert.Equal(t, "********", settings["census.api_key"].Value)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }, "pipeline.batch_size"},
		{"negative concurrency", func(c *Config) { c.Pipeline.Concurrency = -2 }, "pipeline.concurrency"},
		{"threshold above one", func(c *Config) { c.Pipeline.QualityThreshold = 1.01 }, "pipeline.quality_threshold"},
		{"zero timeout", func(c *Config) { c.Census.TimeoutSeconds = 0 }, "census.timeout_seconds"},
		{"negative retries", func(c *Config) { c.Census.MaxRetries = -1 }, "census.max_retries"},
		{"zero rate", func(c *Config) { c.Census.RequestsPerSecond = 0 }, "census.requests_per_second"},
		{"unknown sink", func(c *Config) { c.Audit.Sink = "kafka" }, "audit.sink"},
		{"jsonl without path", func(c *Config) { c.Audit.Sink = AuditSinkJSONL; c.Audit.JSONLPath = "" }, "audit.jsonl_path"},
		{"sqlite without db", func(c *Config) { c.Audit.Sink = AuditSinkSQLite; c.Database.Path = "" }, "database.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := Defaults()
	cfg.Pipeline.Concurrency = 0
	assert.NoError(t, cfg.Validate(), "zero concurrency means the whole batch")
}

func TestValidateUnknownSinkHasHint(t *testing.T) {
	cfg := Defaults()
	cfg.Audit.Sink = "kafka"
	assert.NotEmpty(t, errors.GetAllHints(cfg.Validate()))
}

func TestMarshal(t *testing.T) {
	cfg := Defaults()
	cfg.Census.APIKey = "secret"

	data, err := Marshal(cfg, "toml")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	var fromTOML Config
	require.NoError(t, toml.Unmarshal(data, &fromTOML))
	assert.Equal(t, cfg.Pipeline, fromTOML.Pipeline)
	assert.Empty(t, fromTOML.Census.APIKey)

	data, err = Marshal(cfg, "yaml")
	require.NoError(t, err)
	var fromYAML Config
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, cfg.Audit, fromYAML.Audit)

	_, err = Marshal(cfg, "ini")
	assert.True(t, errors.Is(err, errors.ErrUnsupportedFormat))
	assert.Equal(t, "secret", cfg.Census.APIKey, "caller's config is untouched")
}

func TestWriteFileRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", ProjectConfigName)

	for i := 1; i <= 5; i++ {
		cfg := Defaults()
		cfg.Pipeline.BatchSize = i
		require.NoError(t, WriteFile(path, cfg))
	}

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.BatchSize)

	for n, want := range map[string]int{".back1": 4, ".back2": 3, ".back3": 2} {
		data, err := os.ReadFile(path + n)
		require.NoError(t, err, n)
		var c Config
		require.NoError(t, toml.Unmarshal(data, &c))
		assert.Equal(t, want, c.Pipeline.BatchSize, n)
	}
	_, err = os.Stat(path + ".back4")
	assert.True(t, os.IsNotExist(err))
}
