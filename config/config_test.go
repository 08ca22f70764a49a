package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/logging"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.Session.DefaultTTL)
	assert.Equal(t, 0.85, cfg.Conflict.SimilarityThreshold)
	assert.Equal(t, 30*time.Second, cfg.Conflict.MaxMediation)
	assert.Equal(t, 5, cfg.Pattern.MinTrials)
	assert.Equal(t, BackendMemory, cfg.Audit.Backend)
	assert.Equal(t, logging.LogLevelInfo, cfg.LogLevel())
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "meshcoord.toml", `
[session]
default_ttl = "10m"
purge_expired = true

[conflict]
voting_threshold = 0.75

[audit]
backend = "sqlite"
sqlite_path = "/tmp/audit.db"
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Session.DefaultTTL)
	assert.True(t, cfg.Session.PurgeExpired)
	assert.Equal(t, 0.75, cfg.Conflict.VotingThreshold)
	assert.Equal(t, BackendSQLite, cfg.Audit.Backend)
	assert.Equal(t, "/tmp/audit.db", cfg.Audit.SQLitePath)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "meshcoord.yaml", "pattern:\n  min_trials: 8\nlog:\n  format: text\n")

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pattern.MinTrials)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MESHCOORD_CONFLICT_VOTING_THRESHOLD", "0.9")
	t.Setenv("MESHCOORD_SESSION_SWEEP_INTERVAL", "15s")
	path := writeFile(t, "meshcoord.toml", "[conflict]\nvoting_threshold = 0.7\n")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Conflict.VotingThreshold)
	assert.Equal(t, 15*time.Second, cfg.Session.SweepInterval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "meshcoord.toml", "[conflict]\nsimilarity_threshold = 1.5\n")

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "conflict.similarity_threshold", verr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(c *Config)
		field string
	}{
		{"negative step", func(c *Config) { c.Pattern.ConfidenceStep = 0 }, "pattern.confidence_step"},
		{"zero sweep", func(c *Config) { c.Session.SweepInterval = 0 }, "session.sweep_interval"},
		{"short ttl", func(c *Config) { c.Session.DefaultTTL = time.Millisecond }, "session.default_ttl"},
		{"min trials", func(c *Config) { c.Pattern.MinTrials = 0 }, "pattern.min_trials"},
		{"buffer", func(c *Config) { c.Audit.Buffer = 0 }, "audit.buffer"},
		{"backend", func(c *Config) { c.Audit.Backend = "s3" }, "audit.backend"},
		{"sqlite path", func(c *Config) { c.Audit.Backend = BackendSQLite; c.Audit.SQLitePath = "" }, "audit.sqlite_path"},
		{"graph uri", func(c *Config) { c.Audit.Backend = BackendGraph; c.Audit.GraphURI = "" }, "audit.graph_uri"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			err := cfg.Validate()
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Conflict.MaxMediation = 45 * time.Second
	cfg.Audit.GraphUser = "neo4j"

	data, err := Encode(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[conflict]")
	assert.Contains(t, string(data), "max_mediation = ")
	assert.Contains(t, string(data), "45s")

	path := writeFile(t, "meshcoord.toml", string(data))
	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
