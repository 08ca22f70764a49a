// Package config holds every tunable constant of the coordinator. Values come
// from defaults, an optional TOML/YAML/JSON file and MESHCOORD_ environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/logging"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// MESHCOORD_CONFLICT_VOTING_THRESHOLD.
const EnvPrefix = "MESHCOORD"

const configName = "meshcoord"

// Audit backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendGraph  = "graph"
)

// Config is the full coordinator configuration.
type Config struct {
	Session  SessionConfig  `mapstructure:"session"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Pattern  PatternConfig  `mapstructure:"pattern"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

// SessionConfig tunes the session store and its sweep.
type SessionConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PurgeExpired removes inactive sessions after each sweep.
	PurgeExpired bool `mapstructure:"purge_expired"`
}

// ConflictConfig holds the strategy thresholds.
type ConflictConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	RecencyWindow       time.Duration `mapstructure:"recency_window"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ContextualThreshold float64       `mapstructure:"contextual_threshold"`
	VotingThreshold     float64       `mapstructure:"voting_threshold"`
	MaxMediation        time.Duration `mapstructure:"max_mediation"`
}

// PatternConfig tunes matching and re-analysis.
type PatternConfig struct {
	MatchThreshold float64       `mapstructure:"match_threshold"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	MinTrials      int           `mapstructure:"min_trials"`
	ConfidenceStep float64       `mapstructure:"confidence_step"`
}

// AuditConfig selects and tunes the audit sink.
type AuditConfig struct {
	Backend       string        `mapstructure:"backend"`
	Buffer        int           `mapstructure:"buffer"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	GraphURI      string        `mapstructure:"graph_uri"`
	GraphUser     string        `mapstructure:"graph_user"`
	GraphPassword string        `mapstructure:"graph_password"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			DefaultTTL:    time.Hour,
			SweepInterval: time.Minute,
		},
		Conflict: ConflictConfig{
			SimilarityThreshold: 0.85,
			RecencyWindow:       5 * time.Minute,
			ConfidenceThreshold: 0.7,
			ContextualThreshold: 0.8,
			VotingThreshold:     0.66,
			MaxMediation:        30 * time.Second,
		},
		Pattern: PatternConfig{
			MatchThreshold: 0.7,
			SweepInterval:  5 * time.Minute,
			MinTrials:      5,
			ConfidenceStep: 0.1,
		},
		Audit: AuditConfig{
			Backend:    BackendMemory,
			Buffer:     256,
			Timeout:    5 * time.Second,
			SQLitePath: "meshcoord.db",
			GraphURI:   "bolt://localhost:7687",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// settings flattens c into dotted viper keys.
func (c Config) settings() map[string]any {
	return map[string]any{
		"session.default_ttl":           c.Session.DefaultTTL,
		"session.sweep_interval":        c.Session.SweepInterval,
		"session.purge_expired":         c.Session.PurgeExpired,
		"conflict.similarity_threshold": c.Conflict.SimilarityThreshold,
		"conflict.recency_window":       c.Conflict.RecencyWindow,
		"conflict.confidence_threshold": c.Conflict.ConfidenceThreshold,
		"conflict.contextual_threshold": c.Conflict.ContextualThreshold,
		"conflict.voting_threshold":     c.Conflict.VotingThreshold,
		"conflict.max_mediation":        c.Conflict.MaxMediation,
		"pattern.match_threshold":       c.Pattern.MatchThreshold,
		"pattern.sweep_interval":        c.Pattern.SweepInterval,
		"pattern.min_trials":            c.Pattern.MinTrials,
		"pattern.confidence_step":       c.Pattern.ConfidenceStep,
		"audit.backend":                 c.Audit.Backend,
		"audit.buffer":                  c.Audit.Buffer,
		"audit.timeout":                 c.Audit.Timeout,
		"audit.sqlite_path":             c.Audit.SQLitePath,
		"audit.graph_uri":               c.Audit.GraphURI,
		"audit.graph_user":              c.Audit.GraphUser,
		"audit.graph_password":          c.Audit.GraphPassword,
		"log.level":                     c.Log.Level,
		"log.format":                    c.Log.Format,
	}
}

// Load reads configuration into v. With an empty path it looks for
// meshcoord.{toml,yaml,json} in the working directory and tolerates its
// absence; an explicit path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	for k, val := range Default().settings() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and returns a *core.ValidationError naming the
// first offending key.
func (c Config) Validate() error {
	unit := map[string]float64{
		"conflict.similarity_threshold": c.Conflict.SimilarityThreshold,
		"conflict.confidence_threshold": c.Conflict.ConfidenceThreshold,
		"conflict.contextual_threshold": c.Conflict.ContextualThreshold,
		"conflict.voting_threshold":     c.Conflict.VotingThreshold,
		"pattern.match_threshold":       c.Pattern.MatchThreshold,
	}
	for _, key := range sortedKeys(unit) {
		if v := unit[key]; v < 0 || v > 1 {
			return core.NewValidationError(key, "must be within [0,1]")
		}
	}
	if c.Pattern.ConfidenceStep <= 0 || c.Pattern.ConfidenceStep > 1 {
		return core.NewValidationError("pattern.confidence_step", "must be within (0,1]")
	}

	positive := map[string]time.Duration{
		"session.sweep_interval":  c.Session.SweepInterval,
		"conflict.recency_window": c.Conflict.RecencyWindow,
		"conflict.max_mediation":  c.Conflict.MaxMediation,
		"pattern.sweep_interval":  c.Pattern.SweepInterval,
		"audit.timeout":           c.Audit.Timeout,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			return core.NewValidationError(key, "must be positive")
		}
	}
	if c.Session.DefaultTTL < time.Second {
		return core.NewValidationError("session.default_ttl", "must be at least 1s")
	}
	if c.Pattern.MinTrials < 1 {
		return core.NewValidationError("pattern.min_trials", "must be at least 1")
	}
	if c.Audit.Buffer < 1 {
		return core.NewValidationError("audit.buffer", "must be at least 1")
	}

	switch c.Audit.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Audit.SQLitePath == "" {
			return core.NewValidationError("audit.sqlite_path", "required for the sqlite backend")
		}
	case BackendGraph:
		if c.Audit.GraphURI == "" {
			return core.NewValidationError("audit.graph_uri", "required for the graph backend")
		}
	default:
		return core.NewValidationError("audit.backend", "must be one of memory, sqlite, graph")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return core.NewValidationError("log.level", err.Error())
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return core.NewValidationError("log.format", "must be json or text")
	}
	return nil
}

// Encode renders c as TOML. Durations are written in time.Duration string
// form so the output loads back unchanged.
func Encode(c Config) ([]byte, error) {
	file := map[string]any{}
	for key, val := range c.settings() {
		section, name, _ := strings.Cut(key, ".")
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		if _, ok := file[section]; !ok {
			file[section] = map[string]any{}
		}
		file[section].(map[string]any)[name] = val
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() logging.LogLevel {
	l, _ := logging.ParseLevel(c.Log.Level)
	return l
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
