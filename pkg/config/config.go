// Package config loads the evaluation settings from defaults, an optional
// YAML file (plus profile overlay), RBENCH_* environment variables and
// --set style overrides.
package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/tasks"
)

// EnvPrefix is the prefix of environment overrides: RBENCH_LLM_MODEL -> llm.model.
const EnvPrefix = "RBENCH_"

// Memory modes.
const (
	ModeBaseline           = "baseline"
	ModeRetrieveOnly       = "retrieve_only"
	ModeRetrieveAndExtract = "retrieve_and_extract"
)

type Config struct {
	Log         LogConfig         `koanf:"log"`
	LLM         LLMConfig         `koanf:"llm"`
	Retry       RetryConfig       `koanf:"retry"`
	Test        TestConfig        `koanf:"test"`
	Prompt      PromptConfig      `koanf:"prompt"`
	Runtime     RuntimeConfig     `koanf:"runtime"`
	Memory      MemoryConfig      `koanf:"memory"`
	MaTTS       MaTTSConfig       `koanf:"matts"`
	Environment EnvironmentConfig `koanf:"environment"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider          string  `koanf:"provider"` // openai, ollama
	APIBaseURL        string  `koanf:"api_base_url"`
	APIKey            string  `koanf:"api_key" json:"-"`
	Model             string  `koanf:"model"`
	Temperature       float64 `koanf:"temperature"`
	MaxTokens         int     `koanf:"max_tokens"`
	Timeout           float64 `koanf:"timeout"` // seconds
	EnableThinking    *bool   `koanf:"enable_thinking"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// TimeoutDuration returns the request timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	return seconds(c.Timeout)
}

type RetryConfig struct {
	MaxRetries       int     `koanf:"max_retries"`
	RetryInterval    float64 `koanf:"retry_interval"`     // seconds
	MaxRetryInterval float64 `koanf:"max_retry_interval"` // seconds
}

// Interval returns the base backoff delay.
func (c RetryConfig) Interval() time.Duration { return seconds(c.RetryInterval) }

// MaxInterval returns the backoff cap.
func (c RetryConfig) MaxInterval() time.Duration { return seconds(c.MaxRetryInterval) }

type TestConfig struct {
	NumEpisodes     int      `koanf:"num_episodes"`
	TaskIDs         []string `koanf:"task_ids"`
	Split           string   `koanf:"split"`
	Seed            int64    `koanf:"seed"`
	MaxSteps        int      `koanf:"max_steps"`
	Simplifications string   `koanf:"simplifications"`
	CatalogFile     string   `koanf:"catalog_file"`
}

type PromptConfig struct {
	UseFewShot    bool `koanf:"use_few_shot"`
	HistoryLength int  `koanf:"history_length"`
}

type RuntimeConfig struct {
	SaveInterval   int    `koanf:"save_interval"`
	OutputDir      string `koanf:"output_dir"`
	Debug          bool   `koanf:"debug"`
	Ledger         bool   `koanf:"ledger"`
	KeepCheckpoint bool   `koanf:"keep_checkpoint"`
}

type MemoryConfig struct {
	Enabled             bool    `koanf:"enabled"`
	Mode                string  `koanf:"mode"`
	MemoryDir           string  `koanf:"memory_dir"`
	TaskName            string  `koanf:"task_name"`
	Embedder            string  `koanf:"embedder"` // fastembed, ollama, openai
	EmbeddingModel      string  `koanf:"embedding_model"`
	EmbedderBaseURL     string  `koanf:"embedder_base_url"`
	TopK                int     `koanf:"top_k"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	Index               string  `koanf:"index"` // bruteforce, qdrant
	QdrantAddr          string  `koanf:"qdrant_addr"`
	QueryCacheSize      int64   `koanf:"query_cache_size"`
}

// EffectiveMode returns baseline when memory is disabled.
func (c MemoryConfig) EffectiveMode() string {
	if !c.Enabled {
		return ModeBaseline
	}
	return c.Mode
}

// ShouldRetrieve reports whether retrieval is active.
func (c MemoryConfig) ShouldRetrieve() bool {
	m := c.EffectiveMode()
	return m == ModeRetrieveOnly || m == ModeRetrieveAndExtract
}

// ShouldExtract reports whether extraction is active.
func (c MemoryConfig) ShouldExtract() bool {
	return c.EffectiveMode() == ModeRetrieveAndExtract
}

type MaTTSConfig struct {
	Enabled        bool    `koanf:"enabled"`
	SampleN        int     `koanf:"sample_n"`
	Temperature    float64 `koanf:"temperature"`
	MaxTokens      int     `koanf:"max_tokens"`
	EnableThinking *bool   `koanf:"enable_thinking"`
}

type EnvironmentConfig struct {
	Transport string            `koanf:"transport"` // stdio, script
	Script    string            `koanf:"script"`
	Command   string            `koanf:"command"`
	Args      []string          `koanf:"args"`
	Env       map[string]string `koanf:"env"`
	Retries   int               `koanf:"retries"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Options controls where Load reads from.
type Options struct {
	// Path to a YAML (or JSON) config file. Empty means defaults only.
	Path string
	// Profile overlays "<base>.<profile>.yaml" next to Path when present.
	Profile string
	// Overrides are "key=value" pairs applied last.
	Overrides []string
}

var defaults = map[string]interface{}{
	"log.level":  "info",
	"log.format": "text",

	"llm.provider":            "openai",
	"llm.api_base_url":        "https://openrouter.ai/api/v1",
	"llm.model":               "qwen/qwen3-8b",
	"llm.temperature":         0.3,
	"llm.max_tokens":          1024,
	"llm.timeout":             60.0,
	"llm.requests_per_second": 0.0,

	"retry.max_retries":        3,
	"retry.retry_interval":     1.0,
	"retry.max_retry_interval": 30.0,

	"test.num_episodes":    5,
	"test.split":           "dev",
	"test.seed":            42,
	"test.max_steps":       50,
	"test.simplifications": "easy",

	"prompt.use_few_shot":   true,
	"prompt.history_length": 20,

	"runtime.save_interval":   1,
	"runtime.output_dir":      "results",
	"runtime.debug":           false,
	"runtime.ledger":          true,
	"runtime.keep_checkpoint": true,

	"memory.enabled":              false,
	"memory.mode":                 ModeBaseline,
	"memory.memory_dir":           "memory_banks",
	"memory.task_name":            "scienceworld",
	"memory.embedder":             "fastembed",
	"memory.embedding_model":      "BAAI/bge-base-en-v1.5",
	"memory.embedder_base_url":    "http://localhost:11434",
	"memory.top_k":                1,
	"memory.similarity_threshold": 0.5,
	"memory.index":                "bruteforce",
	"memory.qdrant_addr":          "localhost:6334",
	"memory.query_cache_size":     1024,

	"matts.enabled":     false,
	"matts.sample_n":    3,
	"matts.temperature": 0.7,
	"matts.max_tokens":  1024,

	"environment.transport": "stdio",
	"environment.command":   "scienceworld-mcp",
	"environment.retries":   3,

	"telemetry.exporter": "none",
}

// Load reads the config file at path (optional) on top of the defaults.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path})
}

// LoadWithProfile loads path and overlays the profile file if it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOptions(Options{Path: path, Profile: profile})
}

// LoadWithOptions applies defaults, file, profile, environment and
// overrides in that order.
func LoadWithOptions(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfig, "load config file", err).WithContext("path", opts.Path)
		}
		if opts.Profile != "" {
			profilePath := profileFile(opts.Path, opts.Profile)
			if _, err := os.Stat(profilePath); err == nil {
				if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
					return nil, errors.New(errors.CodeConfig, "load profile config", err).WithContext("path", profilePath)
				}
			}
		}
	}

	// RBENCH_LLM_API_BASE_URL -> llm.api_base_url. Sections are single
	// words, so only the first underscore separates levels.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for _, kv := range opts.Overrides {
		key, val, err := parseOverride(kv)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, val); err != nil {
			return nil, errors.New(errors.CodeConfig, "apply override", err).WithContext("override", kv)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfig, "decode config", err)
	}
	if cfg.Runtime.Debug {
		cfg.Log.Level = "debug"
	}
	return &cfg, nil
}

func profileFile(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// parseOverride splits "key=value" and decodes value as YAML so numbers,
// booleans, lists and JSON objects keep their types.
func parseOverride(kv string) (string, interface{}, error) {
	key, raw, ok := strings.Cut(kv, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.New(errors.CodeConfig, fmt.Sprintf("invalid override %q, expected key=value", kv), nil)
	}
	var val interface{}
	if err := yamlv3.Unmarshal([]byte(raw), &val); err != nil || val == nil {
		return key, raw, nil
	}
	return key, val, nil
}

// ResolveAPIKey returns the configured key or falls back to
// OPENROUTER_API_KEY and then OPENAI_API_KEY.
func (c *Config) ResolveAPIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		return v
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Validate runs the startup checks. Every failure is a CONFIG_ERROR.
func (c *Config) Validate() error {
	if c.LLM.Provider == "openai" {
		key := c.ResolveAPIKey()
		if key == "" {
			return errors.New(errors.CodeConfig,
				"API key not set: use llm.api_key or OPENROUTER_API_KEY/OPENAI_API_KEY", nil)
		}
		c.LLM.APIKey = key
	}
	switch c.Test.Split {
	case "train", "dev", "test":
	default:
		return errors.New(errors.CodeConfig, fmt.Sprintf("invalid split %q: must be train, dev or test", c.Test.Split), nil)
	}
	if err := tasks.ValidateIDs(c.Test.TaskIDs); err != nil {
		return err
	}
	if err := tasks.ValidateSimplifications(c.Test.Simplifications); err != nil {
		return err
	}
	switch c.Memory.Mode {
	case ModeBaseline, ModeRetrieveOnly, ModeRetrieveAndExtract:
	default:
		return errors.New(errors.CodeConfig, fmt.Sprintf("invalid memory mode %q", c.Memory.Mode), nil)
	}
	switch c.Environment.Transport {
	case "stdio":
		if c.Environment.Command == "" {
			return errors.New(errors.CodeConfig, "environment.command is required for the stdio transport", nil)
		}
	case "script":
		if c.Environment.Script == "" {
			return errors.New(errors.CodeConfig, "environment.script is required for the script transport", nil)
		}
	default:
		return errors.New(errors.CodeConfig, fmt.Sprintf("invalid environment transport %q", c.Environment.Transport), nil)
	}
	if c.Test.NumEpisodes < 1 {
		return errors.New(errors.CodeConfig, "test.num_episodes must be >= 1", nil)
	}
	if c.Test.MaxSteps < 1 {
		return errors.New(errors.CodeConfig, "test.max_steps must be >= 1", nil)
	}
	if c.Runtime.SaveInterval < 1 {
		c.Runtime.SaveInterval = 1
	}
	if c.MaTTS.Enabled && c.MaTTS.SampleN < 0 {
		return errors.New(errors.CodeConfig, "matts.sample_n must be >= 0", nil)
	}
	return nil
}

// RunID identifies a run by the parameters that affect its results, so a
// rerun with the same settings resumes the same checkpoint.
func (c *Config) RunID() string {
	params := map[string]interface{}{
		"model":           c.LLM.Model,
		"temperature":     c.LLM.Temperature,
		"max_tokens":      c.LLM.MaxTokens,
		"enable_thinking": c.LLM.EnableThinking,
		"split":           c.Test.Split,
		"task_ids":        sortedOrNil(c.Test.TaskIDs),
		"num_episodes":    c.Test.NumEpisodes,
		"seed":            c.Test.Seed,
		"max_steps":       c.Test.MaxSteps,
		"simplifications": c.Test.Simplifications,
		"use_few_shot":    c.Prompt.UseFewShot,
		"history_length":  c.Prompt.HistoryLength,
		"memory_enabled":  c.Memory.Enabled,
		"memory_mode":     c.Memory.Mode,
	}
	if c.Memory.Enabled && c.Memory.Mode != ModeBaseline {
		params["embedding_model"] = c.Memory.EmbeddingModel
		params["top_k"] = c.Memory.TopK
		params["similarity_threshold"] = c.Memory.SimilarityThreshold
		if c.MaTTS.Enabled {
			params["matts_enabled"] = true
			params["matts_sample_n"] = c.MaTTS.SampleN
			params["matts_temperature"] = c.MaTTS.Temperature
			params["matts_enable_thinking"] = c.MaTTS.EnableThinking
		}
	}
	// encoding/json sorts map keys, which keeps the hash stable.
	data, _ := json.Marshal(params)
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])[:8]

	model := c.LLM.Model
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	taskStr := "all"
	if len(c.Test.TaskIDs) > 0 {
		taskStr = fmt.Sprintf("t%d", len(c.Test.TaskIDs))
	}
	suffix := ""
	if c.Memory.Enabled {
		switch c.Memory.Mode {
		case ModeBaseline:
			suffix = "_membase"
		case ModeRetrieveOnly:
			suffix = "_memret"
		case ModeRetrieveAndExtract:
			suffix = "_memretex"
		}
		if c.MaTTS.Enabled {
			suffix += "_matts"
		}
	}
	return fmt.Sprintf("%s_%s_%s%s_%s", model, c.Test.Split, taskStr, suffix, hash)
}

func sortedOrNil(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
