// Package config provides configuration loading and management for fraudcrew.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AgentTypeLLM agents talk to the shared LLM client.
	AgentTypeLLM = "llm"
	// AgentTypeExec agents are backed by an external agent CLI.
	AgentTypeExec = "exec"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultModel       = "gemini/gemini-2.5-flash-preview-04-17"
	DefaultOpenAIModel = "openai/gpt-4.1-mini"
	DefaultTemperature = 0.7
	DefaultSampleSize  = 50000

	envPrefix = "FRAUDCREW"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultsYAML returns the embedded default configuration document.
func DefaultsYAML() []byte {
	return bytes.Clone(defaultsYAML)
}

// Config is the root configuration.
type Config struct {
	LLM       LLMConfig              `json:"llm"       mapstructure:"llm"       yaml:"llm"`
	Agents    map[string]AgentConfig `json:"agents"    mapstructure:"agents"    yaml:"agents"`
	Tasks     map[string]TaskConfig  `json:"tasks"     mapstructure:"tasks"     yaml:"tasks"`
	Data      DataConfig             `json:"data"      mapstructure:"data"      yaml:"data"`
	Sampling  SamplingConfig         `json:"sampling"  mapstructure:"sampling"  yaml:"sampling"`
	Retention RetentionPolicy        `json:"retention" mapstructure:"retention" yaml:"retention"`
}

// LLMConfig describes the single LLM client shared by every agent.
type LLMConfig struct {
	Provider    string        `json:"provider"              mapstructure:"provider"    yaml:"provider"`
	Model       string        `json:"model,omitempty"       mapstructure:"model"       yaml:"model,omitempty"`
	Temperature float64       `json:"temperature"           mapstructure:"temperature" yaml:"temperature"`
	BaseURL     string        `json:"base_url,omitempty"    mapstructure:"base_url"    yaml:"base_url,omitempty"`
	APIKeyEnv   string        `json:"api_key_env,omitempty" mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"     mapstructure:"timeout"     yaml:"timeout,omitempty"`
}

// AgentConfig holds the behavioral prompt of one crew role.
type AgentConfig struct {
	Role      string   `json:"role"              mapstructure:"role"      yaml:"role"`
	Goal      string   `json:"goal"              mapstructure:"goal"      yaml:"goal"`
	Backstory string   `json:"backstory"         mapstructure:"backstory" yaml:"backstory"`
	Type      string   `json:"type,omitempty"    mapstructure:"type"      yaml:"type,omitempty"`
	Cmd       []string `json:"cmd,omitempty"     mapstructure:"cmd"       yaml:"cmd,omitempty"`
	UseTTY    *bool    `json:"use_tty,omitempty" mapstructure:"use_tty"   yaml:"use_tty,omitempty"`
}

// TaskConfig holds the templates of one crew task.
type TaskConfig struct {
	Description    string `json:"description"           mapstructure:"description"     yaml:"description"`
	ExpectedOutput string `json:"expected_output"       mapstructure:"expected_output" yaml:"expected_output"`
	Agent          string `json:"agent"                 mapstructure:"agent"           yaml:"agent"`
	OutputFile     string `json:"output_file,omitempty" mapstructure:"output_file"     yaml:"output_file,omitempty"`
}

// DataConfig holds dataset and output locations relative to the project root.
type DataConfig struct {
	Dataset     string `json:"dataset"      mapstructure:"dataset"      yaml:"dataset"`
	FeaturesDir string `json:"features_dir" mapstructure:"features_dir" yaml:"features_dir"`
	ModelsDir   string `json:"models_dir"   mapstructure:"models_dir"   yaml:"models_dir"`
	ReportsDir  string `json:"reports_dir"  mapstructure:"reports_dir"  yaml:"reports_dir"`
}

// SamplingConfig toggles development runs on a dataset prefix.
type SamplingConfig struct {
	UseSample  bool `json:"use_sample"  mapstructure:"use_sample"  yaml:"use_sample"`
	SampleSize int  `json:"sample_size" mapstructure:"sample_size" yaml:"sample_size"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last" yaml:"keep_last,omitempty"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days" yaml:"keep_days,omitempty"`
}

// Load reads the embedded defaults, merges the optional file at path over them,
// applies FRAUDCREW_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return Config{}, fmt.Errorf("read default config: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	}

	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}

	// Environment values are strings; they are applied after schema validation
	// and coerced by the weakly typed decoder.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderGemini
	}
	if c.Sampling.SampleSize <= 0 {
		c.Sampling.SampleSize = DefaultSampleSize
	}
	for name, agentCfg := range c.Agents {
		if agentCfg.Type == "" {
			agentCfg.Type = AgentTypeLLM
			c.Agents[name] = agentCfg
		}
	}
}
