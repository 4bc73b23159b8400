package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

var (
	// ErrMissingCredential is returned when no API key is configured.
	ErrMissingCredential = errors.New("missing API key")
	// ErrModelProvider is returned when the model names another provider.
	ErrModelProvider = errors.New("model does not match provider")
)

var geminiKeyEnvs = []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}

const (
	modelEnv         = "MODEL"
	openAIKeyEnv     = "OPENAI_API_KEY"
	dotEnvFilename   = ".env"
	maskedKeyVisible = 6
)

// Credentials are the resolved secrets and model for the shared LLM client.
type Credentials struct {
	APIKey string
	KeyEnv string
	Model  string
}

// Masked returns the key with everything but a short prefix hidden.
func (c Credentials) Masked() string {
	if len(c.APIKey) <= maskedKeyVisible {
		return strings.Repeat("*", len(c.APIKey))
	}
	return c.APIKey[:maskedKeyVisible] + "..."
}

// LoadDotEnv loads <projectRoot>/.env into the process environment.
// Variables already set in the environment are not overridden; a missing file is ignored.
func LoadDotEnv(projectRoot string) error {
	path := filepath.Join(projectRoot, dotEnvFilename)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadCredentials resolves the API key and model for cfg using getenv.
// The first non-empty key variable wins; no fallback key is ever invented.
func LoadCredentials(cfg LLMConfig, getenv func(string) string) (Credentials, error) {
	envs := keyEnvs(cfg)
	for _, name := range envs {
		if key := strings.TrimSpace(getenv(name)); key != "" {
			model, err := resolveModel(cfg, getenv)
			if err != nil {
				return Credentials{}, err
			}
			return Credentials{
				APIKey: key,
				KeyEnv: name,
				Model:  model,
			}, nil
		}
	}
	return Credentials{}, fmt.Errorf("%w: set one of %s", ErrMissingCredential, strings.Join(envs, ", "))
}

func keyEnvs(cfg LLMConfig) []string {
	custom := strings.TrimSpace(cfg.APIKeyEnv)
	switch cfg.Provider {
	case ProviderOpenAI:
		if custom != "" {
			return []string{custom}
		}
		return []string{openAIKeyEnv}
	default:
		if custom != "" {
			return append([]string{custom}, geminiKeyEnvs...)
		}
		return geminiKeyEnvs
	}
}

// resolveModel picks MODEL, then llm.model, then the provider default. The
// built-in Gemini default is replaced for other providers; any other model
// prefixed with a different provider is rejected.
func resolveModel(cfg LLMConfig, getenv func(string) string) (string, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderGemini
	}

	model := strings.TrimSpace(getenv(modelEnv))
	if model == "" {
		model = strings.TrimSpace(cfg.Model)
	}
	if model == "" || (model == DefaultModel && provider != ProviderGemini) {
		return defaultModelFor(provider), nil
	}
	if prefix, _, ok := strings.Cut(model, "/"); ok && knownProvider(prefix) && prefix != provider {
		return "", fmt.Errorf("%w: %q with provider %q", ErrModelProvider, model, provider)
	}
	return model, nil
}

func knownProvider(name string) bool {
	return name == ProviderGemini || name == ProviderOpenAI
}

func defaultModelFor(provider string) string {
	if provider == ProviderOpenAI {
		return DefaultOpenAIModel
	}
	return DefaultModel
}
