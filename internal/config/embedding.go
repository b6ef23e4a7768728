package config

import (
	"fmt"
	"os"
)

// EmbeddingConfig describes the embedding provider used for exercise vectors.
type EmbeddingConfig struct {
	Name       string `mapstructure:"name"`
	Provider   string `mapstructure:"provider"` // jina or openai-compatible
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	APIKeyEnv  string `mapstructure:"api_key_env"`
	BaseURL    string `mapstructure:"base_url"`
	BaseURLEnv string `mapstructure:"base_url_env"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ResolveEnvVars fills APIKey and BaseURL from the referenced environment
// variables when they are not set directly.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKey == "" && c.APIKeyEnv != "" {
		c.APIKey = os.Getenv(c.APIKeyEnv)
	}
	if c.BaseURL == "" && c.BaseURLEnv != "" {
		c.BaseURL = os.Getenv(c.BaseURLEnv)
	}
}

// Validate reports the first missing or invalid field.
func (c *EmbeddingConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("embedding %q: model is required", c.Name)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Name)
	}
	switch c.Provider {
	case "jina":
	case "openai-compatible":
		if c.BaseURL == "" {
			return fmt.Errorf("embedding %q: base_url is required for openai-compatible", c.Name)
		}
	default:
		return fmt.Errorf("embedding %q: unknown provider %q", c.Name, c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("embedding %q: api_key is required (set directly or via %s)", c.Name, c.APIKeyEnv)
	}
	return nil
}
