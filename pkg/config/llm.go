package config

import (
	"fmt"
	"os"
)

// LLMProviderConfig configures one LLM provider instance. Providers are
// named in the top-level llms map and referenced by role in RolesConfig.
type LLMProviderConfig struct {
	Type        string   `yaml:"type"`        // "openai", "anthropic", "gemini", "ollama"
	Model       string   `yaml:"model"`       // Model identifier
	APIKey      string   `yaml:"api_key"`     // API key, supports ${ENV} expansion
	Host        string   `yaml:"host"`        // Endpoint override
	Temperature *float64 `yaml:"temperature"` // Sampling temperature
	MaxTokens   int      `yaml:"max_tokens"`  // Response token cap
	Timeout     int      `yaml:"timeout"`     // Request timeout in seconds
	MaxRetries  int      `yaml:"max_retries"` // Retry budget for transient failures
	RetryDelay  int      `yaml:"retry_delay"` // Base backoff delay in seconds
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		case "gemini":
			c.Model = "gemini-2.0-flash"
		case "ollama":
			c.Model = "llama3.2"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
	if c.Host == "" {
		switch c.Type {
		case "openai":
			c.Host = "https://api.openai.com/v1"
		case "anthropic":
			c.Host = "https://api.anthropic.com"
		case "gemini":
			c.Host = "https://generativelanguage.googleapis.com"
		case "ollama":
			c.Host = "http://localhost:11434"
		}
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid type %q (valid: openai, anthropic, gemini, ollama)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	// Ollama runs locally and needs no key.
	if c.Type != "ollama" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Type)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// RolesConfig maps workload roles to named LLM providers. The fast role
// drives chat turns and tool calling, long_context summarizes documents,
// strategic plans reports and revisions.
type RolesConfig struct {
	Fast        string `yaml:"fast"`
	LongContext string `yaml:"long_context"`
	Strategic   string `yaml:"strategic"`
}

// SetRoleDefaults points unset roles at the single configured provider, or
// at a provider named "default" when several exist.
func (c *RolesConfig) SetRoleDefaults(llms map[string]*LLMProviderConfig) {
	fallback := ""
	if len(llms) == 1 {
		for name := range llms {
			fallback = name
		}
	} else if _, ok := llms["default"]; ok {
		fallback = "default"
	}
	if c.Fast == "" {
		c.Fast = fallback
	}
	if c.LongContext == "" {
		c.LongContext = fallback
	}
	if c.Strategic == "" {
		c.Strategic = fallback
	}
}

func (c *RolesConfig) Validate(llms map[string]*LLMProviderConfig) error {
	for role, name := range map[string]string{
		"fast":         c.Fast,
		"long_context": c.LongContext,
		"strategic":    c.Strategic,
	} {
		if name == "" {
			return fmt.Errorf("role %q is not assigned to any llm", role)
		}
		if _, ok := llms[name]; !ok {
			return fmt.Errorf("role %q references unknown llm %q", role, name)
		}
	}
	return nil
}

// GetProviderAPIKey returns the conventional environment API key for a
// provider type.
func GetProviderAPIKey(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}
