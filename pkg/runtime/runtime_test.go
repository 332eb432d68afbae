package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/lorehq/lore/pkg/config"
)

// testConfig builds a config that passes the pre-connection stages of
// NewWithConfig. Provider construction never dials, so dummy keys are
// fine; the tests below stop before the Postgres pool is opened.
func testConfig() *config.Config {
	cfg := &config.Config{
		SecretKey: "test-secret",
		LLMs: map[string]*config.LLMProviderConfig{
			"default": {Type: "openai", APIKey: "sk-test"},
		},
		Embedders: map[string]*config.EmbedderProviderConfig{
			"default": {Type: "openai", APIKey: "sk-test"},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestNewWithConfigNilConfig(t *testing.T) {
	if _, err := NewWithConfig(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewWithConfigRequiresSecret(t *testing.T) {
	t.Setenv("LORE_SECRET_KEY", "")
	cfg := testConfig()
	cfg.SecretKey = ""

	_, err := NewWithConfig(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for missing secret key")
	}
	if !strings.Contains(err.Error(), "secrets") {
		t.Fatalf("error = %v, want secrets failure", err)
	}
}

func TestNewWithConfigUnknownLLMType(t *testing.T) {
	cfg := testConfig()
	cfg.LLMs["default"].Type = "mainframe"

	_, err := NewWithConfig(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unknown llm type")
	}
	if !strings.Contains(err.Error(), "llms") {
		t.Fatalf("error = %v, want llm build failure", err)
	}
}

func TestNewWithConfigUnboundRole(t *testing.T) {
	cfg := testConfig()
	cfg.Roles.Strategic = "missing"

	_, err := NewWithConfig(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unbound role")
	}
	if !strings.Contains(err.Error(), "llm roles") {
		t.Fatalf("error = %v, want role resolution failure", err)
	}
}

func TestNewWithConfigUnknownDefaultEmbedder(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultEmbedder = "missing"

	_, err := NewWithConfig(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unknown default embedder")
	}
	if !strings.Contains(err.Error(), "embedders") {
		t.Fatalf("error = %v, want embedder resolution failure", err)
	}
}
