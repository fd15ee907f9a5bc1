package config

import "testing"

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bind != defaultBind || cfg.Port != defaultPort {
		t.Fatalf("unexpected bind/port defaults: %+v", cfg)
	}
	if cfg.DefaultProvider != ProviderAnthropic {
		t.Fatalf("expected anthropic default provider, got %s", cfg.DefaultProvider)
	}
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Parse([]string{"-port=9999", "-default-provider=openai", "-max-tokens=2048"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected overridden port, got %d", cfg.Port)
	}
	if cfg.DefaultProvider != ProviderOpenAI {
		t.Fatalf("expected openai provider, got %s", cfg.DefaultProvider)
	}
	if cfg.MaxTokens != 2048 {
		t.Fatalf("expected overridden max-tokens, got %d", cfg.MaxTokens)
	}
}

func TestParseRejectsUnknownProvider(t *testing.T) {
	_, err := Parse([]string{"-default-provider=cohere"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestModelForAndResolveAPIKey(t *testing.T) {
	cfg := &Config{
		AnthropicModel:  "claude-x",
		OpenAIModel:     "gpt-x",
		AnthropicAPIKey: "ak",
		OpenAIAPIKey:    "ok",
	}
	if cfg.ModelFor(ProviderAnthropic) != "claude-x" {
		t.Fatal("wrong anthropic model")
	}
	if cfg.ResolveAPIKey(ProviderOpenAI) != "ok" {
		t.Fatal("wrong openai key")
	}
}
