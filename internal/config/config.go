// Package config assembles gateway configuration from command-line flags
// and environment variables, mirroring the fields original_source's
// config.c reads into gateway_cfg_t. File-based config loading is out of
// scope per spec.md's non-goals, so there is no config-file parser here.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Provider identifies the default upstream when a request doesn't name a
// model explicitly.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Config holds every gateway setting, flat like gateway_cfg_t.
type Config struct {
	Bind string
	Port int

	ConfigPath string

	Daemon  bool
	Verbose bool

	DefaultProvider Provider
	AnthropicModel  string
	OpenAIModel     string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	SessionDBPath string

	BearerToken string

	WorkspaceDir string

	TLSCertPath string
	TLSKeyPath  string

	MaxToolRounds int
}

const (
	defaultBind           = "127.0.0.1"
	defaultPort           = 18789
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultOpenAIModel    = "gpt-4o"
	defaultSystemPrompt   = "You are a helpful assistant."
	defaultMaxTokens      = 1024
	defaultTemperature    = 0.7
	defaultSessionDBPath  = "openclaw-sessions.db"
	defaultMaxToolRounds  = 1
)

// Parse builds a Config from args (normally os.Args[1:]) layered over
// environment variables, with flags taking precedence. Unset API keys are
// read from the provider's own standard environment variable
// (ANTHROPIC_API_KEY / OPENAI_API_KEY) so secrets never need to be passed
// on the command line and match the names every other client of these
// APIs already expects.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("openclaw-gatewayd", flag.ContinueOnError)

	cfg := &Config{}

	fs.StringVar(&cfg.Bind, "bind", envOr("OPENCLAW_BIND", defaultBind), "address to bind")
	fs.IntVar(&cfg.Port, "port", envOrInt("OPENCLAW_PORT", defaultPort), "port to listen on")
	fs.StringVar(&cfg.ConfigPath, "config", "", "config file path; stored in Config, not read by this binary")
	fs.BoolVar(&cfg.Daemon, "daemon", false, "daemon mode flag; parsed but changes nothing (no fork, same logging)")
	fs.BoolVar(&cfg.Verbose, "verbose", envOrBool("OPENCLAW_VERBOSE", false), "enable debug logging")

	var defaultProvider string
	fs.StringVar(&defaultProvider, "default-provider", envOr("OPENCLAW_DEFAULT_PROVIDER", string(ProviderAnthropic)), "default upstream provider: anthropic or openai")

	fs.StringVar(&cfg.AnthropicModel, "anthropic-model", envOr("OPENCLAW_ANTHROPIC_MODEL", defaultAnthropicModel), "default Anthropic model")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", envOr("OPENCLAW_OPENAI_MODEL", defaultOpenAIModel), "default OpenAI model")

	fs.StringVar(&cfg.SystemPrompt, "system-prompt", envOr("OPENCLAW_SYSTEM_PROMPT", defaultSystemPrompt), "default system prompt")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", envOrInt("OPENCLAW_MAX_TOKENS", defaultMaxTokens), "default max_tokens for upstream requests")
	fs.Float64Var(&cfg.Temperature, "temperature", envOrFloat("OPENCLAW_TEMPERATURE", defaultTemperature), "default sampling temperature")

	fs.StringVar(&cfg.SessionDBPath, "session-db", envOr("OPENCLAW_SESSION_DB", defaultSessionDBPath), "path to the SQLite session database")
	fs.StringVar(&cfg.BearerToken, "bearer-token", os.Getenv("OPENCLAW_BEARER_TOKEN"), "required bearer token; empty disables auth")
	fs.StringVar(&cfg.WorkspaceDir, "workspace-dir", envOr("OPENCLAW_WORKSPACE_DIR", "."), "workspace directory for file/bash tools")

	fs.StringVar(&cfg.TLSCertPath, "tls-cert", os.Getenv("OPENCLAW_TLS_CERT"), "TLS certificate path; empty serves plaintext")
	fs.StringVar(&cfg.TLSKeyPath, "tls-key", os.Getenv("OPENCLAW_TLS_KEY"), "TLS key path")

	fs.IntVar(&cfg.MaxToolRounds, "max-tool-rounds", envOrInt("OPENCLAW_MAX_TOOL_ROUNDS", defaultMaxToolRounds), "bounded number of tool-use continuation rounds per chat turn")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.DefaultProvider = Provider(defaultProvider)
	if cfg.DefaultProvider != ProviderAnthropic && cfg.DefaultProvider != ProviderOpenAI {
		return nil, fmt.Errorf("config: unknown default-provider %q", defaultProvider)
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")

	return cfg, nil
}

// ResolveAPIKey returns the configured key for provider, or "" if unset —
// handleChatCompletions maps that to a 500 per handler_chat.c's
// "No API key configured" branch; the webchat handler reports it as a 502
// like any other failed upstream call.
func (c *Config) ResolveAPIKey(p Provider) string {
	if p == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// ModelFor returns the configured default model for provider.
func (c *Config) ModelFor(p Provider) string {
	if p == ProviderAnthropic {
		return c.AnthropicModel
	}
	return c.OpenAIModel
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
