package config

import (
	"os"
	"strings"
)

// Credential environment variables. Secrets are normally supplied this way
// rather than written to the config file.
const (
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvGeminiKey     = "GEMINI_API_KEY"
	EnvGoogleKey     = "GOOGLE_API_KEY"
	EnvGroqKey       = "GROQ_API_KEY"
	EnvOpenRouterKey = "OPENROUTER_API_KEY"
	EnvGitHubToken   = "GITHUB_TOKEN"
	EnvGitHubRepo    = "GITHUB_REPOSITORY"
	EnvSupabaseURL   = "SUPABASE_URL"
	EnvSupabaseKey   = "SUPABASE_SERVICE_ROLE_KEY"
	EnvListenAddr    = "JUKEBOXD_ADDR"
	EnvLogLevel      = "JUKEBOXD_LOG_LEVEL"
	EnvRecordsKind   = "JUKEBOXD_RECORDS"
	EnvSyncLocalPath = "JUKEBOXD_SYNC_LOCAL_PATH"
	EnvSyncBackend   = "JUKEBOXD_SYNC_BACKEND"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnvironment overlays the process environment onto cfg.
func FromEnvironment(cfg Config) Config {
	return ApplyEnv(cfg, os.LookupEnv)
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg Config, lookup LookupFunc) Config {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}

	providers := &cfg.Gateway.Providers
	set(&providers.Anthropic.APIKey, EnvAnthropicKey)
	set(&providers.OpenAI.APIKey, EnvOpenAIKey)
	set(&providers.Google.APIKey, EnvGeminiKey, EnvGoogleKey)
	set(&providers.Groq.APIKey, EnvGroqKey)
	set(&providers.OpenRouter.APIKey, EnvOpenRouterKey)

	set(&cfg.Sync.Token, EnvGitHubToken)
	var repository string
	set(&repository, EnvGitHubRepo)
	if owner, repo, ok := strings.Cut(repository, "/"); ok && owner != "" && repo != "" {
		cfg.Sync.Owner = owner
		cfg.Sync.Repo = repo
	}
	set(&cfg.Sync.Backend, EnvSyncBackend)
	set(&cfg.Sync.LocalPath, EnvSyncLocalPath)

	set(&cfg.Records.SupabaseURL, EnvSupabaseURL)
	set(&cfg.Records.SupabaseKey, EnvSupabaseKey)
	set(&cfg.Records.Kind, EnvRecordsKind)

	set(&cfg.Server.Addr, EnvListenAddr)
	set(&cfg.LogLevel, EnvLogLevel)
	return cfg
}
