package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig  `json:"server" yaml:"server"`
	Gateway   GatewayConfig `json:"gateway" yaml:"gateway"`
	Sync      SyncConfig    `json:"sync" yaml:"sync"`
	Records   RecordsConfig `json:"records" yaml:"records"`
	LogLevel  string        `json:"log_level" yaml:"log_level"`
	LogFile   string        `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogFormat string        `json:"log_format,omitempty" yaml:"log_format,omitempty"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr                string `json:"addr" yaml:"addr"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// GatewayConfig holds the AI gateway defaults and per-provider settings
type GatewayConfig struct {
	SystemPrompt string          `json:"system_prompt" yaml:"system_prompt"`
	MaxTokens    int             `json:"max_tokens" yaml:"max_tokens"`
	Providers    ProvidersConfig `json:"providers" yaml:"providers"`
}

// ProvidersConfig holds one entry per supported provider
type ProvidersConfig struct {
	Anthropic  ProviderSettings `json:"anthropic" yaml:"anthropic"`
	OpenAI     ProviderSettings `json:"openai" yaml:"openai"`
	Google     ProviderSettings `json:"google" yaml:"google"`
	Groq       ProviderSettings `json:"groq" yaml:"groq"`
	OpenRouter OpenRouterConfig `json:"openrouter" yaml:"openrouter"`
}

// ProviderSettings is the common configuration shared by every provider
type ProviderSettings struct {
	APIKey            string  `json:"api_key" yaml:"api_key"`
	APIURL            string  `json:"api_url" yaml:"api_url"`
	Model             string  `json:"model" yaml:"model"`
	Priority          int     `json:"priority" yaml:"priority"` // lower is tried first
	Temperature       float64 `json:"temperature" yaml:"temperature"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	APITimeoutSeconds int     `json:"api_timeout_seconds" yaml:"api_timeout_seconds"`
}

// OpenRouterConfig adds the attribution headers OpenRouter accepts
type OpenRouterConfig struct {
	ProviderSettings `yaml:",inline"`
	HTTPReferer      string `json:"http_referer,omitempty" yaml:"http_referer,omitempty"`
	XTitle           string `json:"x_title,omitempty" yaml:"x_title,omitempty"`
}

// SyncConfig holds the repository synchronizer settings
type SyncConfig struct {
	Backend         string `json:"backend" yaml:"backend"` // "github" or "local"
	Owner           string `json:"owner" yaml:"owner"`
	Repo            string `json:"repo" yaml:"repo"`
	Token           string `json:"token,omitempty" yaml:"token,omitempty"`
	APIURL          string `json:"api_url" yaml:"api_url"`
	LocalPath       string `json:"local_path,omitempty" yaml:"local_path,omitempty"`
	DefaultBranch   string `json:"default_branch" yaml:"default_branch"`
	ChangeDetection string `json:"change_detection" yaml:"change_detection"` // "blob" or "legacy"
	BlobConcurrency int    `json:"blob_concurrency" yaml:"blob_concurrency"`
	AuthorName      string `json:"author_name" yaml:"author_name"`
	AuthorEmail     string `json:"author_email" yaml:"author_email"`
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// RecordsConfig selects where notifications and sync history are written
type RecordsConfig struct {
	Kind              string `json:"kind" yaml:"kind"` // "supabase", "file" or "none"
	SupabaseURL       string `json:"supabase_url,omitempty" yaml:"supabase_url,omitempty"`
	SupabaseKey       string `json:"supabase_key,omitempty" yaml:"supabase_key,omitempty"`
	NotificationTable string `json:"notification_table" yaml:"notification_table"`
	HistoryTable      string `json:"history_table" yaml:"history_table"`
	FilePath          string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

const (
	SyncBackendGitHub = "github"
	SyncBackendLocal  = "local"

	ChangeDetectionBlob   = "blob"
	ChangeDetectionLegacy = "legacy"

	RecordsSupabase = "supabase"
	RecordsFile     = "file"
	RecordsNone     = "none"
)

// Default returns a configuration with default values
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 120,
		},
		Gateway: GatewayConfig{
			SystemPrompt: "You are a helpful assistant for a jukebox kiosk.",
			MaxTokens:    1024,
			Providers: ProvidersConfig{
				Anthropic: ProviderSettings{
					APIURL:            "https://api.anthropic.com/v1",
					Model:             "claude-3-5-sonnet-20241022",
					Priority:          1,
					Temperature:       0.7,
					APITimeoutSeconds: 30,
				},
				OpenAI: ProviderSettings{
					APIURL:            "https://api.openai.com/v1",
					Model:             "gpt-4o-mini",
					Priority:          2,
					Temperature:       0.7,
					APITimeoutSeconds: 30,
				},
				Google: ProviderSettings{
					Model:             "gemini-2.0-flash",
					Priority:          3,
					Temperature:       0.7,
					APITimeoutSeconds: 30,
				},
				Groq: ProviderSettings{
					APIURL:            "https://api.groq.com/openai/v1",
					Model:             "llama-3.3-70b-versatile",
					Priority:          4,
					Temperature:       0.7,
					APITimeoutSeconds: 30,
				},
				OpenRouter: OpenRouterConfig{
					ProviderSettings: ProviderSettings{
						APIURL:            "https://openrouter.ai/api/v1",
						Model:             "google/gemini-2.0-flash-001",
						Priority:          5,
						Temperature:       0.7,
						APITimeoutSeconds: 30,
					},
				},
			},
		},
		Sync: SyncConfig{
			Backend:         SyncBackendGitHub,
			APIURL:          "https://api.github.com",
			DefaultBranch:   "main",
			ChangeDetection: ChangeDetectionBlob,
			BlobConcurrency: 8,
			AuthorName:      "jukebox-sync[bot]",
			AuthorEmail:     "jukebox-sync@users.noreply.github.com",
			TimeoutSeconds:  30,
		},
		Records: RecordsConfig{
			Kind:              RecordsNone,
			NotificationTable: "notifications",
			HistoryTable:      "sync_history",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load loads configuration from the specified path.
// A missing JSON config is created with default values. YAML files are read only.
func Load(configPath string) (Config, error) {
	isYAML := isYAMLPath(configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) && !isYAML {
			cfg := Default()
			if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
				return Config{}, fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := Save(configPath, cfg); err != nil {
				return Config{}, fmt.Errorf("failed to create default config: %w", err)
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	// Decode over defaults so fields absent from older files keep sane values.
	cfg := Default()
	if isYAML {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save saves the configuration to the specified path
func Save(configPath string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeoutSeconds <= 0 || c.Server.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Gateway.MaxTokens <= 0 {
		return fmt.Errorf("gateway.max_tokens must be positive, got: %d", c.Gateway.MaxTokens)
	}

	for name, p := range c.Gateway.Providers.All() {
		if p.Temperature < 0 || p.Temperature > 2 {
			return fmt.Errorf("%s temperature must be between 0 and 2, got: %f", name, p.Temperature)
		}
		if p.APITimeoutSeconds <= 0 {
			return fmt.Errorf("%s api_timeout_seconds must be positive, got: %d", name, p.APITimeoutSeconds)
		}
	}

	switch c.Sync.Backend {
	case SyncBackendGitHub:
	case SyncBackendLocal:
		if strings.TrimSpace(c.Sync.LocalPath) == "" {
			return fmt.Errorf("sync.local_path is required for the local backend")
		}
	default:
		return fmt.Errorf("unsupported sync backend: %s", c.Sync.Backend)
	}
	switch c.Sync.ChangeDetection {
	case ChangeDetectionBlob, ChangeDetectionLegacy:
	default:
		return fmt.Errorf("unsupported change_detection: %s", c.Sync.ChangeDetection)
	}
	if c.Sync.BlobConcurrency <= 0 {
		return fmt.Errorf("sync.blob_concurrency must be positive, got: %d", c.Sync.BlobConcurrency)
	}

	switch c.Records.Kind {
	case RecordsNone:
	case RecordsFile:
		if strings.TrimSpace(c.Records.FilePath) == "" {
			return fmt.Errorf("records.file_path is required for the file store")
		}
	case RecordsSupabase:
		if strings.TrimSpace(c.Records.SupabaseURL) == "" {
			return fmt.Errorf("records.supabase_url is required for the supabase store")
		}
	default:
		return fmt.Errorf("unsupported records kind: %s", c.Records.Kind)
	}

	return nil
}

// All returns the provider settings keyed by provider name.
func (p ProvidersConfig) All() map[string]ProviderSettings {
	return map[string]ProviderSettings{
		"anthropic":  p.Anthropic,
		"openai":     p.OpenAI,
		"google":     p.Google,
		"groq":       p.Groq,
		"openrouter": p.OpenRouter.ProviderSettings,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".jukeboxd/config.json"
	}
	return filepath.Join(homeDir, ".jukeboxd", "config.json")
}
