package ai

import (
	"strings"
	"time"

	"jukeboxd/pkg/config"
)

// ProviderDescriptor is the static description of one gateway provider.
type ProviderDescriptor struct {
	Name          ProviderType
	CredentialKey string
	Priority      int
	Model         string
	Endpoint      string
	Timeout       time.Duration
	HasCredential bool
}

// Descriptors builds one descriptor per supported provider from cfg.
// The result is in SupportedProviders order; callers sort by priority.
func Descriptors(cfg config.Config) []ProviderDescriptor {
	p := cfg.Gateway.Providers
	settings := map[ProviderType]config.ProviderSettings{
		ProviderAnthropic:  p.Anthropic,
		ProviderOpenAI:     p.OpenAI,
		ProviderGoogle:     p.Google,
		ProviderGroq:       p.Groq,
		ProviderOpenRouter: p.OpenRouter.ProviderSettings,
	}
	keys := map[ProviderType]string{
		ProviderAnthropic:  config.EnvAnthropicKey,
		ProviderOpenAI:     config.EnvOpenAIKey,
		ProviderGoogle:     config.EnvGeminiKey,
		ProviderGroq:       config.EnvGroqKey,
		ProviderOpenRouter: config.EnvOpenRouterKey,
	}

	descriptors := make([]ProviderDescriptor, 0, len(settings))
	for _, pt := range SupportedProviders() {
		s := settings[pt]
		descriptors = append(descriptors, ProviderDescriptor{
			Name:          pt,
			CredentialKey: keys[pt],
			Priority:      s.Priority,
			Model:         s.Model,
			Endpoint:      s.APIURL,
			Timeout:       time.Duration(s.APITimeoutSeconds) * time.Second,
			HasCredential: strings.TrimSpace(s.APIKey) != "",
		})
	}
	return descriptors
}

