package providers

import (
	"net/http"
	"strings"

	"jukeboxd/pkg/ai"
	"jukeboxd/pkg/config"

	"github.com/openai/openai-go/v3/option"
)

const (
	openRouterDefaultAPIURL  = "https://openrouter.ai/api/v1"
	openRouterDefaultModel   = "google/gemini-2.0-flash-001"
	openRouterDefaultTimeout = 30
)

func init() {
	ai.RegisterProvider(ai.ProviderOpenRouter, NewOpenRouterProvider)
}

// NewOpenRouterProvider creates an OpenRouter provider from config.
func NewOpenRouterProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	return newOpenRouterProviderWithHTTPClient(cfg.Config.Gateway.Providers.OpenRouter, nil)
}

func newOpenRouterProviderWithHTTPClient(cfg config.OpenRouterConfig, httpClient *http.Client) (*OpenAIProvider, error) {
	var extra []option.RequestOption
	if strings.TrimSpace(cfg.HTTPReferer) != "" {
		extra = append(extra, option.WithHeader("HTTP-Referer", cfg.HTTPReferer))
	}
	if strings.TrimSpace(cfg.XTitle) != "" {
		extra = append(extra, option.WithHeader("X-Title", cfg.XTitle))
	}

	return newChatCompletionsProvider(ai.ProviderOpenRouter, cfg.ProviderSettings, chatDefaults{
		apiURL:  openRouterDefaultAPIURL,
		model:   openRouterDefaultModel,
		timeout: openRouterDefaultTimeout,
	}, httpClient, extra...)
}
