package providers

import (
	"jukeboxd/pkg/ai"
)

const (
	groqDefaultAPIURL  = "https://api.groq.com/openai/v1"
	groqDefaultModel   = "llama-3.3-70b-versatile"
	groqDefaultTimeout = 30
)

func init() {
	ai.RegisterProvider(ai.ProviderGroq, NewGroqProvider)
}

// NewGroqProvider creates a Groq provider from config.
func NewGroqProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	return newChatCompletionsProvider(ai.ProviderGroq, cfg.Config.Gateway.Providers.Groq, chatDefaults{
		apiURL:  groqDefaultAPIURL,
		model:   groqDefaultModel,
		timeout: groqDefaultTimeout,
	}, nil)
}
