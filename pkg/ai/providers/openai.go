package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jukeboxd/pkg/ai"
	"jukeboxd/pkg/config"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIDefaultAPIURL  = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"
	openAIDefaultTimeout = 30
)

func init() {
	ai.RegisterProvider(ai.ProviderOpenAI, NewOpenAIProvider)
}

// OpenAIProvider talks to the OpenAI chat completions API. Groq and OpenRouter
// expose the same contract and reuse it with a different base URL.
type OpenAIProvider struct {
	name               ai.ProviderType
	client             openai.Client
	defaultModel       string
	defaultTemperature float64
	defaultMaxTokens   int
}

// NewOpenAIProvider creates a new OpenAI provider from config.
func NewOpenAIProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	return newChatCompletionsProvider(ai.ProviderOpenAI, cfg.Config.Gateway.Providers.OpenAI, chatDefaults{
		apiURL:  openAIDefaultAPIURL,
		model:   openAIDefaultModel,
		timeout: openAIDefaultTimeout,
	}, nil)
}

type chatDefaults struct {
	apiURL  string
	model   string
	timeout int
}

func newChatCompletionsProvider(name ai.ProviderType, s config.ProviderSettings, defaults chatDefaults, httpClient *http.Client, extra ...option.RequestOption) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(s.APIKey)
	if apiKey == "" {
		slog.Debug("chat_provider_missing_key", "provider", name)
		return nil, fmt.Errorf("%s api_key is required", name)
	}

	apiURL := strings.TrimSpace(s.APIURL)
	if apiURL == "" {
		apiURL = defaults.apiURL
	}

	model := strings.TrimSpace(s.Model)
	if model == "" {
		model = defaults.model
	}

	timeout := s.APITimeoutSeconds
	if timeout <= 0 {
		timeout = defaults.timeout
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(apiURL),
		option.WithHTTPClient(httpClient),
		// The gateway falls through to the next provider instead of retrying.
		option.WithMaxRetries(0),
	}
	opts = append(opts, extra...)

	slog.Debug("chat_provider_ready",
		"provider", name,
		"api_url", apiURL,
		"model", model,
		"timeout_seconds", timeout,
	)
	return &OpenAIProvider{
		name:               name,
		client:             openai.NewClient(opts...),
		defaultModel:       model,
		defaultTemperature: s.Temperature,
		defaultMaxTokens:   s.MaxTokens,
	}, nil
}

// CreateChatCompletion sends a non-streaming chat completion request.
func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, req ai.ChatRequest) (ai.ChatResponse, error) {
	params, err := p.buildChatParams(req)
	if err != nil {
		return ai.ChatResponse{}, err
	}

	slog.Debug("chat_provider_request",
		"provider", p.name,
		"model", string(params.Model),
		"message_count", len(req.Messages),
	)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ai.ChatResponse{}, toProviderError(p.name, err)
	}

	if len(resp.Choices) == 0 {
		return ai.ChatResponse{}, &ai.APIError{Provider: string(p.name), Message: "response contained no choices"}
	}

	return ai.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}, nil
}

func (p *OpenAIProvider) buildChatParams(req ai.ChatRequest) (openai.ChatCompletionNewParams, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		param, err := toChatMessageParam(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, param)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	temperature := p.defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	maxTokens := p.defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	return params, nil
}

func toChatMessageParam(msg ai.Message) (openai.ChatCompletionMessageParamUnion, error) {
	role := strings.ToLower(strings.TrimSpace(msg.Role))
	switch role {
	case "system":
		return openai.SystemMessage(msg.Content), nil
	case "user":
		return openai.UserMessage(msg.Content), nil
	case "assistant":
		return openai.AssistantMessage(msg.Content), nil
	case "developer":
		return openai.DeveloperMessage(msg.Content), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role: %s", msg.Role)
	}
}

// toProviderError converts SDK errors into ai.APIError so status codes survive.
func toProviderError(name ai.ProviderType, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = err.Error()
		}
		return &ai.APIError{Provider: string(name), StatusCode: apiErr.StatusCode, Message: msg}
	}
	return err
}

// Ensure interface compliance
var _ ai.Provider = (*OpenAIProvider)(nil)
