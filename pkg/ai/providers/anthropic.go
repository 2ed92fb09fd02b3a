package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jukeboxd/pkg/ai"
)

const (
	anthropicDefaultAPIURL  = "https://api.anthropic.com/v1"
	anthropicDefaultModel   = "claude-3-5-sonnet-20241022"
	anthropicDefaultTimeout = 60
	anthropicAPIVersion     = "2023-06-01"
)

func init() {
	ai.RegisterProvider(ai.ProviderAnthropic, NewAnthropicProvider)
}

// AnthropicProvider implements the Provider interface using the Anthropic API.
type AnthropicProvider struct {
	apiKey             string
	apiURL             string
	httpClient         *http.Client
	defaultModel       string
	defaultTemperature float64
	defaultMaxTokens   int
}

// NewAnthropicProvider creates a new Anthropic provider from config.
func NewAnthropicProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	providerCfg := cfg.Config.Gateway.Providers.Anthropic

	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		slog.Debug("anthropic_provider_missing_key")
		return nil, fmt.Errorf("anthropic api_key is required")
	}

	apiURL := strings.TrimRight(providerCfg.APIURL, "/")
	if apiURL == "" {
		apiURL = anthropicDefaultAPIURL
	}

	model := providerCfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	timeout := providerCfg.APITimeoutSeconds
	if timeout <= 0 {
		timeout = anthropicDefaultTimeout
	}

	return &AnthropicProvider{
		apiKey:             apiKey,
		apiURL:             apiURL,
		httpClient:         &http.Client{Timeout: time.Duration(timeout) * time.Second},
		defaultModel:       model,
		defaultTemperature: providerCfg.Temperature,
		defaultMaxTokens:   providerCfg.MaxTokens,
	}, nil
}

// anthropicRequest is the request body for Anthropic's messages API.
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the response from Anthropic's messages API.
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateChatCompletion sends a non-streaming chat completion request.
func (p *AnthropicProvider) CreateChatCompletion(ctx context.Context, req ai.ChatRequest) (ai.ChatResponse, error) {
	anthropicReq, err := p.buildRequest(req)
	if err != nil {
		return ai.ChatResponse{}, err
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return ai.ChatResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return ai.ChatResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ai.ChatResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.ChatResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ai.ChatResponse{}, &ai.APIError{
			Provider:   string(ai.ProviderAnthropic),
			StatusCode: resp.StatusCode,
			Message:    anthropicErrorMessage(respBody),
		}
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return ai.ChatResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return ai.ChatResponse{
		Content: content,
		Model:   anthropicResp.Model,
	}, nil
}

func (p *AnthropicProvider) buildRequest(req ai.ChatRequest) (*anthropicRequest, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	var systemPrompt string
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, msg := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "system" || role == "developer" {
			systemPrompt = msg.Content
			continue
		}

		anthropicRole := role
		if anthropicRole != "user" && anthropicRole != "assistant" {
			anthropicRole = "user"
		}

		messages = append(messages, anthropicMessage{
			Role:    anthropicRole,
			Content: msg.Content,
		})
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one user or assistant message is required")
	}

	temperature := p.defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := p.defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &anthropicRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      systemPrompt,
	}, nil
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func anthropicErrorMessage(body []byte) string {
	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// Ensure interface compliance
var _ ai.Provider = (*AnthropicProvider)(nil)
