// Package gateway tries chat requests across a priority-ordered list of LLM
// providers, falling through to the next provider on any failure.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"jukeboxd/pkg/ai"
	"jukeboxd/pkg/config"
)

const (
	ActionChat   = "chat"
	ActionStatus = "status"

	defaultProviderTimeout = 60 * time.Second
)

var (
	// ErrInvalidRequest marks a malformed chat request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAllProvidersFailed is reported when every candidate was skipped or failed.
	ErrAllProvidersFailed = errors.New("All AI providers failed or are unconfigured")
)

// providerAliases maps user-facing names onto registered provider types.
var providerAliases = map[string]ai.ProviderType{
	"gemini": ai.ProviderGoogle,
	"claude": ai.ProviderAnthropic,
}

// Request is the body accepted by the gateway endpoint.
type Request struct {
	Action            string       `json:"action,omitempty"`
	Prompt            string       `json:"prompt,omitempty"`
	Messages          []ai.Message `json:"messages,omitempty"`
	SystemPrompt      string       `json:"systemPrompt,omitempty"`
	MaxTokens         int          `json:"maxTokens,omitempty"`
	Temperature       *float64     `json:"temperature,omitempty"`
	PreferredProvider string       `json:"preferredProvider,omitempty"`
	Model             string       `json:"model,omitempty"`
}

// Normalize returns the conversation for req. A prompt becomes a single user
// message; messages win when both are present. Every message needs a known
// role and at least one must come from the user or the assistant.
func (r Request) Normalize() ([]ai.Message, error) {
	if len(r.Messages) == 0 {
		if r.Prompt == "" {
			return nil, fmt.Errorf("%w: prompt or messages is required", ErrInvalidRequest)
		}
		return []ai.Message{{Role: "user", Content: r.Prompt}}, nil
	}

	out := make([]ai.Message, len(r.Messages))
	conversational := false
	for i, m := range r.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "user", "assistant":
			conversational = true
		case "system", "developer":
		default:
			return nil, fmt.Errorf("%w: messages[%d].role %q is not one of user, assistant, system, developer", ErrInvalidRequest, i, m.Role)
		}
		out[i] = ai.Message{Role: role, Content: m.Content}
	}
	if !conversational {
		return nil, fmt.Errorf("%w: messages need at least one user or assistant message", ErrInvalidRequest)
	}
	return out, nil
}

// Result is the outcome of a chat call.
type Result struct {
	Success        bool      `json:"success"`
	Content        string    `json:"content,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	Error          string    `json:"error,omitempty"`
	TriedProviders []string  `json:"triedProviders"`
	Attempts       []Attempt `json:"-"`
}

// Attempt records one provider call.
type Attempt struct {
	Provider     ai.ProviderType
	Success      bool
	Error        string
	NeedsCredits bool
	Duration     time.Duration
}

// ProviderStatus is one entry of the status report.
type ProviderStatus struct {
	Name          string `json:"name"`
	Available     bool   `json:"available"`
	Priority      int    `json:"priority"`
	Model         string `json:"model,omitempty"`
	CredentialKey string `json:"credentialKey,omitempty"`
}

// Options tune a Gateway.
type Options struct {
	SystemPrompt   string
	MaxTokens      int
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Gateway holds the immutable provider list built at startup.
type Gateway struct {
	descriptors    []ai.ProviderDescriptor
	providers      map[ai.ProviderType]ai.Provider
	systemPrompt   string
	maxTokens      int
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewGateway creates a gateway over descriptors. Providers are looked up by
// descriptor name; a credentialed descriptor with no provider fails when tried.
func NewGateway(descriptors []ai.ProviderDescriptor, providers map[ai.ProviderType]ai.Provider, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	descs := make([]ai.ProviderDescriptor, len(descriptors))
	copy(descs, descriptors)
	sortByPriority(descs)

	byName := make(map[ai.ProviderType]ai.Provider, len(providers))
	for name, p := range providers {
		byName[name] = p
	}

	return &Gateway{
		descriptors:    descs,
		providers:      byName,
		systemPrompt:   opts.SystemPrompt,
		maxTokens:      opts.MaxTokens,
		defaultTimeout: timeout,
		logger:         logger,
	}
}

// New builds a gateway from cfg, instantiating a provider through registry
// for every descriptor that has a credential.
func New(cfg config.Config, registry *ai.Registry, logger *slog.Logger) *Gateway {
	if registry == nil {
		registry = ai.DefaultRegistry
	}
	if logger == nil {
		logger = slog.Default()
	}

	descriptors := ai.Descriptors(cfg)
	providers := make(map[ai.ProviderType]ai.Provider, len(descriptors))
	for _, d := range descriptors {
		if !d.HasCredential {
			continue
		}
		p, err := registry.GetProvider(ai.ProviderConfig{Type: d.Name, Config: cfg})
		if err != nil {
			logger.Warn("gateway_provider_init_failed", "provider", d.Name, "error", err)
			p = unavailableProvider{err: err}
		}
		providers[d.Name] = p
	}

	return NewGateway(descriptors, providers, Options{
		SystemPrompt: cfg.Gateway.SystemPrompt,
		MaxTokens:    cfg.Gateway.MaxTokens,
		Logger:       logger,
	})
}

// ResolveProvider maps a provider name or alias onto a known provider type.
func ResolveProvider(name string) (ai.ProviderType, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", false
	}
	if pt, ok := providerAliases[key]; ok {
		return pt, true
	}
	return ai.ValidateProviderType(key)
}

// Order sorts descriptors ascending by priority and moves the preferred
// provider, when known, to the front. The input is not modified.
func Order(descriptors []ai.ProviderDescriptor, preferred string) []ai.ProviderDescriptor {
	ordered := make([]ai.ProviderDescriptor, len(descriptors))
	copy(ordered, descriptors)
	sortByPriority(ordered)

	pt, ok := ResolveProvider(preferred)
	if !ok {
		return ordered
	}
	for i, d := range ordered {
		if d.Name != pt {
			continue
		}
		if i > 0 {
			copy(ordered[1:i+1], ordered[:i])
			ordered[0] = d
		}
		break
	}
	return ordered
}

func sortByPriority(descs []ai.ProviderDescriptor) {
	sort.SliceStable(descs, func(i, j int) bool {
		return descs[i].Priority < descs[j].Priority
	})
}

// Chat tries providers one at a time until one succeeds. Every failure,
// soft or hard, moves on to the next provider. The returned error is only
// set for invalid requests.
func (g *Gateway) Chat(ctx context.Context, req Request) (Result, error) {
	messages, err := req.Normalize()
	if err != nil {
		return Result{}, err
	}

	chatReq := ai.ChatRequest{
		Messages:    g.withSystemPrompt(messages, req.SystemPrompt),
		Temperature: req.Temperature,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		chatReq.MaxTokens = &maxTokens
	}

	order := Order(g.descriptors, req.PreferredProvider)
	result := Result{TriedProviders: make([]string, 0, len(order))}

	// A requested model names a model of the preferred provider only; the
	// fallbacks keep their configured models.
	model := strings.TrimSpace(req.Model)
	preferred, hasPreferred := ResolveProvider(req.PreferredProvider)

	for _, d := range order {
		if !d.HasCredential {
			g.logger.Debug("gateway_provider_skipped", "provider", d.Name, "reason", "no_credential")
			continue
		}
		result.TriedProviders = append(result.TriedProviders, string(d.Name))

		callReq := chatReq
		if model != "" && hasPreferred && d.Name == preferred {
			callReq.Model = model
		}
		resp, attempt := g.call(ctx, d, callReq)
		result.Attempts = append(result.Attempts, attempt)
		if !attempt.Success {
			continue
		}

		g.logger.Info("gateway_provider_succeeded",
			"provider", d.Name,
			"tried", len(result.TriedProviders),
			"duration_ms", attempt.Duration.Milliseconds(),
		)
		result.Success = true
		result.Content = resp.Content
		result.Provider = string(d.Name)
		result.Model = resp.Model
		return result, nil
	}

	g.logger.Warn("gateway_all_providers_failed", "tried_providers", result.TriedProviders)
	result.Error = ErrAllProvidersFailed.Error()
	return result, nil
}

func (g *Gateway) call(ctx context.Context, d ai.ProviderDescriptor, req ai.ChatRequest) (ai.ChatResponse, Attempt) {
	attempt := Attempt{Provider: d.Name}
	start := time.Now()

	provider, ok := g.providers[d.Name]
	if !ok || provider == nil {
		attempt.Error = fmt.Sprintf("%s: provider not initialized", d.Name)
		attempt.Duration = time.Since(start)
		g.logger.Warn("gateway_provider_failed", "provider", d.Name, "error", attempt.Error)
		return ai.ChatResponse{}, attempt
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := provider.CreateChatCompletion(callCtx, req)
	attempt.Duration = time.Since(start)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = &ai.APIError{Provider: string(d.Name), Message: "empty completion"}
	}
	if err != nil {
		attempt.Error = err.Error()
		attempt.NeedsCredits = ai.IsCreditsError(err)
		g.logger.Warn("gateway_provider_failed",
			"provider", d.Name,
			"needs_credits", attempt.NeedsCredits,
			"status", ai.StatusCode(err),
			"duration_ms", attempt.Duration.Milliseconds(),
			"error", err,
		)
		return ai.ChatResponse{}, attempt
	}

	attempt.Success = true
	return resp, attempt
}

func (g *Gateway) withSystemPrompt(messages []ai.Message, override string) []ai.Message {
	prompt := strings.TrimSpace(override)
	if prompt == "" {
		prompt = strings.TrimSpace(g.systemPrompt)
	}
	if prompt == "" {
		return messages
	}
	if len(messages) > 0 && strings.EqualFold(messages[0].Role, "system") {
		return messages
	}
	out := make([]ai.Message, 0, len(messages)+1)
	out = append(out, ai.Message{Role: "system", Content: prompt})
	return append(out, messages...)
}

// Status reports credential presence for every provider in priority order.
// It makes no network calls.
func (g *Gateway) Status() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(g.descriptors))
	for _, d := range g.descriptors {
		statuses = append(statuses, ProviderStatus{
			Name:          string(d.Name),
			Available:     d.HasCredential,
			Priority:      d.Priority,
			Model:         d.Model,
			CredentialKey: d.CredentialKey,
		})
	}
	return statuses
}

type unavailableProvider struct {
	err error
}

func (p unavailableProvider) CreateChatCompletion(context.Context, ai.ChatRequest) (ai.ChatResponse, error) {
	return ai.ChatResponse{}, p.err
}
