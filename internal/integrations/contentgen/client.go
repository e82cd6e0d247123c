// Package contentgen is the client of the generative content API
package contentgen

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/drumcap/hooklabs-elite-sub003/internal/integrations"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

const (
	serviceName        = "content-generation"
	completionsPath    = "/v1/chat/completions"
	defaultTemperature = 0.7
	defaultMaxTokens   = 512
)

// Config holds the content API settings
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client generates content through a chat completions endpoint
type Client struct {
	http   *resty.Client
	model  string
	logger *logging.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewClient creates a content API client. Retries are left to the gateway,
// so the underlying resty client never retries on its own.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if config.Transport != nil {
		client.SetTransport(config.Transport)
	}
	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}

	return &Client{
		http:   client,
		model:  config.Model,
		logger: logging.GetLogger(),
	}
}

// Generate runs one completion and returns the GeneratedContent as JSON
func (c *Client) Generate(ctx context.Context, params types.ContentGenerationParams) (json.RawMessage, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := params.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	body := completionRequest{
		Model:       model,
		Messages:    buildMessages(params),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(completionsPath)
	if err := integrations.Classify(serviceName, resp, err); err != nil {
		return nil, err
	}

	var completion completionResponse
	if err := integrations.Decode(serviceName, resp.Body(), &completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.NewMalformedResponseError(serviceName, "response has no choices")
	}

	choice := completion.Choices[0]
	content := types.GeneratedContent{
		Text:         strings.TrimSpace(choice.Message.Content),
		Model:        completion.Model,
		PromptTokens: completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
	}
	if content.Model == "" {
		content.Model = model
	}

	c.logger.Debug("Content generated",
		"model", content.Model,
		"prompt_tokens", content.PromptTokens,
		"output_tokens", content.OutputTokens,
	)

	data, err := json.Marshal(content)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode generated content").WithCause(err)
	}
	return data, nil
}

func buildMessages(params types.ContentGenerationParams) []message {
	var system []string
	if params.Persona != "" {
		system = append(system, "You write as "+params.Persona+".")
	}
	if params.Tone != "" {
		system = append(system, "Use a "+params.Tone+" tone.")
	}

	messages := make([]message, 0, 2)
	if len(system) > 0 {
		messages = append(messages, message{Role: "system", Content: strings.Join(system, " ")})
	}
	return append(messages, message{Role: "user", Content: params.Prompt})
}
