package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	DefaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTimeout         = 60 * time.Second
	DefaultMaxOutputTokens = 1024
)

// Invoker performs one call against the inference service.
type Invoker interface {
	Invoke(ctx context.Context, credential, model, prompt string) (string, error)
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxOutputTokens int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         DefaultTimeout,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	config Config
}

func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = DefaultMaxOutputTokens
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{config: config}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Invoke sends prompt to model using credential and returns the concatenated
// text of the first candidate. An empty candidate list yields "" and no error;
// the caller decides what an empty reply means.
//
// The underlying fasthttp agent has no context support, so ctx is only
// checked before the call; the configured timeout bounds the call itself.
func (c *Client) Invoke(ctx context.Context, credential, model, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.config.BaseURL, model)

	agent := fiber.Post(url)
	agent.Set("x-goog-api-key", credential)
	agent.Timeout(c.config.Timeout)
	agent.JSON(generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: c.config.MaxOutputTokens},
	})

	if err := agent.Parse(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrTransport, errors.Join(errs...))
	}

	if code < 200 || code >= 300 {
		return "", newStatusError(code, body)
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
