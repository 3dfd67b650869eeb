// Package provider implements the completion primitive: one prompt in,
// one text response out. Two transports are supported, the Anthropic
// messages API and any OpenAI-compatible chat endpoint (which is how a
// local Ollama daemon is reached). Retry policy lives in the Retrying
// wrapper so transports stay single-shot.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/errors"
)

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the completed text plus usage metadata.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// TotalTokens returns combined input and output token usage.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Client is the completion primitive every provider implements.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// Options configure a provider transport.
type Options struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// New builds a client for the given provider id.
func New(providerID string, opts Options) (Client, error) {
	switch providerID {
	case "anthropic":
		return NewAnthropic(opts)
	case "ollama", "openai":
		return NewOpenAI(opts)
	default:
		return nil, errors.Newf(errors.ErrCodeProviderConfig, "unknown provider %q", providerID)
	}
}

// classifyStatus maps an HTTP status to a stable provider error code.
// Anything not listed stays uncoded and falls through to message-based
// classification.
func classifyStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return errors.ErrCodeProviderTransient
	case http.StatusBadRequest, http.StatusUnauthorized,
		http.StatusForbidden, http.StatusNotFound,
		http.StatusUnprocessableEntity:
		return errors.ErrCodeProviderPermanent
	}
	return ""
}
