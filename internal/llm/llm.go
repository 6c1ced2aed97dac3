// Package llm implements the provider-agnostic LLM adapter (component J):
// a text-in, structured-object-out call with retry/backoff, Markdown
// code-fence stripping, and response schema validation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/logging"
)

// Provider identifies the upstream chat-completion API to call.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderAnthropic Provider = "anthropic"
)

// Decision is the allowed set of structured decisions the LLM may return.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

var allowedDecisions = map[Decision]bool{DecisionBuy: true, DecisionSell: true, DecisionHold: true}

// Response is the validated structured object the adapter returns.
type Response struct {
	Decision      Decision `json:"decision"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	SuggestedSL   *float64 `json:"suggested_stop_loss,omitempty"`
	SuggestedTP   *float64 `json:"suggested_take_profit,omitempty"`
	SuggestedSize *float64 `json:"suggested_position_size,omitempty"`
}

// ErrEmptyResponse, ErrMalformedJSON and ErrSchemaViolation are the three
// failure modes the spec calls out for the adapter; all three are wrapped
// into Error at the call boundary.
var (
	ErrEmptyResponse   = errors.New("llm: empty response text")
	ErrMalformedJSON   = errors.New("llm: response is not valid JSON")
	ErrSchemaViolation = errors.New("llm: response violates the decision schema")
)

// Error wraps any adapter failure after retries are exhausted, the form
// the orchestrator checks for to degrade a tick to HOLD.
type Error struct {
	Provider Provider
	Err      error
}

func (e *Error) Error() string { return fmt.Sprintf("llm[%s]: %v", e.Provider, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Completer is the minimal surface a provider transport exposes: a single
// system+user prompt round trip returning raw text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// RateLimiter caps how many completions may run in the current window.
// It is decoupled from any specific backing store so the agent can wire
// a Redis-backed counter in production and tests can stub it with a
// fixed answer.
type RateLimiter interface {
	Allow(ctx context.Context) (bool, error)
}

// ErrRateLimited is returned (wrapped in Error) when a RateLimiter
// refuses a completion.
var ErrRateLimited = errors.New("llm: rate limit exceeded for the current window")

// Adapter retries a Completer with exponential backoff and validates its
// JSON output against the Response schema.
type Adapter struct {
	completer  Completer
	provider   Provider
	maxRetries int
	limiter    RateLimiter
	logger     *logging.Logger
}

// NewAdapter wires an Adapter around any Completer (the HTTP-backed
// ProviderClient in production, MockAdapter's completer in tests).
func NewAdapter(completer Completer, provider Provider, cfg config.LLMConfig) *Adapter {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 2
	}
	return &Adapter{
		completer:  completer,
		provider:   provider,
		maxRetries: maxRetries,
		logger:     logging.WithComponent("llm"),
	}
}

// SetRateLimiter attaches limiter; a limiter error or a nil limiter both
// fail open (the call proceeds) so a cache outage degrades to unlimited
// calls rather than blocking every tick's signal synthesis.
func (a *Adapter) SetRateLimiter(limiter RateLimiter) {
	a.limiter = limiter
}

// Complete runs the prompt through the completer and validates the result,
// retrying up to maxRetries times after the first attempt with exponential
// backoff (2^n seconds); maxRetries 0 means a single attempt.
func (a *Adapter) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	if a.limiter != nil {
		allowed, err := a.limiter.Allow(ctx)
		if err != nil {
			a.logger.WithError(err).Warn("rate limiter unavailable, allowing call")
		} else if !allowed {
			return nil, &Error{Provider: a.provider, Err: ErrRateLimited}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return nil, &Error{Provider: a.provider, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		text, err := a.completer.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			lastErr = err
			a.logger.WithError(err).Warn("llm completion attempt failed", "attempt", attempt+1)
			continue
		}

		resp, err := parseAndValidate(text)
		if err != nil {
			lastErr = err
			a.logger.WithError(err).Warn("llm response failed validation", "attempt", attempt+1)
			continue
		}
		return resp, nil
	}
	return nil, &Error{Provider: a.provider, Err: lastErr}
}

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownFence removes a single leading/trailing Markdown code
// fence, tolerating the ```json and bare ``` forms LLM providers use.
func stripMarkdownFence(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return text
}

func parseAndValidate(text string) (*Response, error) {
	text = stripMarkdownFence(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if !allowedDecisions[resp.Decision] {
		return nil, fmt.Errorf("%w: decision %q not in {BUY,SELL,HOLD}", ErrSchemaViolation, resp.Decision)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 || math.IsNaN(resp.Confidence) {
		return nil, fmt.Errorf("%w: confidence %v out of [0,1]", ErrSchemaViolation, resp.Confidence)
	}
	return &resp, nil
}

// MockAdapter is an in-memory Completer double for dry-run mode and tests:
// it returns a canned Response without making a network call.
type MockAdapter struct {
	Canned *Response
	Err    error
}

func (m *MockAdapter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Canned == nil {
		m.Canned = &Response{Decision: DecisionHold, Confidence: 0, Reasoning: "mock adapter: no canned response configured"}
	}
	body, _ := json.Marshal(m.Canned)
	return string(body), nil
}

var _ Completer = (*MockAdapter)(nil)
