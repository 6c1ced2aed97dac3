package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
)

type stubCompleter struct {
	responses []string
	errors    []error
	calls     int
}

func (s *stubCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errors) && s.errors[i] != nil {
		return "", s.errors[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", ErrEmptyResponse
}

func TestComplete_StripsMarkdownFence(t *testing.T) {
	stub := &stubCompleter{responses: []string{"```json\n{\"decision\":\"BUY\",\"confidence\":0.8,\"reasoning\":\"ok\"}\n```"}}
	adapter := NewAdapter(stub, ProviderOpenAI, config.LLMConfig{MaxRetries: 0})

	resp, err := adapter.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, DecisionBuy, resp.Decision)
	assert.InDelta(t, 0.8, resp.Confidence, 1e-9)
}

func TestComplete_RejectsInvalidDecision(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"decision":"MAYBE","confidence":0.5,"reasoning":"bad"}`,
		`{"decision":"MAYBE","confidence":0.5,"reasoning":"bad"}`,
		`{"decision":"MAYBE","confidence":0.5,"reasoning":"bad"}`,
		`{"decision":"MAYBE","confidence":0.5,"reasoning":"bad"}`,
	}}
	adapter := NewAdapter(stub, ProviderOpenAI, config.LLMConfig{MaxRetries: 0})

	_, err := adapter.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestComplete_RejectsOutOfRangeConfidence(t *testing.T) {
	stub := &stubCompleter{responses: []string{`{"decision":"SELL","confidence":1.5,"reasoning":"bad"}`}}
	adapter := NewAdapter(stub, ProviderOpenAI, config.LLMConfig{MaxRetries: 0})

	_, err := adapter.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestComplete_SucceedsOnRetryAfterTransportError(t *testing.T) {
	stub := &stubCompleter{
		errors:    []error{assertError{}, nil},
		responses: []string{"", `{"decision":"HOLD","confidence":0.2,"reasoning":"retry ok"}`},
	}
	adapter := NewAdapter(stub, ProviderOpenAI, config.LLMConfig{MaxRetries: 1})

	resp, err := adapter.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, DecisionHold, resp.Decision)
	assert.Equal(t, 2, stub.calls)
}

type assertError struct{}

func (assertError) Error() string { return "transport error" }

type fixedLimiter struct {
	allow bool
	err   error
}

func (f fixedLimiter) Allow(ctx context.Context) (bool, error) { return f.allow, f.err }

func TestComplete_RejectsWhenRateLimiterRefuses(t *testing.T) {
	stub := &stubCompleter{responses: []string{`{"decision":"BUY","confidence":0.7,"reasoning":"ok"}`}}
	adapter := NewAdapter(stub, ProviderOpenAI, config.LLMConfig{MaxRetries: 0})
	adapter.SetRateLimiter(fixedLimiter{allow: false})

	_, err := adapter.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 0, stub.calls)
}

func TestComplete_FailsOpenWhenRateLimiterErrors(t *testing.T) {
	stub := &stubCompleter{responses: []string{`{"decision":"BUY","confidence":0.7,"reasoning":"ok"}`}}
	adapter := NewAdapter(stub, ProviderOpenAI, config.LLMConfig{MaxRetries: 0})
	adapter.SetRateLimiter(fixedLimiter{allow: false, err: assertError{}})

	resp, err := adapter.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, DecisionBuy, resp.Decision)
}

func TestMockAdapter_ReturnsCannedResponse(t *testing.T) {
	mock := &MockAdapter{Canned: &Response{Decision: DecisionSell, Confidence: 0.9, Reasoning: "canned"}}
	adapter := NewAdapter(mock, ProviderOpenAI, config.LLMConfig{MaxRetries: 0})

	resp, err := adapter.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, DecisionSell, resp.Decision)
}
