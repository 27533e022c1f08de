package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider 返回固定响应，并记录最后一次请求
type stubProvider struct {
	resp *ChatResponse
	err  error
	last *ChatRequest
}

func (p *stubProvider) Completion(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.last = req
	return p.resp, p.err
}

func (p *stubProvider) HealthCheck(context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (p *stubProvider) Name() string                        { return "stub" }
func (p *stubProvider) SupportsNativeFunctionCalling() bool { return false }

func TestFirstChoice(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		_, err := FirstChoice(nil)
		var le *Error
		require.ErrorAs(t, err, &le)
		assert.Equal(t, ErrEmptyResponse, le.Code)
		assert.True(t, le.Retryable)
	})

	t.Run("no choices", func(t *testing.T) {
		_, err := FirstChoice(&ChatResponse{Provider: "stub"})
		var le *Error
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "stub", le.Provider)
		assert.Contains(t, le.Message, "stub")
	})

	t.Run("returns first", func(t *testing.T) {
		choice, err := FirstChoice(&ChatResponse{Choices: []ChatChoice{
			{Index: 0, Message: Message{Content: "a"}},
			{Index: 1, Message: Message{Content: "b"}},
		}})
		require.NoError(t, err)
		assert.Equal(t, "a", choice.Message.Content)
	})
}

func TestAsk(t *testing.T) {
	p := &stubProvider{resp: &ChatResponse{Choices: []ChatChoice{{Message: Message{Content: "Pred: OptionC"}}}}}
	req := TextRequest("m", "sys", "question", 0.2, 64)

	out, err := Ask(context.Background(), p, req)
	require.NoError(t, err)
	assert.Equal(t, "Pred: OptionC", out)
	assert.Same(t, req, p.last)
}

func TestAsk_Errors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Ask(context.Background(), &stubProvider{err: boom}, TextRequest("m", "", "q", 0, 0))
	assert.ErrorIs(t, err, boom)

	_, err = Ask(context.Background(), &stubProvider{resp: &ChatResponse{}}, TextRequest("m", "", "q", 0, 0))
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(err))
}

func TestTextRequest(t *testing.T) {
	req := TextRequest("gpt", "be brief", "hello", 0.5, 100)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, RoleUser, req.Messages[1].Role)
	assert.Equal(t, "hello", req.Messages[1].Content)
	assert.Equal(t, "gpt", req.Model)
	assert.Equal(t, float32(0.5), req.Temperature)
	assert.Equal(t, 100, req.MaxTokens)

	// 空 system 不产生消息
	req = TextRequest("gpt", "", "hello", 0, 0)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
}
