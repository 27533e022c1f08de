package llm

import (
	"context"
	"fmt"
)

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, &Error{Code: ErrEmptyResponse, Message: "nil ChatResponse", Retryable: true}
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, &Error{
			Code:      ErrEmptyResponse,
			Message:   fmt.Sprintf("empty choices in ChatResponse from %s", resp.Provider),
			Retryable: true,
			Provider:  resp.Provider,
		}
	}
	return resp.Choices[0], nil
}

// Ask 发送 system + user 两条消息的纯文本请求，返回首个 choice 的正文。
// persona 选择、答案重写和工具内部的单次调用都走这里。
func Ask(ctx context.Context, p Provider, req *ChatRequest) (string, error) {
	resp, err := p.Completion(ctx, req)
	if err != nil {
		return "", err
	}
	choice, err := FirstChoice(resp)
	if err != nil {
		return "", err
	}
	return choice.Message.Content, nil
}

// TextRequest 构造 system + user 的请求。
func TextRequest(model, system, user string, temperature float32, maxTokens int) *ChatRequest {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	return &ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}
