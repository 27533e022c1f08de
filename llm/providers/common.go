package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/egoqa/llm"
)

// 错误体最多读取 64KB
const maxErrorBody = 64 << 10

// statusCodes 状态码 -> (错误码, 是否可重试)
var statusCodes = map[int]struct {
	code      llm.ErrorCode
	retryable bool
}{
	http.StatusUnauthorized:       {llm.ErrUnauthorized, false},
	http.StatusForbidden:          {llm.ErrForbidden, false},
	http.StatusTooManyRequests:    {llm.ErrRateLimited, true},
	http.StatusRequestTimeout:     {llm.ErrUpstreamTimeout, true},
	http.StatusGatewayTimeout:     {llm.ErrUpstreamTimeout, true},
	http.StatusBadGateway:         {llm.ErrUpstreamError, true},
	http.StatusServiceUnavailable: {llm.ErrUpstreamError, true},
	529:                           {llm.ErrModelOverloaded, true},
}

// ErrorFromStatus 把非 2xx 响应转成 llm.Error。
// 400 里带 quota / credit 字样的按额度用尽处理。
func ErrorFromStatus(status int, msg, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	if m, ok := statusCodes[status]; ok {
		e.Code, e.Retryable = m.code, m.retryable
		return e
	}
	if status == http.StatusBadRequest {
		lower := strings.ToLower(msg)
		e.Code = llm.ErrInvalidRequest
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		}
		return e
	}
	e.Code = llm.ErrUpstreamError
	e.Retryable = status >= 500
	return e
}

// ReadAPIError 提取错误体中的 error.message，解析不了就返回原文
func ReadAPIError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "unreadable error body"
	}
	var we WireError
	if json.Unmarshal(data, &we) != nil || we.Error.Message == "" {
		return string(data)
	}
	if we.Error.Type == "" {
		return we.Error.Message
	}
	return fmt.Sprintf("%s (type: %s)", we.Error.Message, we.Error.Type)
}

// ---- chat completions 线上格式 ----

// WireMessage 请求中的消息。Content 为 string，带图片时为 []WirePart。
type WireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type WirePart struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *WireImage `json:"image_url,omitempty"`
}

type WireImage struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type WireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function WireFunction `json:"function"`
}

// WireFunction 参数是 JSON 编码后的字符串
type WireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type WireTool struct {
	Type     string          `json:"type"`
	Function WireFunctionDef `json:"function"`
}

type WireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// WireRequest temperature 用指针，0 也要发出去
type WireRequest struct {
	Model       string        `json:"model"`
	Messages    []WireMessage `json:"messages"`
	Tools       []WireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type WireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Created int64        `json:"created,omitempty"`
	Choices []WireChoice `json:"choices"`
	Usage   *WireUsage   `json:"usage,omitempty"`
}

type WireChoice struct {
	Index        int       `json:"index"`
	FinishReason string    `json:"finish_reason"`
	Message      WireReply `json:"message"`
}

// WireReply content 可能为 null
type WireReply struct {
	Role      string         `json:"role"`
	Content   *string        `json:"content"`
	ToolCalls []WireToolCall `json:"tool_calls,omitempty"`
}

type WireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type WireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ---- 编码 ----

// EncodeMessages 转换消息。带图片的消息拆成 text + image_url 分片；
// 只有工具调用的 assistant 消息不带 content。
func EncodeMessages(msgs []llm.Message) []WireMessage {
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = WireMessage{
			Role:       string(m.Role),
			Name:       sanitizeName(m.Name),
			ToolCallID: m.ToolCallID,
			ToolCalls:  encodeToolCalls(m.ToolCalls),
		}
		switch {
		case len(m.Images) > 0:
			out[i].Content = encodeParts(m)
		case m.Content != "" || len(m.ToolCalls) == 0:
			out[i].Content = m.Content
		}
	}
	return out
}

func encodeParts(m llm.Message) []WirePart {
	parts := make([]WirePart, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, WirePart{Type: "text", Text: m.Content})
	}
	for _, img := range m.Images {
		parts = append(parts, WirePart{Type: "image_url", ImageURL: &WireImage{URL: img.URL, Detail: img.Detail}})
	}
	return parts
}

func encodeToolCalls(calls []llm.ToolCall) []WireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]WireToolCall, len(calls))
	for i, c := range calls {
		out[i] = WireToolCall{ID: c.ID, Type: "function", Function: WireFunction{Name: c.Name, Arguments: string(c.Arguments)}}
	}
	return out
}

// sanitizeName name 字段只接受 [A-Za-z0-9_-]
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}

// EncodeTools 没有参数 schema 的工具补一个空 object
func EncodeTools(schemas []llm.ToolSchema) []WireTool {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]WireTool, len(schemas))
	for i, s := range schemas {
		params := s.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = WireTool{Type: "function", Function: WireFunctionDef{Name: s.Name, Description: s.Description, Parameters: params}}
	}
	return out
}

// EncodeToolChoice auto / none / required 原样发送，其它值是要强制调用的函数名
func EncodeToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	}
	return map[string]any{"type": "function", "function": map[string]string{"name": choice}}
}

// ---- 解码 ----

// DecodeResponse 空参数字符串统一成 "{}"
func DecodeResponse(wr WireResponse, provider string) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:       wr.ID,
		Provider: provider,
		Model:    wr.Model,
		Choices:  make([]llm.ChatChoice, len(wr.Choices)),
	}
	for i, c := range wr.Choices {
		msg := llm.Message{Role: llm.RoleAssistant}
		if c.Message.Content != nil {
			msg.Content = *c.Message.Content
		}
		for _, tc := range c.Message.ToolCalls {
			args := tc.Function.Arguments
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args)})
		}
		resp.Choices[i] = llm.ChatChoice{Index: c.Index, FinishReason: c.FinishReason, Message: msg}
	}
	if u := wr.Usage; u != nil {
		resp.Usage = llm.ChatUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return resp
}

// PickModel 请求 > 默认 > 兜底
func PickModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	switch {
	case req != nil && req.Model != "":
		return req.Model
	case defaultModel != "":
		return defaultModel
	}
	return fallbackModel
}
