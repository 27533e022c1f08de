// Package mocks 提供 llm.Provider 的测试替身。
//
// MockProvider 按调用顺序消费脚本中的回复，脚本耗尽后返回默认回复。
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/egoqa/llm"
)

// ScriptedReply 一次回复；Err 非空时 Completion 返回该错误
type ScriptedReply struct {
	Content   string
	ToolCalls []llm.ToolCall
	Err       error
}

// MockProviderCall 一次调用的请求与结果
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

type CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// MockProvider 并发安全，可同时被多个 worker 使用
type MockProvider struct {
	mu       sync.Mutex
	fallback ScriptedReply
	script   []ScriptedReply
	fn       CompletionFunc
	native   bool
	calls    []MockProviderCall
}

func NewMockProvider() *MockProvider {
	return &MockProvider{fallback: ScriptedReply{Content: "Mock response"}, native: true}
}

// NewSuccessProvider 总是返回 response
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 总是返回 err
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

func (m *MockProvider) update(f func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	f()
	return m
}

// WithResponse 设置默认回复正文
func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.update(func() { m.fallback.Content = content })
}

// WithToolCalls 默认回复附带工具调用
func (m *MockProvider) WithToolCalls(calls []llm.ToolCall) *MockProvider {
	return m.update(func() { m.fallback.ToolCalls = calls })
}

// WithError 默认回复改为返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.update(func() { m.fallback.Err = err })
}

// WithScript 追加按顺序消费的回复
func (m *MockProvider) WithScript(replies ...ScriptedReply) *MockProvider {
	return m.update(func() { m.script = append(m.script, replies...) })
}

func (m *MockProvider) WithNativeFunctionCalling(native bool) *MockProvider {
	return m.update(func() { m.native = native })
}

// WithCompletionFunc 完全接管 Completion，脚本与默认回复不再生效
func (m *MockProvider) WithCompletionFunc(fn CompletionFunc) *MockProvider {
	return m.update(func() { m.fn = fn })
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) SupportsNativeFunctionCalling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native
}

func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	fn := m.fn
	reply := m.fallback
	if fn == nil && len(m.script) > 0 {
		reply, m.script = m.script[0], m.script[1:]
	}
	m.mu.Unlock()

	var (
		resp *llm.ChatResponse
		err  error
	)
	switch {
	case fn != nil:
		// 不持锁调用，fn 内部可以再调用其它 mock
		resp, err = fn(ctx, req)
	case reply.Err != nil:
		err = reply.Err
	default:
		resp = NewTextResponse(req.Model, reply.Content, reply.ToolCalls...)
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
	m.mu.Unlock()
	return resp, err
}

// GetCalls 返回调用记录的副本
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 没有调用时返回 nil
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset 清空调用记录、脚本和注入的错误
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls, m.script = nil, nil
	m.fallback.Err = nil
}

// NewTextResponse 单 choice 响应；有工具调用时 finish_reason 为 tool_calls
func NewTextResponse(model, content string, toolCalls ...llm.ToolCall) *llm.ChatResponse {
	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: toolCalls},
		}},
		CreatedAt: time.Now(),
	}
}

// ToolCall args 序列化为 JSON，失败直接 panic
func ToolCall(id, name string, args any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("mocks.ToolCall: %v", err))
	}
	return llm.ToolCall{ID: id, Name: name, Arguments: raw}
}

// RouteCall 路由函数 route 的调用
func RouteCall(next string) llm.ToolCall {
	return ToolCall("route-"+next, "route", map[string]string{"next": next})
}
