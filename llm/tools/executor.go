package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultToolTimeout 未声明超时的工具使用该值，视觉问答单次调用可能较慢
const DefaultToolTimeout = 5 * time.Minute

// ToolFunc 工具实现，参数与结果都是 JSON
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

type ToolMetadata struct {
	Schema    llm.ToolSchema
	RateLimit *RateLimitConfig
	// Timeout 0 取 DefaultToolTimeout
	Timeout time.Duration
}

// RateLimitConfig Window 内最多 MaxCalls 次
type RateLimitConfig struct {
	MaxCalls int
	Window   time.Duration
}

// ToolResult 一次工具调用的结果，Error 非空表示失败
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

type ToolRegistry interface {
	Register(name string, fn ToolFunc, metadata ToolMetadata) error
	Unregister(name string) error
	Get(name string) (ToolFunc, ToolMetadata, error)
	List() []llm.ToolSchema
	Has(name string) bool
}

// ToolExecutor 执行模型请求的工具调用。失败写进 ToolResult.Error 而不是返回 error，
// 模型能看到错误并自行调整。
type ToolExecutor interface {
	Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult
	ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult
}

// limiter 由带限流能力的注册表实现
type limiter interface {
	allow(name string) bool
}

// ---- DefaultRegistry ----

type registryEntry struct {
	fn      ToolFunc
	meta    ToolMetadata
	limiter *rate.Limiter
}

// DefaultRegistry 并发安全的内存注册表
type DefaultRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	logger  *zap.Logger
}

func NewDefaultRegistry(logger *zap.Logger) *DefaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultRegistry{entries: make(map[string]*registryEntry), logger: logger}
}

// Register schema 名为空时取 name，不一致则拒绝
func (r *DefaultRegistry) Register(name string, fn ToolFunc, meta ToolMetadata) error {
	switch meta.Schema.Name {
	case "":
		meta.Schema.Name = name
	case name:
	default:
		return fmt.Errorf("tool %s: schema declares name %s", name, meta.Schema.Name)
	}
	if meta.Timeout <= 0 {
		meta.Timeout = DefaultToolTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.entries[name] = &registryEntry{fn: fn, meta: meta, limiter: newLimiter(meta.RateLimit)}
	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", meta.Timeout))
	return nil
}

func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.entries, name)
	return nil
}

func (r *DefaultRegistry) Get(name string) (ToolFunc, ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, ToolMetadata{}, fmt.Errorf("tool %s not found", name)
	}
	return e.fn, e.meta, nil
}

// List 按名称排序，请求体保持稳定
func (r *DefaultRegistry) List() []llm.ToolSchema {
	r.mu.RLock()
	out := make([]llm.ToolSchema, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.meta.Schema)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// setLimiter 替换工具的限流器，Catalog 用它共享跨作业的限流器
func (r *DefaultRegistry) setLimiter(name string, l *rate.Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.limiter = l
	}
}

func (r *DefaultRegistry) allow(name string) bool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	return !ok || e.limiter == nil || e.limiter.Allow()
}

func newLimiter(rl *RateLimitConfig) *rate.Limiter {
	if rl == nil || rl.MaxCalls <= 0 || rl.Window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(rl.Window/time.Duration(rl.MaxCalls)), rl.MaxCalls)
}

// ---- DefaultExecutor ----

type DefaultExecutor struct {
	registry ToolRegistry
	logger   *zap.Logger
}

func NewDefaultExecutor(registry ToolRegistry, logger *zap.Logger) *DefaultExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultExecutor{registry: registry, logger: logger}
}

// Execute 并发执行，结果顺序与 calls 一致
func (e *DefaultExecutor) Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var g errgroup.Group
	for i := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteOne(ctx, calls[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult {
	start := time.Now()
	out, err := e.invoke(ctx, call)

	res := ToolResult{ToolCallID: call.ID, Name: call.Name, Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("tool call failed",
			zap.String("name", call.Name),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return res
	}
	res.Result = out
	e.logger.Debug("tool executed", zap.String("name", call.Name), zap.Duration("duration", res.Duration))
	return res
}

// invoke 只能调用注册表中的工具；依次检查限流、参数、超时
func (e *DefaultExecutor) invoke(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		return nil, fmt.Errorf("tool not found: %w", err)
	}
	if l, ok := e.registry.(limiter); ok && !l.allow(call.Name) {
		return nil, errors.New("rate limit exceeded: no tokens available")
	}
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return nil, errors.New("invalid arguments: not valid JSON")
	}

	runCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		out json.RawMessage
		err error
	}
	// 缓冲为 1：超时返回后工具 goroutine 仍可写入并退出
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := fn(runCtx, call.Arguments)
		done <- outcome{out, err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-runCtx.Done():
		o.err = runCtx.Err()
	}
	if o.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("execution timeout after %s", meta.Timeout)
	}
	return o.out, o.err
}

// ToMessage 转成 tool 消息；JSON 字符串结果展开为纯文本
func (tr ToolResult) ToMessage() llm.Message {
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: tr.ToolCallID, Name: tr.Name}
	switch {
	case tr.Error != "":
		msg.Content = "Error: " + tr.Error
	case json.Unmarshal(tr.Result, &msg.Content) == nil:
	default:
		msg.Content = string(tr.Result)
	}
	return msg
}

// TextResult 把纯文本编码为工具结果
func TextResult(text string) json.RawMessage {
	b, _ := json.Marshal(text)
	return b
}
