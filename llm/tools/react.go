package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/egoqa/llm"
	"go.uber.org/zap"
)

// ErrToolFailed 在 StopOnError 开启且某个工具返回错误时返回。
var ErrToolFailed = errors.New("tool call failed")

// ReActConfig 工具循环配置
type ReActConfig struct {
	// MaxIterations 模型调用轮数上限，0 取 10
	MaxIterations int
	// StopOnError 任一工具失败即终止
	StopOnError bool
	// ForceFinalAnswer 轮数用完后再以 tool_choice=none 请求一次最终文本
	ForceFinalAnswer bool
}

// ReActStep 一轮 模型输出 -> 工具调用 -> 观测 的记录
type ReActStep struct {
	StepNumber   int            `json:"step_number"`
	Thought      string         `json:"thought,omitempty"`
	Actions      []llm.ToolCall `json:"actions,omitempty"`
	Observations []ToolResult   `json:"observations,omitempty"`
	TokensUsed   int            `json:"tokens_used,omitempty"`
}

// ReActExecutor 驱动 "LLM -> 工具 -> LLM" 的多轮对话，直到模型不再请求工具。
type ReActExecutor struct {
	provider llm.Provider
	tools    ToolExecutor
	cfg      ReActConfig
	logger   *zap.Logger
}

func NewReActExecutor(provider llm.Provider, toolExecutor ToolExecutor, cfg ReActConfig, logger *zap.Logger) *ReActExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &ReActExecutor{provider: provider, tools: toolExecutor, cfg: cfg, logger: logger}
}

// Execute 运行工具循环，返回最后一次模型响应和每一轮的记录。
// 调用方的 req 不会被修改。
func (r *ReActExecutor) Execute(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, []ReActStep, error) {
	conv := append([]llm.Message(nil), req.Messages...)
	var steps []ReActStep

	for round := 1; round <= r.cfg.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return nil, steps, err
		}

		resp, choice, err := r.call(ctx, req, conv, "")
		if err != nil {
			return resp, steps, fmt.Errorf("round %d: %w", round, err)
		}
		step := ReActStep{StepNumber: round, Thought: choice.Message.Content, TokensUsed: resp.Usage.TotalTokens}

		if len(choice.Message.ToolCalls) == 0 {
			steps = append(steps, step)
			r.logger.Debug("tool loop finished", zap.Int("rounds", round), zap.String("finish_reason", choice.FinishReason))
			return resp, steps, nil
		}

		step.Actions = choice.Message.ToolCalls
		step.Observations = r.tools.Execute(ctx, step.Actions)
		steps = append(steps, step)

		if failed := r.failedTools(step.Observations); failed > 0 && r.cfg.StopOnError {
			return resp, steps, fmt.Errorf("round %d: %d %w", round, failed, ErrToolFailed)
		}

		conv = append(conv, choice.Message)
		for _, res := range step.Observations {
			conv = append(conv, res.ToMessage())
		}
	}

	if !r.cfg.ForceFinalAnswer {
		r.logger.Warn("tool loop exhausted", zap.Int("max_iterations", r.cfg.MaxIterations))
		return nil, steps, fmt.Errorf("tool loop exhausted after %d rounds", r.cfg.MaxIterations)
	}

	// 禁用工具，逼模型基于已有观测作答
	resp, choice, err := r.call(ctx, req, conv, "none")
	if err != nil {
		return resp, steps, fmt.Errorf("final answer: %w", err)
	}
	steps = append(steps, ReActStep{
		StepNumber: len(steps) + 1,
		Thought:    choice.Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	})
	return resp, steps, nil
}

func (r *ReActExecutor) call(ctx context.Context, base *llm.ChatRequest, conv []llm.Message, toolChoice string) (*llm.ChatResponse, llm.ChatChoice, error) {
	req := *base
	req.Messages = conv
	if toolChoice != "" {
		req.ToolChoice = toolChoice
	}
	resp, err := r.provider.Completion(ctx, &req)
	if err != nil {
		return nil, llm.ChatChoice{}, err
	}
	choice, err := llm.FirstChoice(resp)
	return resp, choice, err
}

func (r *ReActExecutor) failedTools(results []ToolResult) int {
	n := 0
	for _, res := range results {
		if res.Error == "" {
			continue
		}
		n++
		r.logger.Warn("tool returned error", zap.String("tool", res.Name), zap.String("error", res.Error))
	}
	return n
}

// ToolCallCount 统计所有轮次中的工具调用次数
func ToolCallCount(steps []ReActStep) int {
	n := 0
	for _, s := range steps {
		n += len(s.Actions)
	}
	return n
}
