package deliberation

import (
	"context"
	"fmt"

	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/llm/tools"
	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
)

// Participant 审议参与者
type Participant struct {
	Name         string
	SystemPrompt string
	// Tools 能力目录中的工具名
	Tools []string
}

// Speaker 让参与者基于当前记录发言，返回最终文本。
type Speaker interface {
	Speak(ctx context.Context, job types.Job, p Participant, transcript []Turn) (string, error)
}

// SpeakerConfig AgentSpeaker 配置
type SpeakerConfig struct {
	Model         string
	Temperature   float32
	MaxTokens     int
	MaxIterations int
}

// AgentSpeaker 为每次发言按作业绑定工具并运行 ReAct 循环。
type AgentSpeaker struct {
	provider llm.Provider
	catalog  *tools.Catalog
	cfg      SpeakerConfig
	logger   *zap.Logger
}

// NewAgentSpeaker 创建发言者，catalog 为 nil 时参与者不带工具。
func NewAgentSpeaker(provider llm.Provider, catalog *tools.Catalog, cfg SpeakerConfig, logger *zap.Logger) *AgentSpeaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentSpeaker{
		provider: provider,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "agent_speaker")),
	}
}

// Speak 实现 Speaker
func (s *AgentSpeaker) Speak(ctx context.Context, job types.Job, p Participant, transcript []Turn) (string, error) {
	registry := tools.NewDefaultRegistry(s.logger)
	if s.catalog != nil && len(p.Tools) > 0 {
		var err error
		registry, err = s.catalog.Resolve(job, p.Tools)
		if err != nil {
			return "", fmt.Errorf("%s tools: %w", p.Name, err)
		}
	}

	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("participant", p.Name))
	executor := tools.NewReActExecutor(s.provider, tools.NewDefaultExecutor(registry, logger), tools.ReActConfig{
		MaxIterations:    s.cfg.MaxIterations,
		ForceFinalAnswer: true,
	}, logger)

	msgs := make([]llm.Message, 0, len(transcript)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: p.SystemPrompt})
	msgs = append(msgs, transcriptMessages(transcript)...)

	resp, steps, err := executor.Execute(ctx, &llm.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    msgs,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Tools:       registry.List(),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Name, err)
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Name, err)
	}

	logger.Debug("participant spoke", zap.Int("react_steps", len(steps)), zap.Int("tool_calls", tools.ToolCallCount(steps)))
	return choice.Message.Content, nil
}

// transcriptMessages 将记录转换为带发言者名称的 user 消息。
func transcriptMessages(transcript []Turn) []llm.Message {
	out := make([]llm.Message, len(transcript))
	for i, t := range transcript {
		out[i] = llm.Message{Role: llm.RoleUser, Name: t.Speaker, Content: t.Content}
	}
	return out
}
