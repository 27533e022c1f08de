package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/egoqa/agent/deliberation"
	"github.com/BaSui01/egoqa/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// 流水线步骤名
const (
	StepSelectExperts = "select_experts"
	StepDeliberate    = "deliberate"
	StepExtractAnswer = "extract_answer"
)

// ExpertSelector 生成专家面板，由 persona.Selector 实现。
type ExpertSelector interface {
	Select(ctx context.Context, job types.Job) (*types.ExpertPanel, error)
}

// Deliberator 运行一次审议，由 deliberation.Graph 实现。
type Deliberator interface {
	Run(ctx context.Context, job types.Job, panel *types.ExpertPanel) (*deliberation.Outcome, error)
}

// AnswerResolver 从最终文本得到选项索引，由 answer.Extractor 实现。
type AnswerResolver interface {
	Resolve(ctx context.Context, job types.Job, text string) (int, error)
}

// PipelineConfig QAPipeline 配置
type PipelineConfig struct {
	// Attempts 整条链的最大执行次数
	Attempts   int
	RetryDelay time.Duration
}

// DefaultPipelineConfig 返回默认配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{Attempts: 3, RetryDelay: time.Second}
}

// solveState 在链的步骤之间传递
type solveState struct {
	job        types.Job
	panel      *types.ExpertPanel
	outcome    *deliberation.Outcome
	prediction int
}

// QAPipeline 单题求解流水线
type QAPipeline struct {
	chain  *Chain[*solveState]
	cfg    PipelineConfig
	logger *zap.Logger
}

// NewQAPipeline 组装 select_experts → deliberate → extract_answer 链。
func NewQAPipeline(selector ExpertSelector, deliberator Deliberator, resolver AnswerResolver, cfg PipelineConfig, logger *zap.Logger) *QAPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	chain := NewChain[*solveState]("qa").
		Then(StepSelectExperts, func(ctx context.Context, st *solveState) (err error) {
			st.panel, err = selector.Select(ctx, st.job)
			return err
		}).
		Then(StepDeliberate, func(ctx context.Context, st *solveState) (err error) {
			st.outcome, err = deliberator.Run(ctx, st.job, st.panel)
			return err
		}).
		Then(StepExtractAnswer, func(ctx context.Context, st *solveState) (err error) {
			st.prediction, err = resolver.Resolve(ctx, st.job, st.outcome.FinalText)
			return err
		})

	return &QAPipeline{
		chain:  chain,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "qa_pipeline")),
	}
}

// Name 返回流水线名称
func (p *QAPipeline) Name() string { return p.chain.Name() }

// Solve 求解一道题。
// 预测为 -1 或路由决策非法时整条链重跑；次数用尽返回 Prediction = -1 的结果。
func (p *QAPipeline) Solve(ctx context.Context, job types.Job) (*types.Result, error) {
	ctx, span := otel.Tracer("egoqa/workflow").Start(ctx, "pipeline.solve")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	logger := p.logger.With(zap.String("job_id", job.ID))
	hook := func(ev StepEvent) {
		switch ev.Type {
		case StepEventComplete:
			logger.Debug("step completed", zap.String("step", ev.Step), zap.Duration("duration", ev.Duration))
		case StepEventError:
			logger.Warn("step failed", zap.String("step", ev.Step), zap.Duration("duration", ev.Duration), zap.Error(ev.Err))
		}
	}

	var last *solveState
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		st := &solveState{job: job.WithAttempt(attempt), prediction: types.PredictionUnknown}
		err := p.chain.Run(ctx, st, hook)
		switch {
		case err == nil:
			last = st
		case errors.Is(err, types.ErrInvalidRoute):
			logger.Warn("deliberation produced no valid route, re-running", zap.Int("attempt", attempt), zap.Error(err))
			if st.panel != nil {
				last = st
			}
			continue
		default:
			return nil, fmt.Errorf("solve %s: %w", job.ID, err)
		}

		if st.prediction != types.PredictionUnknown {
			span.SetAttributes(attribute.Int("pipeline.attempts", attempt), attribute.Int("pipeline.prediction", st.prediction))
			return buildResult(st), nil
		}
		logger.Warn("no answer extracted, re-running pipeline", zap.Int("attempt", attempt))
	}

	logger.Warn("giving up on question", zap.Int("attempts", p.cfg.Attempts))
	span.SetAttributes(attribute.Int("pipeline.attempts", p.cfg.Attempts), attribute.Int("pipeline.prediction", types.PredictionUnknown))
	if last == nil {
		last = &solveState{job: job, prediction: types.PredictionUnknown}
	}
	last.prediction = types.PredictionUnknown
	return buildResult(last), nil
}

func buildResult(st *solveState) *types.Result {
	res := &types.Result{
		Prediction:   st.prediction,
		ExpertInfo:   map[string]string{},
		AgentPrompts: map[string]string{},
		RawResponses: map[string]string{},
	}
	if st.panel != nil {
		res.ExpertInfo = st.panel.ExpertInfo()
	}
	if st.outcome != nil {
		res.AgentPrompts = st.outcome.Prompts
		res.RawResponses = st.outcome.Responses()
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
