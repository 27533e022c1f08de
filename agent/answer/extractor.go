// Package answer 从 organizer 的自由文本中抽取选项索引。
package answer

import (
	"context"
	"fmt"
	"regexp"

	"github.com/BaSui01/egoqa/agent/prompts"
	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
)

const reformatSystemPrompt = "You are a helpful assistant."

// optionPatterns[i] 匹配 "option a" 与 "optiona" 两种写法（整词，大小写不敏感）。
var optionPatterns = func() [types.OptionCount]*regexp.Regexp {
	var out [types.OptionCount]*regexp.Regexp
	for i := range out {
		l := types.OptionLabel(i)
		out[i] = regexp.MustCompile(`(?i)\boption ?` + l + `\b`)
	}
	return out
}()

// Extract 文本中恰好出现一个不同选项时返回其索引，否则返回 types.PredictionUnknown。
func Extract(text string) int {
	found := types.PredictionUnknown
	for i, re := range optionPatterns {
		if !re.MatchString(text) {
			continue
		}
		if found != types.PredictionUnknown {
			return types.PredictionUnknown
		}
		found = i
	}
	return found
}

// Config Extractor 配置
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Extractor 在直接抽取失败时请求模型重写一次答案。
type Extractor struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewExtractor 创建答案抽取器
func NewExtractor(provider llm.Provider, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "answer_extractor")),
	}
}

// Resolve 返回选项索引；重写后仍无法抽取时返回 types.PredictionUnknown 且 err 为 nil。
func (e *Extractor) Resolve(ctx context.Context, job types.Job, text string) (int, error) {
	if pred := Extract(text); pred != types.PredictionUnknown {
		return pred, nil
	}

	e.logger.Debug("no single option found, asking for reformat", zap.String("job_id", job.ID))
	req := llm.TextRequest(e.cfg.Model, reformatSystemPrompt, prompts.Reformat(text), e.cfg.Temperature, e.cfg.MaxTokens)
	reply, err := llm.Ask(ctx, e.provider, req)
	if err != nil {
		return types.PredictionUnknown, fmt.Errorf("reformat answer for %s: %w", job.ID, err)
	}

	pred := Extract(reply)
	if pred == types.PredictionUnknown {
		e.logger.Warn("answer still ambiguous after reformat",
			zap.String("job_id", job.ID),
			zap.String("reply", reply))
	}
	return pred, nil
}
