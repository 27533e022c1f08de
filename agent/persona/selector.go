package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/egoqa/agent/prompts"
	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/llm/retry"
	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
)

const visionSystemPrompt = "You are a helpful expert in first person view video analysis."

// ImageSource 提供随 persona 请求发送的视频帧。
type ImageSource interface {
	Images(videoID string, frameNum int) ([]llm.ImageContent, error)
}

// Config Selector 配置
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// Attempts 整次调用的最大尝试次数
	Attempts   int
	RetryDelay time.Duration
	// WithFrames 为 true 且设置了 ImageSource 时附带 FrameCount 帧
	WithFrames bool
	FrameCount int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Temperature: 0.7,
		MaxTokens:   3000,
		Attempts:    5,
		RetryDelay:  3 * time.Second,
		WithFrames:  true,
		FrameCount:  18,
	}
}

// Selector 专家面板选择器
type Selector struct {
	provider llm.Provider
	images   ImageSource
	cfg      Config
	logger   *zap.Logger
}

// NewSelector 创建选择器，images 可以为 nil。
func NewSelector(provider llm.Provider, images ImageSource, cfg Config, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Selector{
		provider: provider,
		images:   images,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "persona_selector")),
	}
}

// errIncompletePanel 响应无法组成面板，触发整次重试。
var errIncompletePanel = errors.New("incomplete expert panel")

// Select 为作业生成专家面板。
func (s *Selector) Select(ctx context.Context, job types.Job) (*types.ExpertPanel, error) {
	req := s.buildRequest(job)

	policy := retry.FixedDelayPolicy(s.cfg.Attempts, s.cfg.RetryDelay)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("expert selection failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	retryer := retry.NewBackoffRetryer(policy, s.logger)

	panel, err := retry.Value(ctx, retryer, func() (*types.ExpertPanel, error) {
		text, err := llm.Ask(ctx, s.provider, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		panel, ok := ParsePanel(text)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errIncompletePanel, truncate(text, 200))
		}
		return panel, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrCodePanelUnavailable, "expert selection exhausted").
			WithCause(errors.Join(types.ErrPanelUnavailable, err))
	}

	s.logger.Info("expert panel selected",
		zap.String("job_id", job.ID),
		zap.Strings("experts", panelNames(panel)))
	return panel, nil
}

// buildRequest 帧读取失败时退化为纯文本请求。
func (s *Selector) buildRequest(job types.Job) *llm.ChatRequest {
	req := llm.TextRequest(s.cfg.Model, visionSystemPrompt, prompts.ExpertSelection(job), s.cfg.Temperature, s.cfg.MaxTokens)
	if !s.cfg.WithFrames || s.images == nil {
		return req
	}
	images, err := s.images.Images(job.ID, s.cfg.FrameCount)
	if err != nil {
		s.logger.Warn("frames unavailable, selecting experts from text only",
			zap.String("job_id", job.ID), zap.Error(err))
		return req
	}
	if len(images) > 0 {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Images: images})
	}
	return req
}

var digits = regexp.MustCompile(`\d+`)

// ParseExpertInfo 从响应中第一个 '{' 到最后一个 '}' 之间解析专家信息。
// 只保留 ExpertName<n> 及其对应的 ExpertName<n>Prompt，值去除首尾空白并把 '"' 换成 '\''。
func ParseExpertInfo(text string) map[string]string {
	out := map[string]string{}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return out
	}
	for key, value := range raw {
		if !strings.Contains(key, "ExpertName") || strings.Contains(key, "Prompt") {
			continue
		}
		num := digits.FindString(key)
		if num == "" {
			continue
		}
		name, _ := value.(string)
		prompt, _ := raw["ExpertName"+num+"Prompt"].(string)
		out["ExpertName"+num] = clean(name)
		out["ExpertName"+num+"Prompt"] = clean(prompt)
	}
	return out
}

// ParsePanel 解析并补全面板：生成的专家按编号排序取前两位，再追加 Text Analysis Expert。
func ParsePanel(text string) (*types.ExpertPanel, bool) {
	info := ParseExpertInfo(text)

	type numbered struct {
		n int
		p types.Persona
	}
	var generated []numbered
	for key, name := range info {
		if strings.HasSuffix(key, "Prompt") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, "ExpertName"))
		if err != nil {
			continue
		}
		prompt := info[key+"Prompt"]
		if name == "" || prompt == "" {
			continue
		}
		generated = append(generated, numbered{n: n, p: types.Persona{Name: name, Prompt: prompt}})
	}
	sort.Slice(generated, func(i, j int) bool { return generated[i].n < generated[j].n })

	if len(generated) < 2 {
		return nil, false
	}
	return &types.ExpertPanel{Experts: []types.Persona{
		generated[0].p,
		generated[1].p,
		prompts.TextAnalysisExpert,
	}}, true
}

func clean(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `"`, "'")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func panelNames(p *types.ExpertPanel) []string {
	names := make([]string, len(p.Experts))
	for i, e := range p.Experts {
		names[i] = e.Name
	}
	return names
}
