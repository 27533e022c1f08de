package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"go.uber.org/zap"
)

// AssistantSystemPrompt 纯文本问答调用的 system 消息。
const AssistantSystemPrompt = "You are a helpful assistant."

// CaptionIndex video id -> 每秒一条的字幕，加载后只读。
type CaptionIndex struct {
	captions map[string][]string
}

// LoadCaptions 读取字幕 JSON 文件。
func LoadCaptions(path string) (*CaptionIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}
	var captions map[string][]string
	if err := json.Unmarshal(data, &captions); err != nil {
		return nil, fmt.Errorf("parse captions %s: %w", path, err)
	}
	return NewCaptionIndex(captions), nil
}

// NewCaptionIndex 由内存数据构造索引。
func NewCaptionIndex(captions map[string][]string) *CaptionIndex {
	if captions == nil {
		captions = map[string][]string{}
	}
	return &CaptionIndex{captions: captions}
}

// Lines 返回带时间戳的字幕行。
// 去掉 "#C " / "#c " 标记；时间戳取字幕序号（秒）；与上一条相同的字幕跳过。
func (ci *CaptionIndex) Lines(videoID string) []string {
	raw := ci.captions[videoID]
	lines := make([]string, 0, len(raw))
	previous := ""
	for i, caption := range raw {
		caption = strings.ReplaceAll(caption, "#C ", "")
		caption = strings.ReplaceAll(caption, "#c ", "")
		if i > 0 && caption == previous {
			continue
		}
		previous = caption
		lines = append(lines, formatTimestamp(i)+": "+caption)
	}
	return lines
}

// formatTimestamp 格式为 H:MM:SS，小时不补零。
func formatTimestamp(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := seconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// CaptionPrompt 拼接字幕与指令。
func CaptionPrompt(lines []string, instructions string) string {
	var b strings.Builder
	b.WriteString("[Image Captions]\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n[Instructions]\n")
	b.WriteString(instructions)
	return b.String()
}

// CaptionAnswererConfig 字幕问答参数。
type CaptionAnswererConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// CaptionAnswerer 基于字幕回答问题。
type CaptionAnswerer struct {
	index    *CaptionIndex
	provider llm.Provider
	cfg      CaptionAnswererConfig
	logger   *zap.Logger
}

// NewCaptionAnswerer 创建字幕问答器。
func NewCaptionAnswerer(index *CaptionIndex, provider llm.Provider, cfg CaptionAnswererConfig, logger *zap.Logger) *CaptionAnswerer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 3000
	}
	return &CaptionAnswerer{
		index:    index,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "caption_answerer")),
	}
}

// Answer 用 videoID 的字幕回答 prompt。
func (c *CaptionAnswerer) Answer(ctx context.Context, videoID, prompt string) (string, error) {
	lines := c.index.Lines(videoID)
	if len(lines) == 0 {
		c.logger.Warn("no captions for video", zap.String("video_id", videoID))
	}
	req := llm.TextRequest(c.cfg.Model, AssistantSystemPrompt, CaptionPrompt(lines, prompt), c.cfg.Temperature, c.cfg.MaxTokens)
	return llm.Ask(ctx, c.provider, req)
}
