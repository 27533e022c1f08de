package video

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"go.uber.org/zap"
)

// VisionSystemPrompt 视觉问答调用的 system 消息。
const VisionSystemPrompt = "You are a helpful expert in first person view video analysis."

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".tiff": true,
}

// FrameSource 从 <Dir>/<video id>/ 读取已抽好的帧。
type FrameSource struct {
	Dir    string
	Detail string // 图片 detail，默认 low
	// IntN 返回 [0, n) 的随机数，测试时可替换
	IntN func(n int) int
}

// ListFrames 返回视频目录下按文件名排序的帧路径，只保留图片扩展名。
func (s *FrameSource) ListFrames(videoID string) ([]string, error) {
	dir := filepath.Join(s.Dir, videoID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// SampleFrames 以 n/frameNum 为步长、随机起点抽取帧，最多 frameNum 帧。帧数不足 frameNum 时全部返回。
func SampleFrames(paths []string, frameNum int, intN func(int) int) []string {
	n := len(paths)
	if n == 0 {
		return nil
	}
	if frameNum <= 0 {
		frameNum = 1
	}
	if intN == nil {
		intN = rand.IntN
	}
	step := n / frameNum
	if step < 1 {
		step = 1
	}
	// 起点在 [0, n/frameNum] 内
	start := intN(n/frameNum + 1)

	out := make([]string, 0, min(n, frameNum))
	for i := start; i < n && len(out) < frameNum; i += step {
		out = append(out, paths[i])
	}
	return out
}

// Images 抽取 frameNum 帧并编码为 data URL。
func (s *FrameSource) Images(videoID string, frameNum int) ([]llm.ImageContent, error) {
	paths, err := s.ListFrames(videoID)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found for video %s", videoID)
	}
	detail := s.Detail
	if detail == "" {
		detail = "low"
	}
	sampled := SampleFrames(paths, frameNum, s.IntN)
	images := make([]llm.ImageContent, 0, len(sampled))
	for _, p := range sampled {
		url, err := DataURL(p)
		if err != nil {
			return nil, err
		}
		images = append(images, llm.ImageContent{URL: url, Detail: detail})
	}
	return images, nil
}

// DataURL 将本地图片编码为 data:<mime>;base64,... 形式。
func DataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read frame %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// FrameAnalyzerConfig 视觉问答参数。
type FrameAnalyzerConfig struct {
	Model       string
	FrameCount  int
	Temperature float32
	MaxTokens   int
	// Timeout 单次视觉请求超时，0 时使用 Provider 的默认值
	Timeout time.Duration
}

// FrameAnalyzer 把抽样帧和问题一起交给视觉模型。
type FrameAnalyzer struct {
	source   *FrameSource
	provider llm.Provider
	cfg      FrameAnalyzerConfig
	logger   *zap.Logger
}

// NewFrameAnalyzer 创建视觉问答器。
func NewFrameAnalyzer(source *FrameSource, provider llm.Provider, cfg FrameAnalyzerConfig, logger *zap.Logger) *FrameAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = 90
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 3000
	}
	return &FrameAnalyzer{
		source:   source,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "frame_analyzer")),
	}
}

// Analyze 对 videoID 的抽样帧提问，返回模型回答。
func (a *FrameAnalyzer) Analyze(ctx context.Context, videoID, prompt string) (string, error) {
	images, err := a.source.Images(videoID, a.cfg.FrameCount)
	if err != nil {
		return "", err
	}
	a.logger.Debug("analyzing video",
		zap.String("video_id", videoID),
		zap.Int("frames", len(images)))

	req := &llm.ChatRequest{
		Model: a.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: VisionSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
			{Role: llm.RoleUser, Images: images},
		},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Timeout:     a.cfg.Timeout,
	}
	return llm.Ask(ctx, a.provider, req)
}
