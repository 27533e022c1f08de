package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/llm/providers"
	"go.uber.org/zap"
)

const (
	defaultChatPath   = "/v1/chat/completions"
	defaultModelsPath = "/v1/models"
	defaultTimeout    = 120 * time.Second
	fallbackModel     = "gpt-4o"
)

// Config 描述一个 OpenAI 兼容端点
type Config struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	DefaultModel string
	// Timeout HTTP 客户端超时，0 取 120s
	Timeout time.Duration

	// ChatPath / ModelsPath 为空时使用 OpenAI 的路径
	ChatPath   string
	ModelsPath string

	// AuthHeader 非空时以 "<AuthHeader>: <key>" 发送密钥（例如 Azure 的 api-key），
	// 否则使用 Authorization: Bearer
	AuthHeader string

	// DisableTools 端点不支持 function calling 时置为 true
	DisableTools bool
}

// Provider OpenAI 兼容的 chat completions 客户端
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = defaultChatPath
	}
	if cfg.ModelsPath == "" {
		cfg.ModelsPath = defaultModelsPath
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) SupportsNativeFunctionCalling() bool { return !p.cfg.DisableTools }

// HealthCheck 请求模型列表
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	resp, err := p.send(ctx, http.MethodGet, p.cfg.ModelsPath, nil)
	status := &llm.HealthStatus{Latency: time.Since(start)}
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	status.Healthy = true
	return status, nil
}

// Completion 非流式对话
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := providers.PickModel(req, p.cfg.DefaultModel, fallbackModel)
	payload, err := json.Marshal(p.wireRequest(model, req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	p.logger.Debug("chat completion",
		zap.String("trace_id", req.TraceID),
		zap.String("model", model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)),
	)

	resp, err := p.send(ctx, http.MethodPost, p.cfg.ChatPath, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr providers.WireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, p.transportError(fmt.Errorf("decode response: %w", err))
	}
	out := providers.DecodeResponse(wr, p.Name())
	if wr.Created > 0 {
		out.CreatedAt = time.Unix(wr.Created, 0)
	}
	return out, nil
}

func (p *Provider) wireRequest(model string, req *llm.ChatRequest) providers.WireRequest {
	temperature := req.Temperature
	wr := providers.WireRequest{
		Model:       model,
		Messages:    providers.EncodeMessages(req.Messages),
		Tools:       providers.EncodeTools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
	}
	// 没有工具时不能带 tool_choice
	if len(wr.Tools) > 0 {
		wr.ToolChoice = providers.EncodeToolChoice(req.ToolChoice)
	}
	return wr
}

// send 发送请求；非 2xx 响应转成 llm.Error 并关闭 body
func (p *Provider) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.AuthHeader != "" {
		httpReq.Header.Set(p.cfg.AuthHeader, p.cfg.APIKey)
	} else if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.transportError(err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, providers.ErrorFromStatus(resp.StatusCode, providers.ReadAPIError(resp.Body), p.Name())
	}
	return resp, nil
}

// transportError 网络错误和无法解析的响应按 502 处理，允许重试
func (p *Provider) transportError(err error) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   p.Name(),
	}
}
