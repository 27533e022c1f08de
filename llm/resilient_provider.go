package llm

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/egoqa/llm/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestObserver 接收每次上游调用的结果，由 metrics.Collector 实现。
type RequestObserver interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration)
}

// ResilientProvider 具有弹性能力的 Provider 包装器
// 提供重试、本地限流、默认模型与超时填充、调用观测
// 遵循装饰器模式：增强原有 Provider 而不修改其代码
type ResilientProvider struct {
	provider Provider
	retryer  retry.Retryer
	limiter  *rate.Limiter
	observer RequestObserver
	config   *ResilientProviderConfig
	logger   *zap.Logger
}

// ResilientProviderConfig 弹性 Provider 配置
type ResilientProviderConfig struct {
	// RetryPolicy 重试策略，nil 时使用 retry.DefaultRetryPolicy
	RetryPolicy *retry.RetryPolicy
	// RateLimitRPS 每秒请求数上限，0 表示不限流
	RateLimitRPS float64
	// RateLimitBurst 令牌桶容量
	RateLimitBurst int
	// DefaultModel 请求未指定模型时使用
	DefaultModel string
	// Timeout 请求未指定超时时使用
	Timeout time.Duration
}

// DefaultResilientProviderConfig 返回默认配置
func DefaultResilientProviderConfig() *ResilientProviderConfig {
	return &ResilientProviderConfig{
		RetryPolicy:    retry.DefaultRetryPolicy(),
		RateLimitBurst: 1,
		Timeout:        120 * time.Second,
	}
}

// NewResilientProvider 创建具有弹性能力的 Provider
func NewResilientProvider(provider Provider, config *ResilientProviderConfig, observer RequestObserver, logger *zap.Logger) *ResilientProvider {
	if config == nil {
		config = DefaultResilientProviderConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := config.RetryPolicy
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = IsRetryable
	}

	rp := &ResilientProvider{
		provider: provider,
		retryer:  retry.NewBackoffRetryer(policy, logger.With(zap.String("component", "llm_retry"))),
		observer: observer,
		config:   config,
		logger:   logger.With(zap.String("component", "resilient_provider"), zap.String("provider", provider.Name())),
	}
	if config.RateLimitRPS > 0 {
		burst := config.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		rp.limiter = rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst)
	}
	return rp
}

// Completion 实现 Provider.Completion
// 每次尝试前等待限流令牌；可重试错误按策略重试
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	prepared := rp.prepare(req)

	ctx, span := otel.Tracer("egoqa/llm").Start(ctx, "llm.completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", rp.provider.Name()),
		attribute.String("llm.model", prepared.Model),
		attribute.String("llm.trace_id", prepared.TraceID),
		attribute.Int("llm.tools", len(prepared.Tools)),
	)

	resp, err := retry.Value(ctx, rp.retryer, func() (*ChatResponse, error) {
		if rp.limiter != nil {
			if err := rp.limiter.Wait(ctx); err != nil {
				return nil, retry.Permanent(err)
			}
		}
		return rp.attempt(ctx, prepared)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (rp *ResilientProvider) attempt(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := rp.provider.Completion(callCtx, req)
	if err == nil {
		// 没有 choice 的响应同样按失败处理，交给重试
		_, err = FirstChoice(resp)
	}
	rp.observe(req.Model, err, time.Since(start))

	if err != nil {
		// 单次调用超时但外层 ctx 仍有效时，视为上游超时并允许重试
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &Error{Code: ErrUpstreamTimeout, Message: err.Error(), Retryable: true, Provider: rp.provider.Name()}
		}
		rp.logger.Warn("completion failed",
			zap.String("trace_id", req.TraceID),
			zap.String("model", req.Model),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (rp *ResilientProvider) observe(model string, err error, d time.Duration) {
	if rp.observer == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		var le *Error
		if errors.As(err, &le) {
			status = string(le.Code)
		}
	}
	rp.observer.RecordLLMRequest(rp.provider.Name(), model, status, d)
}

// prepare 返回填充了默认值的请求副本，调用方的请求保持不变
func (rp *ResilientProvider) prepare(req *ChatRequest) *ChatRequest {
	out := *req
	if out.Model == "" {
		out.Model = rp.config.DefaultModel
	}
	if out.Timeout == 0 {
		out.Timeout = rp.config.Timeout
	}
	if out.TraceID == "" {
		out.TraceID = uuid.NewString()
	}
	return &out
}

func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name 实现 Provider.Name
func (rp *ResilientProvider) Name() string {
	return rp.provider.Name()
}

// SupportsNativeFunctionCalling 委托给底层 Provider
func (rp *ResilientProvider) SupportsNativeFunctionCalling() bool {
	return rp.provider.SupportsNativeFunctionCalling()
}
