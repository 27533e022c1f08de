package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 重试策略。总尝试次数 = MaxRetries + 1。
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier 1.0 为固定间隔
	Multiplier float64
	// Jitter 在计算出的延迟上加 ±25% 抖动，结果不低于 InitialDelay
	Jitter bool
	// ShouldRetry 为 nil 时除 Permanent 与 context 错误外都重试
	ShouldRetry func(err error) bool
	// OnRetry 每次等待前调用，attempt 从 1 开始
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 模型调用的约定：共 3 次尝试，固定 3 秒间隔
func DefaultRetryPolicy() *RetryPolicy {
	return FixedDelayPolicy(3, 3*time.Second)
}

// FixedDelayPolicy 共 attempts 次尝试（至少 1 次），间隔固定为 delay
func FixedDelayPolicy(attempts int, delay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   max(attempts, 1) - 1,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
	}
}

// Retryer 按策略重复调用 fn
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 复制 policy 并修正非法取值
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *policy
	p.MaxRetries = max(p.MaxRetries, 0)
	p.InitialDelay = max(p.InitialDelay, 0)
	p.MaxDelay = max(p.MaxDelay, p.InitialDelay)
	p.Multiplier = max(p.Multiplier, 1)
	return &backoffRetryer{policy: p, logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	attempts := r.policy.MaxRetries + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := r.wait(ctx, attempt, err); werr != nil {
				return werr
			}
		}
		if err = fn(); err == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !r.retryable(err) {
			return err
		}
	}
	r.logger.Warn("retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
	return &ExhaustedError{Attempts: attempts, Err: err}
}

func (r *backoffRetryer) wait(ctx context.Context, attempt int, lastErr error) error {
	delay := r.delayFor(attempt)
	r.logger.Debug("retrying",
		zap.Int("attempt", attempt),
		zap.Int("max_retries", r.policy.MaxRetries),
		zap.Duration("delay", delay),
		zap.Error(lastErr))
	if r.policy.OnRetry != nil {
		r.policy.OnRetry(attempt, lastErr, delay)
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// delayFor initial * multiplier^(attempt-1)，封顶 MaxDelay
func (r *backoffRetryer) delayFor(attempt int) time.Duration {
	p := r.policy
	d := math.Min(float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(attempt-1)), float64(p.MaxDelay))
	if p.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return max(time.Duration(d), p.InitialDelay)
}

func (r *backoffRetryer) retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), IsPermanent(err):
		return false
	case r.policy.ShouldRetry != nil:
		return r.policy.ShouldRetry(err)
	}
	return true
}

// Value 带返回值的重试
func Value[T any](ctx context.Context, r Retryer, fn func() (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func() error {
		v, err := fn()
		if err == nil {
			out = v
		}
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ExhaustedError 所有尝试均失败，Err 为最后一次的错误
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// PermanentError 包装后的错误不再重试
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent nil 原样返回
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
