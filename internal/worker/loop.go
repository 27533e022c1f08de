package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/BaSui01/egoqa/internal/store"
	"github.com/BaSui01/egoqa/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Solver 求解一道题。
type Solver interface {
	Solve(ctx context.Context, job types.Job) (*types.Result, error)
}

// Recorder 作业计数。
type Recorder interface {
	RecordClaim()
	RecordCompletion(truth *int, prediction int)
	RecordIterationFailure(reason string)
}

// Config 工作循环配置
type Config struct {
	// StartupJitter 启动前随机等待 [0, StartupJitter)，错开多个进程的首次领取
	StartupJitter time.Duration
	// FailureDelay 单次迭代失败后的等待
	FailureDelay time.Duration
	// UnclaimOnFailure 失败时把记录恢复为未领取
	UnclaimOnFailure bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		StartupJitter: 10 * time.Second,
		FailureDelay:  time.Second,
	}
}

// errPanic 标记迭代中恢复的 panic
var errPanic = errors.New("worker iteration panicked")

// Loop 单个工作循环。
type Loop struct {
	id       string
	store    store.Store
	solver   Solver
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
	jitter   func(max time.Duration) time.Duration
}

// NewLoop 创建工作循环，recorder 可以为 nil。
func NewLoop(st store.Store, solver Solver, cfg Config, recorder Recorder, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	id := uuid.NewString()
	return &Loop{
		id:       id,
		store:    st,
		solver:   solver,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "worker"), zap.String("worker_id", id)),
		jitter:   randomJitter,
	}
}

// ID 返回循环标识
func (l *Loop) ID() string { return l.id }

// Run 运行到题库耗尽（返回 nil）或 ctx 结束（返回 ctx.Err()）。
// 单次迭代的错误与 panic 不会终止循环。
func (l *Loop) Run(ctx context.Context) error {
	ctx = types.WithWorkerID(ctx, l.id)

	if d := l.jitter(l.cfg.StartupJitter); d > 0 {
		l.logger.Debug("startup jitter", zap.Duration("delay", d))
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	l.logger.Info("worker started")

	var solved, failed int
	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("worker stopped", zap.Int("solved", solved), zap.Int("failed", failed))
			return err
		}

		exhausted, err := l.iterate(ctx)
		if exhausted {
			l.logger.Info("question store exhausted", zap.Int("solved", solved), zap.Int("failed", failed))
			return nil
		}
		if err == nil {
			solved++
			continue
		}
		if ctx.Err() != nil {
			l.logger.Info("worker stopped", zap.Int("solved", solved), zap.Int("failed", failed))
			return ctx.Err()
		}

		failed++
		l.recorder.RecordIterationFailure(failureReason(err))
		l.logger.Error("iteration failed", zap.Error(err))
		if err := sleep(ctx, l.cfg.FailureDelay); err != nil {
			return err
		}
	}
}

// iterate 领取并求解一道题。题库耗尽时 exhausted=true。
func (l *Loop) iterate(ctx context.Context) (exhausted bool, err error) {
	rec, err := l.store.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next: %w", err)
	}
	if rec == nil {
		return true, nil
	}
	l.recorder.RecordClaim()

	ctx = types.WithJobID(ctx, rec.ID)
	ctx, span := otel.Tracer("egoqa/worker").Start(ctx, "worker.iteration")
	defer span.End()
	span.SetAttributes(
		attribute.String("worker.id", l.id),
		attribute.String("question.id", rec.ID),
	)

	log := l.logger.With(zap.String("question_id", rec.ID))
	log.Info("question claimed")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
			log.Error("recovered from panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			l.release(ctx, rec.ID)
		}
	}()

	start := time.Now()
	result, err := l.solver.Solve(ctx, types.NewJob(rec))
	if err != nil {
		return false, fmt.Errorf("solve %s: %w", rec.ID, err)
	}
	if err := l.store.WriteResult(ctx, rec.ID, result); err != nil {
		return false, fmt.Errorf("write result %s: %w", rec.ID, err)
	}

	l.recorder.RecordCompletion(rec.Truth, result.Prediction)
	span.SetAttributes(attribute.Int("question.prediction", result.Prediction))
	log.Info("question solved",
		zap.Int("pred", result.Prediction),
		zap.Duration("duration", time.Since(start)),
	)
	return false, nil
}

// release 失败时按配置撤销领取，否则记录保持 processing 等待人工恢复
func (l *Loop) release(ctx context.Context, id string) {
	if !l.cfg.UnclaimOnFailure {
		return
	}
	// ctx 可能已经取消，撤销仍需完成
	ctx = context.WithoutCancel(ctx)
	ok, err := l.store.Unclaim(ctx, id)
	if err != nil {
		l.logger.Warn("unclaim failed", zap.String("question_id", id), zap.Error(err))
		return
	}
	l.logger.Info("question released", zap.String("question_id", id), zap.Bool("reverted", ok))
}

func failureReason(err error) string {
	if errors.Is(err, errPanic) {
		return "panic"
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
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

type nopRecorder struct{}

func (nopRecorder) RecordClaim()                  {}
func (nopRecorder) RecordCompletion(*int, int)    {}
func (nopRecorder) RecordIterationFailure(string) {}
