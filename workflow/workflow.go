package workflow

import (
	"context"
	"fmt"
	"time"
)

// StepFunc 读写共享状态 S 的一个步骤
type StepFunc[S any] func(ctx context.Context, state S) error

// Step 带名称的步骤，名称用于日志和错误
type Step[S any] struct {
	Name string
	Run  StepFunc[S]
}

// Chain 按顺序执行步骤，任一步失败即停止。
// 步骤之间通过同一个 state 传递结果。
type Chain[S any] struct {
	name  string
	steps []Step[S]
}

func NewChain[S any](name string, steps ...Step[S]) *Chain[S] {
	return &Chain[S]{name: name, steps: steps}
}

// Then 追加一步
func (c *Chain[S]) Then(name string, fn StepFunc[S]) *Chain[S] {
	c.steps = append(c.steps, Step[S]{Name: name, Run: fn})
	return c
}

func (c *Chain[S]) Name() string { return c.name }

// StepNames 按执行顺序返回步骤名
func (c *Chain[S]) StepNames() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name
	}
	return names
}

// Run 执行整条链。hook 可为 nil。
// 失败时返回 *StepError，可用 errors.Is / errors.As 取到步骤的原始错误。
func (c *Chain[S]) Run(ctx context.Context, state S, hook StepHook) error {
	if hook == nil {
		hook = func(StepEvent) {}
	}
	for i, step := range c.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		hook(StepEvent{Type: StepEventStart, Step: step.Name, Index: i})

		start := time.Now()
		err := step.Run(ctx, state)
		ev := StepEvent{Type: StepEventComplete, Step: step.Name, Index: i, Duration: time.Since(start)}
		if err != nil {
			ev.Type, ev.Err = StepEventError, err
			hook(ev)
			return &StepError{Index: i, Step: step.Name, Err: err}
		}
		hook(ev)
	}
	return nil
}

// StepError 标识失败的步骤
type StepError struct {
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type StepEventType string

const (
	StepEventStart    StepEventType = "step_start"
	StepEventComplete StepEventType = "step_complete"
	StepEventError    StepEventType = "step_error"
)

// StepEvent 单个步骤的开始、完成或失败
type StepEvent struct {
	Type     StepEventType
	Step     string
	Index    int
	Duration time.Duration
	Err      error
}

type StepHook func(StepEvent)
