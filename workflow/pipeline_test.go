package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/egoqa/agent/deliberation"
	"github.com/BaSui01/egoqa/testutil"
	"github.com/BaSui01/egoqa/testutil/fixtures"
	"github.com/BaSui01/egoqa/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSelector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSelector) Select(_ context.Context, job types.Job) (*types.ExpertPanel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.ExpertPanel{Experts: []types.Persona{
		{Name: "Chef", Prompt: "p1"}, {Name: "Engineer", Prompt: "p2"}, {Name: "Text Analysis Expert", Prompt: "p3"},
	}}, nil
}

type fakeDeliberator struct {
	mu       sync.Mutex
	attempts []int
	errs     []error
}

func (d *fakeDeliberator) Run(_ context.Context, job types.Job, _ *types.ExpertPanel) (*deliberation.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, job.Attempt)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &deliberation.Outcome{
		Transcript: []deliberation.Turn{
			{Speaker: "system", Content: "q"},
			{Speaker: "organizer", Content: fixtures.OrganizerAnswer},
		},
		FinalText: fixtures.OrganizerAnswer,
		Finished:  true,
		Prompts:   map[string]string{"organizer_prompt": "op"},
	}, nil
}

type scriptedResolver struct {
	mu    sync.Mutex
	preds []int
	err   error
}

func (r *scriptedResolver) Resolve(context.Context, types.Job, string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return types.PredictionUnknown, r.err
	}
	if len(r.preds) == 0 {
		return types.PredictionUnknown, nil
	}
	p := r.preds[0]
	r.preds = r.preds[1:]
	return p, nil
}

func fastConfig() PipelineConfig {
	return PipelineConfig{Attempts: 3, RetryDelay: time.Millisecond}
}

func testJob() types.Job { return types.NewJob(fixtures.Record("v1", 2)) }

func TestQAPipeline_Solve(t *testing.T) {
	sel := &fakeSelector{}
	delib := &fakeDeliberator{}
	p := NewQAPipeline(sel, delib, &scriptedResolver{preds: []int{2}}, fastConfig(), nil)

	res, err := p.Solve(testutil.TestContext(t), testJob())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Prediction)
	assert.Equal(t, "Chef", res.ExpertInfo["ExpertName1"])
	assert.Equal(t, "op", res.AgentPrompts["organizer_prompt"])
	assert.Equal(t, fixtures.OrganizerAnswer, res.RawResponses["organizer"])
	assert.Equal(t, 1, sel.calls)
	assert.Equal(t, []int{1}, delib.attempts)
	assert.Equal(t, "qa", p.Name())
}

func TestQAPipeline_RerunsWholeChain(t *testing.T) {
	sel := &fakeSelector{}
	delib := &fakeDeliberator{}
	p := NewQAPipeline(sel, delib, &scriptedResolver{preds: []int{-1, -1, 4}}, fastConfig(), nil)

	res, err := p.Solve(testutil.TestContext(t), testJob())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Prediction)
	assert.Equal(t, 3, sel.calls)
	assert.Equal(t, []int{1, 2, 3}, delib.attempts)
}

func TestQAPipeline_GivesUp(t *testing.T) {
	p := NewQAPipeline(&fakeSelector{}, &fakeDeliberator{}, &scriptedResolver{}, fastConfig(), nil)

	res, err := p.Solve(testutil.TestContext(t), testJob())
	require.NoError(t, err)
	assert.Equal(t, types.PredictionUnknown, res.Prediction)
	assert.False(t, res.Answered())
	assert.NotEmpty(t, res.ExpertInfo)
	assert.NotEmpty(t, res.RawResponses)
}

func TestQAPipeline_InvalidRouteCountsAsAttempt(t *testing.T) {
	routeErr := types.NewError(types.ErrCodeInvalidRoute, "bad").WithCause(types.ErrInvalidRoute)
	delib := &fakeDeliberator{errs: []error{routeErr, nil}}
	p := NewQAPipeline(&fakeSelector{}, delib, &scriptedResolver{preds: []int{1}}, fastConfig(), nil)

	res, err := p.Solve(testutil.TestContext(t), testJob())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Prediction)
	assert.Equal(t, []int{1, 2}, delib.attempts)

	// 每次都路由失败时返回 -1 且保留面板
	delib = &fakeDeliberator{errs: []error{routeErr, routeErr, routeErr}}
	p = NewQAPipeline(&fakeSelector{}, delib, &scriptedResolver{}, fastConfig(), nil)
	res, err = p.Solve(testutil.TestContext(t), testJob())
	require.NoError(t, err)
	assert.Equal(t, types.PredictionUnknown, res.Prediction)
	assert.Equal(t, "Chef", res.ExpertInfo["ExpertName1"])
	assert.NotNil(t, res.RawResponses)
}

func TestQAPipeline_Errors(t *testing.T) {
	t.Run("selector", func(t *testing.T) {
		sel := &fakeSelector{err: types.NewError(types.ErrCodePanelUnavailable, "x").WithCause(types.ErrPanelUnavailable)}
		_, err := NewQAPipeline(sel, &fakeDeliberator{}, &scriptedResolver{}, fastConfig(), nil).Solve(testutil.TestContext(t), testJob())
		assert.ErrorIs(t, err, types.ErrPanelUnavailable)
		assert.ErrorContains(t, err, StepSelectExperts)
		assert.Equal(t, 1, sel.calls)
	})

	t.Run("resolver", func(t *testing.T) {
		_, err := NewQAPipeline(&fakeSelector{}, &fakeDeliberator{}, &scriptedResolver{err: errors.New("llm down")}, fastConfig(), nil).
			Solve(testutil.TestContext(t), testJob())
		assert.ErrorContains(t, err, "llm down")
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		cfg := PipelineConfig{Attempts: 3, RetryDelay: time.Hour}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := NewQAPipeline(&fakeSelector{}, &fakeDeliberator{}, &scriptedResolver{}, cfg, nil).Solve(ctx, testJob())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
