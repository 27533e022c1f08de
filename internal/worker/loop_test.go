package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/egoqa/internal/store"
	"github.com/BaSui01/egoqa/testutil"
	"github.com/BaSui01/egoqa/testutil/fixtures"
	"github.com/BaSui01/egoqa/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

// solverFunc 函数适配 Solver
type solverFunc func(ctx context.Context, job types.Job) (*types.Result, error)

func (f solverFunc) Solve(ctx context.Context, job types.Job) (*types.Result, error) {
	return f(ctx, job)
}

// answerTruth 总是回答 truth 对应的选项
func answerTruth(_ context.Context, job types.Job) (*types.Result, error) {
	return &types.Result{
		Prediction:   *job.Truth,
		ExpertInfo:   map[string]string{"ExpertName1": "Chef"},
		AgentPrompts: map[string]string{"organizer_prompt": "p"},
		RawResponses: map[string]string{"organizer": "Pred: Option" + types.OptionLabel(*job.Truth)},
	}, nil
}

type countingRecorder struct {
	mu          sync.Mutex
	claimed     int
	completions map[int]int
	failures    []string
}

func (r *countingRecorder) RecordClaim() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed++
}

func (r *countingRecorder) RecordCompletion(_ *int, prediction int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completions == nil {
		r.completions = map[int]int{}
	}
	r.completions[prediction]++
}

func (r *countingRecorder) RecordIterationFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func newTestStore(t *testing.T, n int) *store.FileStore {
	t.Helper()
	path := testutil.WriteFile(t, "questions.json", fixtures.QuestionFile(n))
	s, err := store.NewFileStore(store.FileStoreConfig{Path: path, ReadRetryDelay: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func newTestLoop(t *testing.T, st store.Store, solver Solver, cfg Config, rec Recorder) *Loop {
	t.Helper()
	l := NewLoop(st, solver, cfg, rec, zaptest.NewLogger(t))
	l.jitter = func(time.Duration) time.Duration { return 0 }
	return l
}

func statusOf(t *testing.T, st store.Store, id string) types.Status {
	t.Helper()
	rec, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

// =============================================================================
// 🧪 Loop
// =============================================================================

func TestLoop_SolvesUntilExhausted(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := newTestStore(t, 4)
	rec := &countingRecorder{}

	l := newTestLoop(t, st, solverFunc(answerTruth), Config{}, rec)
	require.NoError(t, l.Run(ctx))

	stats, err := store.GetStats(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Done)
	assert.Equal(t, 4, stats.Correct)
	assert.Equal(t, 4, rec.claimed)
	assert.Empty(t, rec.failures)

	got, err := st.Get(ctx, "v3")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.Prediction)
	assert.Equal(t, "Chef", got.Result.ExpertInfo["ExpertName1"])
}

func TestLoop_FailureLeavesRecordProcessing(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := newTestStore(t, 3)
	rec := &countingRecorder{}

	solver := solverFunc(func(ctx context.Context, job types.Job) (*types.Result, error) {
		if job.ID == "v1" {
			return nil, types.NewError(types.ErrCodePanelUnavailable, "no panel").WithCause(types.ErrPanelUnavailable)
		}
		return answerTruth(ctx, job)
	})

	l := newTestLoop(t, st, solver, Config{}, rec)
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, types.StatusProcessing, statusOf(t, st, "v1"))
	assert.Equal(t, types.StatusDone, statusOf(t, st, "v2"))
	assert.Equal(t, types.StatusDone, statusOf(t, st, "v3"))
	assert.Equal(t, []string{string(types.ErrCodePanelUnavailable)}, rec.failures)
}

func TestLoop_UnclaimOnFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := newTestStore(t, 2)

	var mu sync.Mutex
	calls := map[string]int{}
	solver := solverFunc(func(ctx context.Context, job types.Job) (*types.Result, error) {
		mu.Lock()
		calls[job.ID]++
		n := calls[job.ID]
		mu.Unlock()
		if job.ID == "v1" && n == 1 {
			return nil, errors.New("transient")
		}
		return answerTruth(ctx, job)
	})

	l := newTestLoop(t, st, solver, Config{UnclaimOnFailure: true}, nil)
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, 2, calls["v1"], "released record is claimed again")
	assert.Equal(t, 1, calls["v2"])
	assert.Equal(t, types.StatusDone, statusOf(t, st, "v1"))
}

func TestLoop_RecoversFromPanic(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := newTestStore(t, 2)
	rec := &countingRecorder{}

	solver := solverFunc(func(ctx context.Context, job types.Job) (*types.Result, error) {
		if job.ID == "v1" {
			panic("boom")
		}
		return answerTruth(ctx, job)
	})

	l := newTestLoop(t, st, solver, Config{}, rec)
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, []string{"panic"}, rec.failures)
	assert.Equal(t, types.StatusDone, statusOf(t, st, "v2"))
}

func TestLoop_StopsOnCancel(t *testing.T) {
	st := newTestStore(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	solver := solverFunc(func(ctx context.Context, job types.Job) (*types.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	l := newTestLoop(t, st, solver, Config{FailureDelay: time.Hour}, nil)
	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// 默认不撤销，被打断的记录保持 processing
	assert.Equal(t, types.StatusProcessing, statusOf(t, st, "v1"))
	assert.Equal(t, types.StatusUnclaimed, statusOf(t, st, "v2"))
}

func TestLoop_StartupJitterHonoursCancel(t *testing.T) {
	st := newTestStore(t, 1)
	l := NewLoop(st, solverFunc(answerTruth), Config{StartupJitter: time.Hour}, nil, zap.NewNop())
	l.jitter = func(max time.Duration) time.Duration { return max }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, types.StatusUnclaimed, statusOf(t, st, "v1"))
}

func TestRandomJitter(t *testing.T) {
	assert.Zero(t, randomJitter(0))
	for i := 0; i < 100; i++ {
		d := randomJitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Millisecond)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("solve: %w", errPanic), "panic"},
		{fmt.Errorf("solve: %w", types.NewError(types.ErrCodeInvalidRoute, "bad")), string(types.ErrCodeInvalidRoute)},
		{errors.New("plain"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, failureReason(tt.err))
	}
}

// =============================================================================
// 🧪 RunPool
// =============================================================================

func TestRunPool_EachQuestionSolvedOnce(t *testing.T) {
	ctx := testutil.TestContext(t)
	st := newTestStore(t, 20)

	var mu sync.Mutex
	seen := map[string]int{}
	solver := solverFunc(func(ctx context.Context, job types.Job) (*types.Result, error) {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		return answerTruth(ctx, job)
	})

	ids := map[string]bool{}
	err := RunPool(ctx, 4, func(i int) *Loop {
		l := newTestLoop(t, st, solver, Config{}, nil)
		ids[l.ID()] = true
		return l
	})
	require.NoError(t, err)

	assert.Len(t, ids, 4)
	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	stats, err := store.GetStats(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Done)
}

func TestRunPool_InvalidConcurrency(t *testing.T) {
	err := RunPool(context.Background(), 0, func(int) *Loop { return nil })
	assert.Error(t, err)
}
