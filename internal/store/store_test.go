package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/egoqa/testutil"
	"github.com/BaSui01/egoqa/testutil/fixtures"
	"github.com/BaSui01/egoqa/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =============================================================================
// 🧪 后端一致性测试：file / redis / sql 行为相同
// =============================================================================

type storeFactory func(t *testing.T, records []*types.QuestionRecord) Store

func newTestFileStore(t *testing.T, records []*types.QuestionRecord) Store {
	t.Helper()
	data, err := EncodeRecords(records)
	require.NoError(t, err)
	path := testutil.WriteFile(t, "questions.json", string(data))
	s, err := NewFileStore(FileStoreConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func newTestRedisStore(t *testing.T, records []*types.QuestionRecord) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "test", zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	_, err := s.Import(context.Background(), records)
	require.NoError(t, err)
	return s
}

func newTestSQLStore(t *testing.T, records []*types.QuestionRecord) Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "questions.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := NewSQLStoreWithDB(db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Import(context.Background(), records)
	require.NoError(t, err)
	return s
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"file":  newTestFileStore,
		"redis": newTestRedisStore,
		"sql":   newTestSQLStore,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory)
		})
	}
}

func sampleResult(pred int) *types.Result {
	return &types.Result{
		Prediction:   pred,
		ExpertInfo:   map[string]string{"ExpertName1": "Chef", "ExpertName1Prompt": "p1"},
		AgentPrompts: map[string]string{"organizer_prompt": "op"},
		RawResponses: map[string]string{"organizer": "Pred: OptionC"},
	}
}

func TestStore_ClaimNextInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		s := newStore(t, fixtures.Records(3))

		for _, want := range []string{"v1", "v2", "v3"} {
			rec, err := s.ClaimNext(ctx)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, want, rec.ID)
			assert.Equal(t, types.StatusProcessing, rec.Status)
			assert.NotEmpty(t, rec.Question)
		}

		rec, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, rec, "exhausted store returns nil record")
	})
}

func TestStore_ClaimSkipsProcessingAndDone(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		recs := fixtures.Records(3)
		recs[0].Status = types.StatusDone
		recs[0].Result = sampleResult(0)
		recs[1].Status = types.StatusProcessing
		s := newStore(t, recs)

		rec, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "v3", rec.ID)
	})
}

func TestStore_WriteResult(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		s := newStore(t, fixtures.Records(2))

		rec, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, s.WriteResult(ctx, rec.ID, sampleResult(2)))
		once, err := s.List(ctx)
		require.NoError(t, err)
		// 重复写入同一结果，存储状态不变
		require.NoError(t, s.WriteResult(ctx, rec.ID, sampleResult(2)))
		twice, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, once, twice)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, 2, got.Result.Prediction)
		assert.Equal(t, "Chef", got.Result.ExpertInfo["ExpertName1"])
		assert.Equal(t, "op", got.Result.AgentPrompts["organizer_prompt"])
		assert.Equal(t, "Pred: OptionC", got.Result.RawResponses["organizer"])

		// done 记录不会被再次领取
		next, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "v2", next.ID)

		err = s.WriteResult(ctx, "missing", sampleResult(1))
		assert.ErrorIs(t, err, types.ErrRecordNotFound)
	})
}

func TestStore_Unclaim(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		s := newStore(t, fixtures.Records(2))

		first, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		_, err = s.ClaimNext(ctx)
		require.NoError(t, err)

		ok, err := s.Unclaim(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusUnclaimed, got.Status)

		// 再次领取回到原位置
		again, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)

		// done 记录不可撤销
		require.NoError(t, s.WriteResult(ctx, again.ID, sampleResult(0)))
		ok, err = s.Unclaim(ctx, again.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Unclaim(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrRecordNotFound)
	})
}

func TestStore_GetAndList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		s := newStore(t, fixtures.Records(4))

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 4)
		for i, rec := range list {
			assert.Equal(t, fmt.Sprintf("v%d", i+1), rec.ID)
		}

		_, err = s.Get(ctx, "nope")
		assert.True(t, IsNotFound(err))

		rec, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, s.WriteResult(ctx, rec.ID, sampleResult(*rec.Truth)))

		st, err := GetStats(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, 4, st.Total)
		assert.Equal(t, 1, st.Done)
		assert.Equal(t, 3, st.Unclaimed)
		assert.Equal(t, 1, st.Correct)
	})
}

func TestStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		const n = 24
		s := newStore(t, fixtures.Records(n))

		var (
			mu      sync.Mutex
			claimed []string
			wg      sync.WaitGroup
		)
		for w := 0; w < 6; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					rec, err := s.ClaimNext(ctx)
					if !assert.NoError(t, err) || rec == nil {
						return
					}
					mu.Lock()
					claimed = append(claimed, rec.ID)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, claimed, n, "every record claimed exactly once")
		sort.Strings(claimed)
		seen := make(map[string]bool, n)
		for _, id := range claimed {
			assert.False(t, seen[id], "duplicate claim of %s", id)
			seen[id] = true
		}
	})
}

func TestImport_SkipsExistingAndValidates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := testutil.TestContext(t)
		s := newStore(t, fixtures.Records(2))
		importer, ok := s.(Importer)
		require.True(t, ok)

		added, err := Import(ctx, importer, fixtures.Records(3))
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 3)

		bad := fixtures.Record("", 0)
		_, err = Import(ctx, importer, []*types.QuestionRecord{bad})
		assert.ErrorIs(t, err, types.ErrInvalidRecord)
	})
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) ObserveStoreOp(op, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op+":"+status)
}

func TestInstrument(t *testing.T) {
	ctx := testutil.TestContext(t)
	obs := &recordingObserver{}
	base := newTestFileStore(t, fixtures.Records(1))
	assert.Same(t, base, Instrument(base, nil))

	s := Instrument(base, obs)
	rec, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteResult(ctx, rec.ID, sampleResult(0)))
	_, err = s.Unclaim(ctx, "missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"claim_next:success", "write_result:success", "unclaim:error"}, obs.ops)
}

func TestSupportsRowLocking(t *testing.T) {
	assert.True(t, supportsRowLocking("postgres"))
	assert.True(t, supportsRowLocking("mysql"))
	assert.False(t, supportsRowLocking("sqlite"))
}

func TestSQLStore_ClaimNext(t *testing.T) {
	s := newTestSQLStore(t, fixtures.Records(2)).(*SQLStore)
	assert.False(t, s.rowLocking, "sqlite relies on the conditional update")

	rec, err := s.ClaimNext(testutil.TestContext(t))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "v1", rec.ID)
	assert.Equal(t, types.StatusProcessing, rec.Status)

	_, err = s.ClaimNext(testutil.CancelledContext())
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.Get(testutil.TestContext(t), "v2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnclaimed, got.Status, "cancelled claim leaves the record untouched")
}
