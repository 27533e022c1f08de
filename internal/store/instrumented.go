package store

import (
	"context"
	"time"

	"github.com/BaSui01/egoqa/types"
)

// OpObserver 接收存储操作耗时，由 metrics.Collector 实现。
type OpObserver interface {
	ObserveStoreOp(op, status string, duration time.Duration)
}

// instrumentedStore 为每个操作记录耗时与结果。
type instrumentedStore struct {
	Store
	obs OpObserver
}

// Instrument 包装 s，obs 为 nil 时原样返回。
func Instrument(s Store, obs OpObserver) Store {
	if obs == nil {
		return s
	}
	return &instrumentedStore{Store: s, obs: obs}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.obs.ObserveStoreOp(op, status, time.Since(start))
}

func (s *instrumentedStore) ClaimNext(ctx context.Context) (*types.QuestionRecord, error) {
	start := time.Now()
	rec, err := s.Store.ClaimNext(ctx)
	s.observe("claim_next", start, err)
	return rec, err
}

func (s *instrumentedStore) WriteResult(ctx context.Context, id string, result *types.Result) error {
	start := time.Now()
	err := s.Store.WriteResult(ctx, id, result)
	s.observe("write_result", start, err)
	return err
}

func (s *instrumentedStore) Unclaim(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ok, err := s.Store.Unclaim(ctx, id)
	s.observe("unclaim", start, err)
	return ok, err
}
