package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
)

// FileStoreConfig JSON 文件后端配置。
type FileStoreConfig struct {
	Path string
	// BackupDir 非空时每次写入结果后保存快照
	BackupDir       string
	ReadRetryDelay  time.Duration
	MaxReadAttempts int
}

// FileStore 以单个 JSON 文件保存题库。
// 每次读-改-写都持有 <path>.lock 上的 flock，写入通过临时文件 + rename 完成。
type FileStore struct {
	cfg      FileStoreConfig
	lockPath string
	// mu 减少同进程内对 flock 的轮询
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

// NewFileStore 创建文件存储，题库文件必须已存在。
func NewFileStore(cfg FileStoreConfig, logger *zap.Logger) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadRetryDelay <= 0 {
		cfg.ReadRetryDelay = time.Second
	}
	return &FileStore{
		cfg:      cfg,
		lockPath: cfg.Path + ".lock",
		logger:   logger.With(zap.String("component", "file_store"), zap.String("path", cfg.Path)),
		now:      time.Now,
	}, nil
}

// transact 在锁内读取文档并执行 fn；fn 返回 dirty=true 时写回。
// 文件读取或解析失败时释放锁、等待 ReadRetryDelay 后整体重试。
func (s *FileStore) transact(ctx context.Context, fn func(doc *document) (dirty bool, err error)) error {
	for attempt := 1; ; attempt++ {
		done, err := s.tryTransact(ctx, fn)
		if done {
			return err
		}
		if s.cfg.MaxReadAttempts > 0 && attempt >= s.cfg.MaxReadAttempts {
			return types.NewError(types.ErrCodeStoreUnavailable, "question file unreadable").
				WithCause(err).WithRetryable(true)
		}
		s.logger.Warn("question file unreadable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", s.cfg.ReadRetryDelay),
			zap.Error(err))
		if err := sleepCtx(ctx, s.cfg.ReadRetryDelay); err != nil {
			return err
		}
	}
}

// tryTransact 返回 done=false 表示读取失败、可以重试。
func (s *FileStore) tryTransact(ctx context.Context, fn func(doc *document) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := acquireLock(ctx, s.lockPath)
	if err != nil {
		// 锁获取失败（含 ctx 取消）不重试
		return true, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			s.logger.Warn("release lock failed", zap.Error(err))
		}
	}()

	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return false, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return false, err
	}

	dirty, err := fn(doc)
	if err != nil || !dirty {
		return true, err
	}
	out, err := doc.encode()
	if err != nil {
		return true, err
	}
	if err := writeFileAtomic(s.cfg.Path, out); err != nil {
		return true, err
	}
	return true, nil
}

func (s *FileStore) ClaimNext(ctx context.Context) (*types.QuestionRecord, error) {
	var claimed *types.QuestionRecord
	err := s.transact(ctx, func(doc *document) (bool, error) {
		dirty := false
		for _, id := range doc.order {
			e := doc.entries[id]
			if e.has(fieldPred) {
				continue
			}
			// 先落标记：解析失败的记录停在 processing，不会反复被领取
			e.markProcessing()
			dirty = true
			rec, err := e.record(id)
			if err != nil {
				s.logger.Warn("skipping malformed record", zap.String("id", id), zap.Error(err))
				continue
			}
			claimed = rec
			return true, nil
		}
		return dirty, nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		s.logger.Debug("record claimed", zap.String("id", claimed.ID))
	}
	return claimed, nil
}

func (s *FileStore) WriteResult(ctx context.Context, id string, result *types.Result) error {
	if result == nil {
		return fmt.Errorf("write result %s: nil result", id)
	}
	var snapshot []byte
	err := s.transact(ctx, func(doc *document) (bool, error) {
		e, ok := doc.entries[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
		}
		if err := e.applyResult(result); err != nil {
			return false, err
		}
		if s.cfg.BackupDir != "" {
			data, err := doc.encode()
			if err != nil {
				return false, err
			}
			snapshot = data
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if snapshot != nil {
		path, err := writeBackup(s.cfg.BackupDir, snapshot, s.now())
		if err != nil {
			// 备份失败不影响结果写入
			s.logger.Warn("backup failed", zap.Error(err))
		} else {
			s.logger.Debug("backup written", zap.String("backup", path))
		}
	}
	return nil
}

func (s *FileStore) Unclaim(ctx context.Context, id string) (bool, error) {
	reverted := false
	err := s.transact(ctx, func(doc *document) (bool, error) {
		e, ok := doc.entries[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
		}
		if e.status() != types.StatusProcessing {
			return false, nil
		}
		e.del(fieldPred)
		reverted = true
		return true, nil
	})
	return reverted, err
}

func (s *FileStore) Get(ctx context.Context, id string) (*types.QuestionRecord, error) {
	var rec *types.QuestionRecord
	err := s.transact(ctx, func(doc *document) (bool, error) {
		e, ok := doc.entries[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
		}
		var err error
		rec, err = e.record(id)
		return false, err
	})
	return rec, err
}

func (s *FileStore) List(ctx context.Context) ([]*types.QuestionRecord, error) {
	var out []*types.QuestionRecord
	err := s.transact(ctx, func(doc *document) (bool, error) {
		var err error
		out, err = doc.records()
		return false, err
	})
	return out, err
}

// Import 追加文件中不存在的记录。
func (s *FileStore) Import(ctx context.Context, records []*types.QuestionRecord) (int, error) {
	added := 0
	err := s.transact(ctx, func(doc *document) (bool, error) {
		for _, rec := range records {
			if _, exists := doc.entries[rec.ID]; exists {
				continue
			}
			e, err := entryFromRecord(rec)
			if err != nil {
				return false, err
			}
			doc.add(rec.ID, e)
			added++
		}
		return added > 0, nil
	})
	return added, err
}

// Close 文件后端没有需要释放的资源。
func (s *FileStore) Close() error { return nil }

// IsNotFound 判断错误是否为记录不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrRecordNotFound)
}
