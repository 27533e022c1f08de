// Package store 提供题库的分布式领取队列。
//
// 多个 worker（进程内或跨进程）只通过 Store 协调：
// ClaimNext 原子地把第一条未领取记录标记为 processing 并返回，
// WriteResult 原子地写入结果，Unclaim 供恢复工具撤销领取。
// 后端包括 JSON 文件（flock）、Redis（Lua 脚本）与 SQL（gorm）。
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BaSui01/egoqa/config"
	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
)

// Store 题库领取队列。
type Store interface {
	// ClaimNext 按插入顺序领取第一条未领取记录；没有可领取记录时返回 nil, nil。
	ClaimNext(ctx context.Context) (*types.QuestionRecord, error)
	// WriteResult 写入结果并将记录置为 done，可重复写入。
	WriteResult(ctx context.Context, id string, result *types.Result) error
	// Unclaim 将 processing 记录恢复为 unclaimed；记录不在 processing 时返回 false。
	Unclaim(ctx context.Context, id string) (bool, error)
	// Get 读取单条记录。
	Get(ctx context.Context, id string) (*types.QuestionRecord, error)
	// List 按插入顺序返回全部记录。
	List(ctx context.Context) ([]*types.QuestionRecord, error)
	// Close 释放连接。
	Close() error
}

// Importer 支持批量导入的后端。已存在的 id 跳过，返回新增条数。
type Importer interface {
	Import(ctx context.Context, records []*types.QuestionRecord) (int, error)
}

// Stats 题库统计。
type Stats struct {
	Total      int `json:"total"`
	Unclaimed  int `json:"unclaimed"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	// Answered 预测落在合法选项内的条数
	Answered int `json:"answered"`
	// Unknown 预测为 -1 的条数
	Unknown int `json:"unknown"`
	// Graded 有 truth 的已完成条数
	Graded  int `json:"graded"`
	Correct int `json:"correct"`
}

// Accuracy 已评分记录中的正确率。
func (s *Stats) Accuracy() float64 {
	if s.Graded == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Graded)
}

// ComputeStats 汇总记录状态与正确率。
func ComputeStats(records []*types.QuestionRecord) *Stats {
	st := &Stats{Total: len(records)}
	for _, rec := range records {
		switch rec.Status {
		case types.StatusUnclaimed:
			st.Unclaimed++
		case types.StatusProcessing:
			st.Processing++
		case types.StatusDone:
			st.Done++
			if rec.Result.Answered() {
				st.Answered++
			} else if rec.Result != nil && rec.Result.Prediction == types.PredictionUnknown {
				st.Unknown++
			}
			if rec.Truth != nil {
				st.Graded++
				if rec.Correct() {
					st.Correct++
				}
			}
		}
	}
	return st
}

// GetStats 读取全部记录并统计。
func GetStats(ctx context.Context, s Store) (*Stats, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeStats(records), nil
}

// Open 按配置打开存储后端。
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(FileStoreConfig{
			Path:            cfg.Path,
			BackupDir:       cfg.BackupDir,
			ReadRetryDelay:  cfg.ReadRetryDelay,
			MaxReadAttempts: cfg.MaxReadAttempts,
		}, logger)
	case "redis":
		return NewRedisStore(ctx, cfg.Redis, logger)
	case "sql":
		return NewSQLStore(cfg.Database, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// LoadRecords 读取题库 JSON 文件。
func LoadRecords(path string) ([]*types.QuestionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	return DecodeRecords(data)
}

// Import 校验记录后导入 dst。
func Import(ctx context.Context, dst Importer, records []*types.QuestionRecord) (int, error) {
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, err
		}
	}
	return dst.Import(ctx, records)
}

// Backup 将全部记录导出为题库格式的时间戳快照，返回文件路径。
func Backup(ctx context.Context, s Store, dir string, now time.Time) (string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	data, err := EncodeRecords(records)
	if err != nil {
		return "", err
	}
	return writeBackup(dir, data, now)
}

func writeBackup(dir string, data []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(dir, "backup_"+now.Format("20060102-150405.000")+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// writeFileAtomic 先写临时文件再 rename，读者看不到半写状态。
func writeFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
