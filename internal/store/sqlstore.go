package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/egoqa/config"
	"github.com/BaSui01/egoqa/types"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// questionRow 题库表的一行。
type questionRow struct {
	ID string `gorm:"primaryKey;size:191"`
	// Seq 插入序号，决定领取顺序
	Seq    int64  `gorm:"uniqueIndex;not null"`
	Status string `gorm:"index;size:16;not null"`
	// Record 题目、选项、truth 与额外字段的 JSON
	Record string `gorm:"type:text;not null"`
	// Result 结果 JSON，未完成时为空
	Result string `gorm:"type:text"`
}

func (questionRow) TableName() string { return "questions" }

// errLostClaim 条件 UPDATE 影响 0 行，记录已被其他 worker 领取。
var errLostClaim = errors.New("claim lost to another worker")

// SQLStore 以关系数据库保存题库。
// 领取在一个事务内完成：选出最小 seq（postgres/mysql 加 FOR UPDATE SKIP LOCKED）后条件 UPDATE。
type SQLStore struct {
	db *gorm.DB
	// rowLocking 方言支持 SELECT ... FOR UPDATE SKIP LOCKED
	rowLocking bool
	logger     *zap.Logger
}

// OpenDialector 按驱动名构造 gorm dialector。
func OpenDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewSQLStore 连接数据库、配置连接池并迁移表结构。
func NewSQLStore(cfg config.DatabaseConfig, log *zap.Logger) (*SQLStore, error) {
	dialector, err := OpenDialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewSQLStoreWithDB(db, log)
}

// NewSQLStoreWithDB 使用已有连接创建存储并迁移表结构。
func NewSQLStoreWithDB(db *gorm.DB, log *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&questionRow{}); err != nil {
		return nil, fmt.Errorf("migrate questions table: %w", err)
	}
	return &SQLStore{
		db:         db,
		rowLocking: supportsRowLocking(db.Dialector.Name()),
		logger:     log.With(zap.String("component", "sql_store")),
	}, nil
}

func supportsRowLocking(dialect string) bool {
	switch dialect {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

func (s *SQLStore) ClaimNext(ctx context.Context) (*types.QuestionRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var row questionRow
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Where("status = ?", string(types.StatusUnclaimed)).Order("seq ASC")
			if s.rowLocking {
				q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
			}
			if err := q.Take(&row).Error; err != nil {
				return err
			}
			res := tx.Model(&questionRow{}).
				Where("id = ? AND status = ?", row.ID, string(types.StatusUnclaimed)).
				Update("status", string(types.StatusProcessing))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return errLostClaim
			}
			return nil
		})
		switch {
		case err == nil:
			row.Status = string(types.StatusProcessing)
			s.logger.Debug("record claimed", zap.String("id", row.ID))
			return rowToRecord(&row)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, nil
		case errors.Is(err, errLostClaim):
			// sqlite 没有行锁，被其他连接抢先后重新选择
			continue
		default:
			return nil, fmt.Errorf("claim: %w", err)
		}
	}
}

func (s *SQLStore) WriteResult(ctx context.Context, id string, result *types.Result) error {
	if result == nil {
		return fmt.Errorf("write result %s: nil result", id)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&questionRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": string(types.StatusDone),
			"result": string(payload),
		})
	if res.Error != nil {
		return fmt.Errorf("write result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 部分驱动在值未变化时返回 0，需再确认记录是否存在
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Unclaim(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&questionRow{}).
		Where("id = ? AND status = ?", id, string(types.StatusProcessing)).
		Update("status", string(types.StatusUnclaimed))
	if res.Error != nil {
		return false, fmt.Errorf("unclaim: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*types.QuestionRecord, error) {
	var row questionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return rowToRecord(&row)
}

func (s *SQLStore) List(ctx context.Context) ([]*types.QuestionRecord, error) {
	var rows []questionRow
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	out := make([]*types.QuestionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Import 在一个事务内追加不存在的记录，seq 接续当前最大值。
func (s *SQLStore) Import(ctx context.Context, records []*types.QuestionRecord) (int, error) {
	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&questionRow{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		for _, rec := range records {
			var count int64
			if err := tx.Model(&questionRow{}).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			row, err := recordToRow(rec)
			if err != nil {
				return err
			}
			maxSeq++
			row.Seq = maxSeq
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	s.logger.Info("records imported", zap.Int("added", added), zap.Int("total", len(records)))
	return added, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordToRow(rec *types.QuestionRecord) (*questionRow, error) {
	raw, status, payload, err := splitRecord(rec)
	if err != nil {
		return nil, err
	}
	return &questionRow{ID: rec.ID, Status: string(status), Record: raw, Result: payload}, nil
}

func rowToRecord(row *questionRow) (*types.QuestionRecord, error) {
	e, err := parseEntry([]byte(row.Record))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidRecord, row.ID, err)
	}
	rec, err := e.record(row.ID)
	if err != nil {
		return nil, err
	}
	rec.Status = types.Status(row.Status)
	if rec.Status == types.StatusDone && row.Result != "" {
		var res types.Result
		if err := json.Unmarshal([]byte(row.Result), &res); err != nil {
			return nil, fmt.Errorf("%w: %s result: %v", types.ErrInvalidRecord, row.ID, err)
		}
		rec.Result = &res
	}
	return rec, nil
}
