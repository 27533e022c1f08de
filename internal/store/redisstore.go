package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/egoqa/config"
	"github.com/BaSui01/egoqa/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis 键布局（<prefix> 默认为 egoqa）:
//
//	<prefix>:seq      插入序号计数器
//	<prefix>:order    zset，全部记录，score 为插入序号
//	<prefix>:pending  zset，未领取记录，score 为插入序号
//	<prefix>:records  hash，id -> 记录 JSON（题目、选项、truth、额外字段）
//	<prefix>:status   hash，id -> unclaimed/processing/done
//	<prefix>:results  hash，id -> 结果 JSON

// claimScript 弹出 pending 中序号最小的 id 并标记 processing。
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('HSET', KEYS[2], id, 'processing')
return id
`)

// unclaimScript 返回 -1 记录不存在，0 不在 processing，1 已撤销。
var unclaimScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[4], ARGV[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[2], ARGV[1]) ~= 'processing' then
  return 0
end
local score = redis.call('ZSCORE', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], 'unclaimed')
redis.call('ZADD', KEYS[1], score, ARGV[1])
return 1
`)

// importScript 仅在 id 不存在时写入记录。
var importScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[3], seq, ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
if ARGV[3] == 'unclaimed' then
  redis.call('ZADD', KEYS[5], seq, ARGV[1])
end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[6], ARGV[1], ARGV[4])
end
return 1
`)

// RedisStore 以 Redis 保存题库，领取与撤销通过 Lua 脚本保证原子性。
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore 连接 Redis 并创建存储。
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStoreWithClient 使用已有客户端创建存储。
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "egoqa"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

func (s *RedisStore) key(name string) string { return s.prefix + ":" + name }

func (s *RedisStore) ClaimNext(ctx context.Context) (*types.QuestionRecord, error) {
	id, err := claimScript.Run(ctx, s.client, []string{s.key("pending"), s.key("status")}).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	s.logger.Debug("record claimed", zap.String("id", id))
	return s.Get(ctx, id)
}

func (s *RedisStore) WriteResult(ctx context.Context, id string, result *types.Result) error {
	if result == nil {
		return fmt.Errorf("write result %s: nil result", id)
	}
	exists, err := s.client.HExists(ctx, s.key("records"), id).Result()
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("results"), id, payload)
		pipe.HSet(ctx, s.key("status"), id, string(types.StatusDone))
		pipe.ZRem(ctx, s.key("pending"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (s *RedisStore) Unclaim(ctx context.Context, id string) (bool, error) {
	n, err := unclaimScript.Run(ctx, s.client,
		[]string{s.key("pending"), s.key("status"), s.key("order"), s.key("records")}, id).Int()
	if err != nil {
		return false, fmt.Errorf("unclaim: %w", err)
	}
	if n < 0 {
		return false, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*types.QuestionRecord, error) {
	recs, err := s.load(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if recs[0] == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
	}
	return recs[0], nil
}

func (s *RedisStore) List(ctx context.Context) ([]*types.QuestionRecord, error) {
	ids, err := s.client.ZRange(ctx, s.key("order"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if len(ids) == 0 {
		return []*types.QuestionRecord{}, nil
	}
	recs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*types.QuestionRecord, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// load 批量读取记录，不存在的 id 对应 nil。
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*types.QuestionRecord, error) {
	var recCmd, statusCmd, resultCmd *redis.SliceCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		recCmd = pipe.HMGet(ctx, s.key("records"), ids...)
		statusCmd = pipe.HMGet(ctx, s.key("status"), ids...)
		resultCmd = pipe.HMGet(ctx, s.key("results"), ids...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	raws, statuses, results := recCmd.Val(), statusCmd.Val(), resultCmd.Val()

	out := make([]*types.QuestionRecord, len(ids))
	for i, id := range ids {
		raw, ok := raws[i].(string)
		if !ok {
			continue
		}
		e, err := parseEntry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidRecord, id, err)
		}
		rec, err := e.record(id)
		if err != nil {
			return nil, err
		}
		if st, ok := statuses[i].(string); ok {
			rec.Status = types.Status(st)
		}
		if payload, ok := results[i].(string); ok && rec.Status == types.StatusDone {
			var res types.Result
			if err := json.Unmarshal([]byte(payload), &res); err != nil {
				return nil, fmt.Errorf("%w: %s result: %v", types.ErrInvalidRecord, id, err)
			}
			rec.Result = &res
		}
		out[i] = rec
	}
	return out, nil
}

// Import 写入不存在的记录，保持输入顺序。
func (s *RedisStore) Import(ctx context.Context, records []*types.QuestionRecord) (int, error) {
	keys := []string{
		s.key("records"), s.key("seq"), s.key("order"),
		s.key("status"), s.key("pending"), s.key("results"),
	}
	added := 0
	for _, rec := range records {
		raw, status, payload, err := splitRecord(rec)
		if err != nil {
			return added, err
		}
		n, err := importScript.Run(ctx, s.client, keys, rec.ID, raw, string(status), payload).Int()
		if err != nil {
			return added, fmt.Errorf("import %s: %w", rec.ID, err)
		}
		added += n
	}
	s.logger.Info("records imported", zap.Int("added", added), zap.Int("total", len(records)))
	return added, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
