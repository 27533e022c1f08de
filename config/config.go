package config

import (
	"errors"
	"fmt"
	"time"
)

// Config 是 egoqa 的完整配置结构
type Config struct {
	// Store 题库存储配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// LLM 文本模型配置（persona、supervisor、参与者、答案重写）
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Vision 视觉模型与抽帧配置
	Vision VisionConfig `yaml:"vision" env:"VISION"`

	// Captions 字幕工具配置
	Captions CaptionsConfig `yaml:"captions" env:"CAPTIONS"`

	// Agent 审议配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Worker 工作循环配置
	Worker WorkerConfig `yaml:"worker" env:"WORKER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StoreConfig 题库存储配置
type StoreConfig struct {
	// 后端: file, redis, sql
	Backend string `yaml:"backend" env:"BACKEND"`
	// 题库 JSON 文件路径（file 后端；import 的来源）
	Path string `yaml:"path" env:"PATH"`
	// 备份目录，为空时不备份
	BackupDir string `yaml:"backup_dir" env:"BACKUP_DIR"`
	// 读取失败后的重试间隔
	ReadRetryDelay time.Duration `yaml:"read_retry_delay" env:"READ_RETRY_DELAY"`
	// 最大读取次数，0 表示不限
	MaxReadAttempts int `yaml:"max_read_attempts" env:"MAX_READ_ATTEMPTS"`
	// Redis 后端
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQL 后端
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider 名称（日志与指标标签）
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大尝试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 每秒请求数上限，0 表示不限
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 令牌桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// VisionConfig 视觉模型配置
type VisionConfig struct {
	// 模型，为空时使用 LLM.Model
	Model string `yaml:"model" env:"MODEL"`
	// 抽帧根目录，每个视频一个子目录
	FramesDir string `yaml:"frames_dir" env:"FRAMES_DIR"`
	// persona 选择时发送的帧数
	FrameCount int `yaml:"frame_count" env:"FRAME_COUNT"`
	// analyze_video 工具发送的帧数
	ToolFrameCount int `yaml:"tool_frame_count" env:"TOOL_FRAME_COUNT"`
	// 图片 detail: low, high, auto
	Detail string `yaml:"detail" env:"DETAIL"`
	// 温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CaptionsConfig 字幕工具配置
type CaptionsConfig struct {
	// 字幕 JSON 文件，为空时不注册字幕工具
	Path string `yaml:"path" env:"PATH"`
	// 模型，为空时使用 LLM.Model
	Model string `yaml:"model" env:"MODEL"`
	// 温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// AgentConfig 审议配置
type AgentConfig struct {
	// persona 选择最大尝试次数
	PersonaAttempts int `yaml:"persona_attempts" env:"PERSONA_ATTEMPTS"`
	// persona 解析失败后的等待
	PersonaRetryDelay time.Duration `yaml:"persona_retry_delay" env:"PERSONA_RETRY_DELAY"`
	// persona 选择时是否附带视频帧
	PersonaWithFrames bool `yaml:"persona_with_frames" env:"PERSONA_WITH_FRAMES"`
	// persona 选择温度
	PersonaTemperature float64 `yaml:"persona_temperature" env:"PERSONA_TEMPERATURE"`
	// 参与者与 supervisor 温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 审议最大步数（supervisor 与参与者访问都计数）
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// 路由无效时的最大询问次数
	RouteAttempts int `yaml:"route_attempts" env:"ROUTE_ATTEMPTS"`
	// 每个参与者只发言一次
	StrictTurns bool `yaml:"strict_turns" env:"STRICT_TURNS"`
	// 参与者单次发言的工具循环上限
	MaxToolIterations int `yaml:"max_tool_iterations" env:"MAX_TOOL_ITERATIONS"`
	// 工具执行超时
	ToolTimeout time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	// 整条流水线的最大执行次数（答案无法抽取时重跑）
	DeliberationAttempts int `yaml:"deliberation_attempts" env:"DELIBERATION_ATTEMPTS"`
	// 重跑前的等待
	DeliberationRetryDelay time.Duration `yaml:"deliberation_retry_delay" env:"DELIBERATION_RETRY_DELAY"`
	// 答案重写温度
	ReformatTemperature float64 `yaml:"reformat_temperature" env:"REFORMAT_TEMPERATURE"`
	// 单次文本调用的最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// WorkerConfig 工作循环配置
type WorkerConfig struct {
	// 进程内并发的循环数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// 启动随机等待上限
	StartupJitter time.Duration `yaml:"startup_jitter" env:"STARTUP_JITTER"`
	// 单次迭代失败后的等待
	FailureDelay time.Duration `yaml:"failure_delay" env:"FAILURE_DELAY"`
	// 失败时是否撤销领取
	UnclaimOnFailure bool `yaml:"unclaim_on_failure" env:"UNCLAIM_ON_FAILURE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否暴露 /metrics
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate 检查跨字段约束，返回所有问题的合并错误
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			bad("store.path is required for the file backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			bad("store.redis.addr is required for the redis backend")
		}
	case "sql":
		switch c.Store.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			bad("unsupported database driver %q", c.Store.Database.Driver)
		}
	default:
		bad("unsupported store backend %q", c.Store.Backend)
	}

	if c.LLM.Model == "" {
		bad("llm.model is required")
	}
	if c.Agent.MaxSteps <= 0 {
		bad("agent.max_steps must be positive")
	}
	if c.Agent.PersonaAttempts <= 0 || c.Agent.DeliberationAttempts <= 0 || c.Agent.RouteAttempts <= 0 {
		bad("agent attempts must be positive")
	}
	for name, t := range map[string]float64{
		"agent.temperature":         c.Agent.Temperature,
		"agent.persona_temperature": c.Agent.PersonaTemperature,
		"vision.temperature":        c.Vision.Temperature,
	} {
		if t < 0 || t > 2 {
			bad("%s must be between 0 and 2", name)
		}
	}
	if c.Worker.Concurrency <= 0 {
		bad("worker.concurrency must be positive")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DSN 按驱动拼接连接串；sqlite 直接使用 Name 作为文件路径。未知驱动返回空串。
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}
