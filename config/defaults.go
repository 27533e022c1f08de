// =============================================================================
// 📦 egoqa 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Store:     DefaultStoreConfig(),
		LLM:       DefaultLLMConfig(),
		Vision:    DefaultVisionConfig(),
		Captions:  DefaultCaptionsConfig(),
		Agent:     DefaultAgentConfig(),
		Worker:    DefaultWorkerConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:        "file",
		Path:           "questions.json",
		ReadRetryDelay: time.Second,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "egoqa",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			User:            "egoqa",
			Name:            "egoqa.db",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		BaseURL:        "https://api.openai.com",
		Model:          "gpt-4o",
		Timeout:        2 * time.Minute,
		MaxRetries:     3,
		RetryDelay:     3 * time.Second,
		RateLimitBurst: 1,
	}
}

// DefaultVisionConfig 返回默认视觉配置
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		FramesDir:      "images",
		FrameCount:     18,
		ToolFrameCount: 90,
		Detail:         "low",
		Temperature:    0.7,
		MaxTokens:      3000,
		Timeout:        3 * time.Minute,
	}
}

// DefaultCaptionsConfig 返回默认字幕配置
func DefaultCaptionsConfig() CaptionsConfig {
	return CaptionsConfig{
		Temperature: 0.7,
		MaxTokens:   3000,
	}
}

// DefaultAgentConfig 返回默认审议配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		PersonaAttempts:        5,
		PersonaRetryDelay:      3 * time.Second,
		PersonaWithFrames:      true,
		PersonaTemperature:     0.7,
		Temperature:            0,
		MaxSteps:               20,
		RouteAttempts:          3,
		StrictTurns:            true,
		MaxToolIterations:      5,
		ToolTimeout:            5 * time.Minute,
		DeliberationAttempts:   3,
		DeliberationRetryDelay: time.Second,
		ReformatTemperature:    0.7,
		MaxTokens:              3000,
	}
}

// DefaultWorkerConfig 返回默认 worker 配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:   1,
		StartupJitter: 10 * time.Second,
		FailureDelay:  time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "egoqa",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "egoqa",
		SampleRate:   0.1,
	}
}
