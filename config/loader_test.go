// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 存储
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, time.Second, cfg.Store.ReadRetryDelay)
	assert.Equal(t, 0, cfg.Store.MaxReadAttempts)
	assert.Equal(t, "sqlite", cfg.Store.Database.Driver)

	// LLM 调用：3 次尝试，固定 3s 间隔
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.LLM.RetryDelay)

	// 视觉
	assert.Equal(t, 18, cfg.Vision.FrameCount)
	assert.Equal(t, 90, cfg.Vision.ToolFrameCount)
	assert.Equal(t, "low", cfg.Vision.Detail)

	// 审议
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
	assert.True(t, cfg.Agent.StrictTurns)
	assert.Equal(t, 5, cfg.Agent.PersonaAttempts)
	assert.Equal(t, 3, cfg.Agent.DeliberationAttempts)
	assert.Equal(t, 0.0, cfg.Agent.Temperature)

	// worker
	assert.Equal(t, 10*time.Second, cfg.Worker.StartupJitter)
	assert.Equal(t, time.Second, cfg.Worker.FailureDelay)
	assert.False(t, cfg.Worker.UnclaimOnFailure)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)

	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  backend: redis
  redis:
    addr: "redis.example.com:6379"
    db: 2
llm:
  model: "gpt-4o-mini"
  timeout: 30s
agent:
  max_steps: 12
  strict_turns: false
worker:
  concurrency: 4
  unclaim_on_failure: true
log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, "egoqa", cfg.Store.Redis.KeyPrefix, "unset nested fields keep defaults")
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 12, cfg.Agent.MaxSteps)
	assert.False(t, cfg.Agent.StrictTurns)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.True(t, cfg.Worker.UnclaimOnFailure)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("EGOQA_STORE_PATH", "/data/questions.json")
	t.Setenv("EGOQA_LLM_RATE_LIMIT_RPS", "2.5")
	t.Setenv("EGOQA_AGENT_MAX_STEPS", "8")
	t.Setenv("EGOQA_AGENT_STRICT_TURNS", "false")
	t.Setenv("EGOQA_WORKER_STARTUP_JITTER", "250ms")
	t.Setenv("EGOQA_LOG_OUTPUT_PATHS", "stdout, /var/log/egoqa.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/questions.json", cfg.Store.Path)
	assert.Equal(t, 2.5, cfg.LLM.RateLimitRPS)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.False(t, cfg.Agent.StrictTurns)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.StartupJitter)
	assert.Equal(t, []string{"stdout", "/var/log/egoqa.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
llm:
  model: "yaml-model"
  base_url: "http://yaml"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))
	t.Setenv("EGOQA_LLM_MODEL", "env-model")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "http://yaml", cfg.LLM.BaseURL)
}

func TestLoader_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("EGOQA_LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)

	t.Setenv("EGOQA_LLM_API_KEY", "sk-explicit")
	cfg, err = NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.LLM.APIKey)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_WORKER_CONCURRENCY", "6")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Worker.Concurrency)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("EGOQA_AGENT_MAX_STEPS", "many")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("EGOQA_STORE_BACKEND", "mongo")

	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
agent:
  max_steps: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "unknown backend", modify: func(c *Config) { c.Store.Backend = "etcd" }, wantErr: true},
		{name: "file backend without path", modify: func(c *Config) { c.Store.Path = "" }, wantErr: true},
		{name: "redis backend", modify: func(c *Config) { c.Store.Backend = "redis" }},
		{name: "redis backend without addr", modify: func(c *Config) {
			c.Store.Backend = "redis"
			c.Store.Redis.Addr = ""
		}, wantErr: true},
		{name: "sql backend with unknown driver", modify: func(c *Config) {
			c.Store.Backend = "sql"
			c.Store.Database.Driver = "oracle"
		}, wantErr: true},
		{name: "empty model", modify: func(c *Config) { c.LLM.Model = "" }, wantErr: true},
		{name: "zero max steps", modify: func(c *Config) { c.Agent.MaxSteps = 0 }, wantErr: true},
		{name: "zero persona attempts", modify: func(c *Config) { c.Agent.PersonaAttempts = 0 }, wantErr: true},
		{name: "temperature too high", modify: func(c *Config) { c.Agent.Temperature = 3.0 }, wantErr: true},
		{name: "zero concurrency", modify: func(c *Config) { c.Worker.Concurrency = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}
