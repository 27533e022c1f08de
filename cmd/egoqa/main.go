// =============================================================================
// egoqa 主入口
// =============================================================================
// 使用方法:
//
//	egoqa run --config config.yaml            # 启动 worker
//	egoqa run --concurrency 4                 # 同一进程内 4 个循环
//	egoqa status --config config.yaml         # 查看进度
//	egoqa unclaim --config config.yaml v12    # 撤销领取
//	egoqa import --file questions.json        # 导入到 Redis/SQL
//	egoqa backup --dir backups                # 导出快照
//	egoqa version                             # 显示版本信息
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/egoqa/config"
	"github.com/BaSui01/egoqa/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envPrefix 环境变量前缀
const envPrefix = "EGOQA"

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runWorkers(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "unclaim":
		err = runUnclaim(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "egoqa %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig 按 默认值 → YAML → 环境变量 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix(envPrefix)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newFlagSet 创建带 --config 的子命令参数集
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	return fs, configPath
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("egoqa %s\n", Version)
	fmt.Printf("  Module:     %s\n", telemetry.Version())
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`egoqa - multi-agent egocentric video QA worker

Usage:
  egoqa <command> [options]

Commands:
  run       Claim questions and solve them until the store is exhausted
  status    Show progress and accuracy of the question store
  unclaim   Revert processing records to unclaimed
  import    Import a question file into the configured store
  backup    Write a timestamped snapshot of the question store
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  egoqa run --config config.yaml
  egoqa run --concurrency 4
  egoqa status --json
  egoqa unclaim v12 v13
  egoqa import --file questions.json
  egoqa backup --dir backups`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
