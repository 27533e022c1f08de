package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/egoqa/agent/answer"
	"github.com/BaSui01/egoqa/agent/deliberation"
	"github.com/BaSui01/egoqa/agent/persona"
	"github.com/BaSui01/egoqa/config"
	"github.com/BaSui01/egoqa/internal/metrics"
	"github.com/BaSui01/egoqa/internal/server"
	"github.com/BaSui01/egoqa/internal/store"
	"github.com/BaSui01/egoqa/internal/telemetry"
	"github.com/BaSui01/egoqa/internal/worker"
	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/llm/providers/openaicompat"
	"github.com/BaSui01/egoqa/llm/retry"
	"github.com/BaSui01/egoqa/llm/tools"
	"github.com/BaSui01/egoqa/tools/video"
	"github.com/BaSui01/egoqa/workflow"
)

// =============================================================================
// 🏃 run 命令
// =============================================================================

func runWorkers(args []string) error {
	fs, configPath := newFlagSet("run")
	concurrency := fs.Int("concurrency", 0, "Number of worker loops in this process (overrides worker.concurrency)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting egoqa",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("store", cfg.Store.Backend),
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(cfg.Telemetry, instanceID(), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)

	base, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer base.Close()
	st := store.Instrument(base, collector)

	pipeline, err := buildPipeline(cfg, collector, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		ops := server.NewManager(
			server.NewHandler(reg, func(ctx context.Context) (*store.Stats, error) {
				return store.GetStats(ctx, base)
			}, logger),
			server.Config{
				Addr:            cfg.Metrics.Addr,
				ReadTimeout:     10 * time.Second,
				WriteTimeout:    30 * time.Second,
				ShutdownTimeout: 5 * time.Second,
			},
			logger,
		)
		if err := ops.Start(); err != nil {
			return err
		}
		defer func() { _ = ops.Shutdown(context.Background()) }()
	}

	workerCfg := worker.Config{
		StartupJitter:    cfg.Worker.StartupJitter,
		FailureDelay:     cfg.Worker.FailureDelay,
		UnclaimOnFailure: cfg.Worker.UnclaimOnFailure,
	}
	err = worker.RunPool(ctx, cfg.Worker.Concurrency, func(int) *worker.Loop {
		return worker.NewLoop(st, pipeline, workerCfg, collector, logger)
	})
	if errors.Is(err, context.Canceled) {
		logger.Info("egoqa interrupted")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("egoqa finished")
	return nil
}

// buildPipeline 组装 provider → 工具目录 → persona / 审议图 / 答案抽取 → QAPipeline
func buildPipeline(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*workflow.QAPipeline, error) {
	provider := newProvider(cfg.LLM, collector, logger)

	textModel := cfg.LLM.Model
	visionModel := cfg.Vision.Model
	if visionModel == "" {
		visionModel = textModel
	}

	frames := &video.FrameSource{Dir: cfg.Vision.FramesDir, Detail: cfg.Vision.Detail}
	analyzer := video.NewFrameAnalyzer(frames, provider, video.FrameAnalyzerConfig{
		Model:       visionModel,
		FrameCount:  cfg.Vision.ToolFrameCount,
		Temperature: float32(cfg.Vision.Temperature),
		MaxTokens:   cfg.Vision.MaxTokens,
		Timeout:     cfg.Vision.Timeout,
	}, logger)

	var answerer *video.CaptionAnswerer
	if cfg.Captions.Path != "" {
		index, err := video.LoadCaptions(cfg.Captions.Path)
		if err != nil {
			return nil, fmt.Errorf("load captions: %w", err)
		}
		captionModel := cfg.Captions.Model
		if captionModel == "" {
			captionModel = textModel
		}
		answerer = video.NewCaptionAnswerer(index, provider, video.CaptionAnswererConfig{
			Model:       captionModel,
			Temperature: float32(cfg.Captions.Temperature),
			MaxTokens:   cfg.Captions.MaxTokens,
		}, logger)
	}

	catalog := tools.NewCatalog(logger)
	if err := video.Register(catalog, analyzer, answerer, cfg.Agent.ToolTimeout); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	var images persona.ImageSource
	if cfg.Agent.PersonaWithFrames {
		images = frames
	}
	selector := persona.NewSelector(provider, images, persona.Config{
		Model:       visionModel,
		Temperature: float32(cfg.Agent.PersonaTemperature),
		MaxTokens:   cfg.Agent.MaxTokens,
		Attempts:    cfg.Agent.PersonaAttempts,
		RetryDelay:  cfg.Agent.PersonaRetryDelay,
		WithFrames:  cfg.Agent.PersonaWithFrames,
		FrameCount:  cfg.Vision.FrameCount,
	}, logger)

	router := deliberation.NewSupervisorRouter(provider, deliberation.Members, deliberation.RouterConfig{
		Model:       textModel,
		Temperature: float32(cfg.Agent.Temperature),
		MaxTokens:   cfg.Agent.MaxTokens,
		Attempts:    cfg.Agent.RouteAttempts,
	}, logger)
	speaker := deliberation.NewAgentSpeaker(provider, catalog, deliberation.SpeakerConfig{
		Model:         textModel,
		Temperature:   float32(cfg.Agent.Temperature),
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxToolIterations,
	}, logger)
	graph := deliberation.NewGraph(router, speaker, deliberation.Config{
		MaxSteps: cfg.Agent.MaxSteps,
		Mode:     deliberation.TurnModeFor(cfg.Agent.StrictTurns),
		Tools:    availableTools(deliberation.DefaultToolAssignments(), catalog),
	}, collector, logger)

	extractor := answer.NewExtractor(provider, answer.Config{
		Model:       textModel,
		Temperature: float32(cfg.Agent.ReformatTemperature),
		MaxTokens:   cfg.Agent.MaxTokens,
	}, logger)

	return workflow.NewQAPipeline(selector, graph, extractor, workflow.PipelineConfig{
		Attempts:   cfg.Agent.DeliberationAttempts,
		RetryDelay: cfg.Agent.DeliberationRetryDelay,
	}, logger), nil
}

// newProvider 创建带固定间隔重试与限流的 OpenAI 兼容 Provider
func newProvider(cfg config.LLMConfig, observer llm.RequestObserver, logger *zap.Logger) *llm.ResilientProvider {
	base := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.Provider,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger)

	return llm.NewResilientProvider(base, &llm.ResilientProviderConfig{
		RetryPolicy:    retry.FixedDelayPolicy(cfg.MaxRetries, cfg.RetryDelay),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		DefaultModel:   cfg.Model,
		Timeout:        cfg.Timeout,
	}, observer, logger)
}

// availableTools 去掉目录中未注册的工具（例如未配置字幕文件）
func availableTools(assignments map[string][]string, catalog *tools.Catalog) map[string][]string {
	out := make(map[string][]string, len(assignments))
	for member, names := range assignments {
		kept := make([]string, 0, len(names))
		for _, name := range names {
			if catalog.Has(name) {
				kept = append(kept, name)
			}
		}
		out[member] = kept
	}
	return out
}

// instanceID 进程标识，写入遥测资源属性
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
