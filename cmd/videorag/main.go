// =============================================================================
// VideoRAG 主入口
// =============================================================================
// 证据接地的视频查询管道命令行入口
//
// 使用方法:
//
//	videorag run                        # 用内置红色 SUV 场景跑一次完整管道
//	videorag run --fixture routes       # 选择内置场景 (red_suv|routes|ambiguous)
//	videorag run --config config.yaml   # 指定配置文件
//	videorag validate --config c.yaml   # 校验配置
//	videorag version                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/videorag/config"
	"github.com/BaSui01/videorag/fixtures"
	"github.com/BaSui01/videorag/internal/metrics"
	"github.com/BaSui01/videorag/internal/server"
	"github.com/BaSui01/videorag/internal/telemetry"
	"github.com/BaSui01/videorag/pipeline"
	"github.com/BaSui01/videorag/stores"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPipeline(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ run 命令
// =============================================================================

func runPipeline(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fixtureName := fs.String("fixture", "red_suv", "Built-in scenario: red_suv, routes or ambiguous")
	pretty := fs.Bool("pretty", true, "Pretty-print the run result")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting VideoRAG",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		collector = metrics.NewCollector(cfg.Metrics.Namespace, registry, logger)

		opsCfg := server.DefaultConfig()
		opsCfg.Addr = cfg.Metrics.Addr
		ops := server.NewOps(registry, opsCfg, logger)
		if err := ops.Start(); err != nil {
			logger.Fatal("ops server start failed", zap.Error(err))
		}
		defer ops.Shutdown(context.Background())
	}

	cache, err := stores.NewFeatureCache(stores.CacheOptions{
		Backend:  cfg.Cache.Backend,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		TTL:      cfg.Cache.TTL,
	}, logger)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer cache.Close()

	graph, err := stores.NewGraphStore(cfg.Graph.Backend, cfg.Graph.DSN, logger)
	if err != nil {
		logger.Fatal("graph store init failed", zap.Error(err))
	}
	defer graph.Close()

	engine, err := pipeline.NewEngine(pipeline.Options{
		Config:    cfg,
		Cache:     cache,
		Graph:     graph,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, pickFixture(*fixtureName))
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	printResult(result, *pretty)
	if result.FinalStage != types.StageDone {
		os.Exit(2)
	}
}

func pickFixture(name string) types.QueryRequest {
	switch name {
	case "red_suv":
		return fixtures.RedSUVRequest()
	case "routes":
		return fixtures.RouteCoverageRequest()
	case "ambiguous":
		return fixtures.AmbiguousPersonRequest()
	default:
		fmt.Fprintf(os.Stderr, "Unknown fixture: %s\n", name)
		os.Exit(1)
		return types.QueryRequest{}
	}
}

func printResult(result *types.RunResult, pretty bool) {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = json.Marshal(result)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Config OK")
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
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

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion() {
	fmt.Printf("VideoRAG %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`VideoRAG - Evidence-grounded video query pipeline

Usage:
  videorag <command> [options]

Commands:
  run       Execute the full pipeline against a built-in scenario
  validate  Validate a configuration file
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>     Path to configuration file (YAML)
  --fixture <name>    Scenario: red_suv (default), routes, ambiguous
  --pretty            Pretty-print the JSON result (default true)

Examples:
  videorag run
  videorag run --fixture ambiguous
  videorag run --config /etc/videorag/config.yaml
  videorag validate --config config.yaml
  videorag version`)
}
