package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/ar-cache/internal/cache"
	"github.com/any-hub/ar-cache/internal/config"
	"github.com/any-hub/ar-cache/internal/logging"
	"github.com/any-hub/ar-cache/internal/maintenance"
	"github.com/any-hub/ar-cache/internal/marker"
	"github.com/any-hub/ar-cache/internal/server"
	"github.com/any-hub/ar-cache/internal/server/routes"
	"github.com/any-hub/ar-cache/internal/version"
	"github.com/any-hub/ar-cache/internal/viewer"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	sweepOnly   bool
	patternPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}
	if opts.patternPath != "" {
		return runPattern(opts.patternPath)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origins"] = config.OriginNames(cfg.Origins)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建来源注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序为“配置 → 来源注册表 → 资源缓存 → Fiber server”，
	// 所有请求共享同一个缓存实例与 HTTP client。
	assets := newAssetCache(cfg, logger)
	defer assets.Close()

	sweeper := maintenance.NewSweeper(assets, logger, maintenance.WithSchedule(cfg.Global.SweepSchedule))

	if opts.sweepOnly {
		if err := sweeper.RunOnce(context.Background()); err != nil {
			fmt.Fprintf(stdErr, "缓存清理失败: %v\n", err)
			return 1
		}
		stats := assets.Stats(context.Background())
		fields := logging.BaseFields("sweep", opts.configPath)
		fields["count"] = stats.Count
		fields["total_size_bytes"] = stats.TotalSizeBytes
		logger.WithFields(fields).Info("缓存清理完成")
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = config.OriginNames(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["max_cache_bytes"] = cfg.Global.MaxCacheSizeBytes()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := sweeper.Start(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "缓存维护任务启动失败: %v\n", err)
		return 1
	}
	defer sweeper.Stop()

	if err := startHTTPServer(cfg, registry, assets, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func newAssetCache(cfg *config.Config, logger *logrus.Logger) *cache.AssetCache {
	return cache.New(cache.Options{
		StoragePath:   cfg.Global.StoragePath,
		TTL:           cfg.Global.CacheTTL.DurationValue(),
		MaxSizeBytes:  cfg.Global.MaxCacheSizeBytes(),
		HighWatermark: cfg.Global.EvictHighWatermark,
		LowWatermark:  cfg.Global.EvictLowWatermark,
		Client:        server.NewFetchClient(cfg),
		Logger:        logger,
	})
}

// runPattern 把一张标记图编码为 .patt 输出到 stdout，质量警告写入 stderr。
func runPattern(path string) int {
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(stdErr, "读取标记图失败: %v\n", err)
		return 1
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		fmt.Fprintf(stdErr, "读取标记图失败: %v\n", err)
		return 1
	}
	if err := marker.CheckUpload(info.Name(), info.Size()); err != nil {
		fmt.Fprintf(stdErr, "标记图无效: %v\n", err)
		return 1
	}
	img, err := marker.Decode(file)
	if err != nil {
		fmt.Fprintf(stdErr, "标记图无效: %v\n", err)
		return 1
	}
	report, err := marker.Validate(info.Name(), info.Size(), img)
	if err != nil {
		fmt.Fprintf(stdErr, "标记图无效: %v\n", err)
		return 1
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(stdErr, "warning: %s\n", warning)
	}
	fmt.Fprint(stdOut, marker.EncodePattern(img))
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("ar-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		sweepOnly   bool
		patternPath string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 AR_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&sweepOnly, "sweep", false, "执行一次过期清理与容量淘汰后退出")
	fs.StringVar(&patternPath, "pattern", "", "把指定标记图编码为 .patt 并输出到 stdout")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("AR_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		sweepOnly:   sweepOnly,
		patternPath: patternPath,
	}, nil
}

func startHTTPServer(cfg *config.Config, registry *server.OriginRegistry, assets *cache.AssetCache, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Origins:    registry,
		Viewer:     viewer.NewHandler(assets, logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, assets, logger)
	routes.RegisterOriginRoutes(app, registry)
	routes.RegisterMarkerRoutes(app, logger)
	routes.RegisterMetricsRoute(app)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
