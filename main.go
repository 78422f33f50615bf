package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/any-hub/diskcache/internal/cache"
	"github.com/any-hub/diskcache/internal/config"
	"github.com/any-hub/diskcache/internal/handler"
	"github.com/any-hub/diskcache/internal/logging"
	"github.com/any-hub/diskcache/internal/server"
	"github.com/any-hub/diskcache/internal/server/routes"
	"github.com/any-hub/diskcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	resyncOnly  bool
}

// shutdownTimeout 是收到信号后等待在途请求完成的上限。
const shutdownTimeout = 10 * time.Second

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
		fields := cacheFields(logging.BaseFields("check_config", opts.configPath), cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 日志 → 磁盘索引(Resync + Trim) → Fiber server”，
	// 索引未就绪时不对外提供服务。
	index, err := openIndex(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存索引失败: %v\n", err)
		return 1
	}

	evicted, err := index.Trim()
	if err != nil {
		fmt.Fprintf(stdErr, "缓存容量收敛失败: %v\n", err)
		return 1
	}

	fields := cacheFields(logging.BaseFields("startup", opts.configPath), cfg)
	fields["evicted"] = evicted
	fields["version"] = version.Full()
	logger.WithFields(fields).WithFields(logging.StatsFields(index.Stats())).Info("缓存索引就绪")

	if opts.resyncOnly {
		return 0
	}

	if err := startHTTPServer(cfg, index, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		resyncOnly bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DISKCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&resyncOnly, "resync-only", false, "重建索引并按容量淘汰后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("DISKCACHE_CONFIG")
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
		resyncOnly:  resyncOnly,
	}, nil
}

// openIndex 构建索引，构建过程中会完成首次 Resync。
// 缓存目录必须预先存在，拼错的 CacheDir 不会被静默创建成一个空缓存。
func openIndex(cfg *config.Config, logger *logrus.Logger) (*cache.Index, error) {
	return cache.New(cfg.Cache.CacheDir,
		cache.WithShardDepth(cfg.Cache.ShardDepth),
		cache.WithMaxBytes(cfg.Cache.MaxCacheSize.Bytes()),
		cache.WithLogger(logging.CacheLogger(logger, cfg.Cache.CacheDir)),
	)
}

func buildHandler(cfg *config.Config, index *cache.Index, logger *logrus.Logger) (*handler.Handler, error) {
	hasher, err := cache.NewHasher(cfg.Cache.KeyAlgorithm)
	if err != nil {
		return nil, err
	}
	mode, err := cache.ParseMode(cfg.Cache.DefaultTransfer)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.Cache.RateLimited() {
		limiter = rate.NewLimiter(rate.Limit(cfg.Cache.UpstreamRateLimit), cfg.Cache.UpstreamBurst)
	}
	return handler.New(handler.Options{
		Index:       index,
		Hasher:      hasher,
		Client:      server.NewUpstreamClient(cfg),
		Logger:      logger,
		DefaultMode: mode,
		ImportRoot:  cfg.Cache.ImportRoot,
		Upstream:    cfg.Cache.Upstream,
		Limiter:     limiter,
	})
}

func startHTTPServer(cfg *config.Config, index *cache.Index, logger *logrus.Logger) error {
	objects, err := buildHandler(cfg, index, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Routes: []server.Registrar{
			server.RegistrarFunc(func(r fiber.Router) {
				routes.RegisterDiagnosticRoutes(r, index, logger)
			}),
			objects,
		},
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithFields(logrus.Fields{
			"action":   "listen",
			"port":     port,
			"import":   cfg.Cache.ImportEnabled(),
			"fetch":    cfg.Cache.FetchEnabled(),
			"upstream": cfg.Cache.Upstream,
		}).Info("Fiber 服务启动")
		return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return group.Wait()
}

func cacheFields(fields logrus.Fields, cfg *config.Config) logrus.Fields {
	fields["cache_dir"] = cfg.Cache.CacheDir
	fields["shard_depth"] = cfg.Cache.ShardDepth
	fields["max_cache_size"] = cfg.Cache.MaxCacheSize.String()
	fields["key_algorithm"] = cfg.Cache.KeyAlgorithm
	fields["default_transfer"] = cfg.Cache.DefaultTransfer
	return fields
}
