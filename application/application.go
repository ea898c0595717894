package application

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/network/connector"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/internal/network/strategy"
	zlog "github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/metrics"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
	zviper "github.com/lk2023060901/fixgarden-go/pkg/util/viper"
)

const (
	// DefaultConfigPath 为未指定配置文件时使用的路径。
	DefaultConfigPath = "./fixengine.yaml"
	// EnvConfigPath 为指定配置文件路径的环境变量。
	EnvConfigPath = "FIX_CONFIG_FILE_PATH"

	keyEngine  = "engine"
	keyLogging = "logging"

	metricsShutdownTimeout = 5 * time.Second
)

// EngineConfig 为配置文件中 engine 段的引擎参数。
//
//	engine:
//	  strategy: threaded
//	  tick-interval: 1s
//	  batch-size: 64
//	  write-timeout: 5s
//	  metrics-addr: ":9102"
type EngineConfig struct {
	Strategy     string        `json:"strategy" mapstructure:"strategy"`
	TickInterval time.Duration `json:"tick-interval" mapstructure:"tick-interval"`
	BatchSize    int           `json:"batch-size" mapstructure:"batch-size"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`
	MetricsAddr  string        `json:"metrics-addr" mapstructure:"metrics-addr"`
}

// Application 为 fixengine 进程的运行时容器：持有配置文件、会话配置与日志，
// 并按配置创建 Connector。
type Application struct {
	path     string
	cfg      *zviper.Config
	settings *config.Settings
	engine   EngineConfig
	loggers  map[string]*zlog.MLogger
}

// New 创建 Application，path 为空时按以下优先级确定配置文件：
//  1. 环境变量 FIX_CONFIG_FILE_PATH；
//  2. 默认路径 ./fixengine.yaml。
func New(path string) *Application {
	return &Application{path: path}
}

// Load 加载配置文件并初始化日志。
func (a *Application) Load() error {
	a.path = resolveConfigPath(a.path)

	cfg := zviper.New()
	if err := cfg.LoadFile(a.path); err != nil {
		return errors.Wrapf(err, "failed to load config file %q", a.path)
	}
	a.cfg = cfg

	settings, err := config.Load(a.path)
	if err != nil {
		return err
	}
	a.settings = settings

	if err := cfg.UnmarshalKey(keyEngine, &a.engine); err != nil {
		return errors.Wrap(err, "parse engine section")
	}
	return a.initLogging()
}

// Path 返回实际使用的配置文件路径。
func (a *Application) Path() string {
	return a.path
}

// Settings 返回会话配置。
func (a *Application) Settings() *config.Settings {
	return a.settings
}

// Engine 返回引擎参数。
func (a *Application) Engine() EngineConfig {
	return a.engine
}

// OverrideEngine 以命令行参数等来源修改引擎参数，需在 NewConnector 之前调用。
func (a *Application) OverrideEngine(fn func(e *EngineConfig)) {
	fn(&a.engine)
}

// Logger 返回配置文件 logging 段中定义的具名日志，未定义时返回全局日志。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// NewConnector 按配置创建指定角色的 Connector，opts 追加在配置项之后。
func (a *Application) NewConnector(role connector.Role, app session.Application, opts ...connector.Option) (*connector.Connector, error) {
	if a.settings == nil {
		return nil, errors.New("application: config not loaded")
	}
	var strategyOpts []strategy.Option
	if a.engine.TickInterval > 0 {
		strategyOpts = append(strategyOpts, strategy.WithTickInterval(a.engine.TickInterval))
	}
	if a.engine.BatchSize > 0 {
		strategyOpts = append(strategyOpts, strategy.WithBatchSize(a.engine.BatchSize))
	}
	base := []connector.Option{
		connector.WithStrategy(a.engine.Strategy, strategyOpts...),
		connector.WithWriteTimeout(a.engine.WriteTimeout),
	}
	return connector.New(role, a.settings, app, append(base, opts...)...)
}

// Run 启动 Connector 与指标服务，阻塞到 ctx 结束后优雅停止。
func (a *Application) Run(ctx context.Context, c *connector.Connector) error {
	logger := a.Logger(c.Role().String())
	if err := c.Start(); err != nil {
		return err
	}

	var server *http.Server
	var served *conc.Future[struct{}]
	if addr := a.engine.MetricsAddr; addr != "" {
		server, served = serveMetrics(addr, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down", zap.String("config", a.path))
	c.Stop(false)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
		_, _ = served.Await()
	}
	_ = zlog.Sync()
	return nil
}

// serveMetrics 在 addr 上暴露 /metrics。
func serveMetrics(addr string, logger *zlog.MLogger) (*http.Server, *conc.Future[struct{}]) {
	metrics.Register(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	served := conc.Go(func() (struct{}, error) {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return server, served
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	return DefaultConfigPath
}

// initLogging 初始化全局日志与具名日志。
func (a *Application) initLogging() error {
	if err := initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 按 FIX_LOG_* 环境变量配置全局日志：
//   - FIX_LOG_LEVEL：日志级别，默认 info；
//   - FIX_LOG_STDOUT：是否输出到标准输出，默认 true；
//   - FIX_LOG_FORMAT：text 或 json，默认 text；
//   - FIX_LOG_FILE_DIR / FIX_LOG_FILE：日志目录与文件名，文件名为空表示不写文件。
func initGlobalLoggerFromEnv() error {
	cfg := &zlog.Config{
		Level:  getenvDefault("FIX_LOG_LEVEL", "info"),
		Format: getenvDefault("FIX_LOG_FORMAT", "text"),
		Stdout: getenvBool("FIX_LOG_STDOUT", true),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("FIX_LOG_FILE_DIR", ""),
			Filename: getenvDefault("FIX_LOG_FILE", ""),
		},
	}
	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 按配置文件 logging 段创建具名日志，名称通常为 acceptor 或 initiator。
//
//	logging:
//	  acceptor:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: acceptor.log
func (a *Application) initModuleLoggersFromConfig() error {
	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey(keyLogging, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
