package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tclmcp/internal/buildinfo"
	"tclmcp/internal/config"
	"tclmcp/internal/discovery"
	"tclmcp/internal/executor"
	"tclmcp/internal/runtime"
	"tclmcp/internal/server"
	"tclmcp/internal/store"
	"tclmcp/internal/telemetry"
)

type serverOptions struct {
	configPath  string
	transport   string
	privileged  bool
	runtimeName string
	toolsDir    string
	storageDir  string
	queueCap    int
	watchTools  bool
	httpAddr    string
	httpPath    string
	httpToken   string
	metricsAddr string
	logger      *zap.Logger
}

func main() {
	opts := serverOptions{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:     "tclmcp",
		Short:   "Tool registry and execution engine served over MCP",
		Version: buildinfo.Version,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg := zap.NewProductionConfig()
			log, err := cfg.Build()
			if err != nil {
				return err
			}
			opts.logger = log
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags(), &opts)
			if err != nil {
				return err
			}
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()
			err = run(ctx, cfg, opts.logger)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to YAML config file (optional)")
	flags.StringVar(&opts.transport, "transport", "", "transport: stdio or http")
	flags.BoolVar(&opts.privileged, "privileged", false, "enable tool management and discovery administration")
	flags.StringVar(&opts.runtimeName, "runtime", "", "script runtime (default: starlark, or TCLMCP_RUNTIME)")
	flags.StringVar(&opts.toolsDir, "tools-dir", "", "directory scanned for filesystem tools")
	flags.StringVar(&opts.storageDir, "storage-dir", "", "tool persistence directory (default: user data dir)")
	flags.IntVar(&opts.queueCap, "queue-capacity", 0, "executor command queue capacity")
	flags.BoolVar(&opts.watchTools, "watch-tools", false, "rescan the tools directory on file changes")
	flags.StringVar(&opts.httpAddr, "http-addr", "", "HTTP listen address")
	flags.StringVar(&opts.httpPath, "http-path", "", "HTTP endpoint path")
	flags.StringVar(&opts.httpToken, "http-token", "", "HTTP bearer token (empty disables auth)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "telemetry listen address (empty disables)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig layers explicit flags over the file/env configuration.
func resolveConfig(flags *pflag.FlagSet, opts *serverOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if flags.Changed("privileged") {
		cfg.Privileged = opts.privileged
	}
	if flags.Changed("runtime") {
		cfg.Runtime = opts.runtimeName
	}
	if flags.Changed("tools-dir") {
		cfg.ToolsDir = opts.toolsDir
	}
	if flags.Changed("storage-dir") {
		cfg.StorageDir = opts.storageDir
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity = opts.queueCap
	}
	if flags.Changed("watch-tools") {
		cfg.WatchTools = opts.watchTools
	}
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if flags.Changed("http-path") {
		cfg.HTTP.Path = opts.httpPath
	}
	if flags.Changed("http-token") {
		cfg.HTTP.Token = opts.httpToken
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rt, err := runtime.FromEnv(cfg.Runtime, logger)
	if err != nil {
		return err
	}

	storageDir := cfg.StorageDir
	if storageDir == "" {
		storageDir = store.DefaultRoot()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(registry)
	exec := executor.Spawn(ctx, executor.Options{
		Runtime:       rt,
		QueueCapacity: cfg.QueueCapacity,
		Discoverer:    discovery.NewScanner(cfg.ToolsDir, logger),
		OpenStore: func() (executor.Store, error) {
			return store.Open(storageDir, logger)
		},
		Logger:  logger,
		Metrics: metrics,
	})

	// Best-effort startup work: a broken store or tools directory must
	// not keep the server from coming up.
	if out, err := exec.InitializePersistence(ctx); err != nil {
		logger.Warn("persistence initialization failed", zap.Error(err))
	} else {
		logger.Info(out)
	}
	if out, err := exec.DiscoverTools(ctx); err != nil {
		logger.Warn("tool discovery failed", zap.Error(err))
	} else {
		logger.Info(out)
	}

	srv := server.New(exec, server.Options{
		Privileged: cfg.Privileged,
		Runtime: server.RuntimeInfo{
			Name:     rt.Name(),
			Version:  rt.Version(),
			Safe:     rt.Safe(),
			Features: rt.Features(),
		},
		Logger: logger,
	})
	if err := srv.RefreshCustomTools(ctx); err != nil {
		logger.Warn("initial tool refresh failed", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := telemetry.StartServer(ctx, cfg.MetricsAddr, registry, logger); err != nil {
				logger.Error("telemetry server failed", zap.Error(err))
			}
		}()
	}

	if cfg.WatchTools {
		watcher := discovery.NewWatcher(cfg.ToolsDir, func(wctx context.Context) {
			if _, err := exec.DiscoverTools(wctx); err != nil {
				logger.Warn("rescan failed", zap.Error(err))
				return
			}
			if err := srv.RefreshCustomTools(wctx); err != nil {
				logger.Warn("tool refresh failed", zap.Error(err))
			}
		}, logger)
		go watcher.Run(ctx)
	}

	switch cfg.Transport {
	case config.TransportHTTP:
		return srv.RunHTTP(ctx, cfg.HTTP)
	default:
		return srv.RunStdio(ctx)
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
