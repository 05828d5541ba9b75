// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/meetbundle/meetbundle/internal/config"
	"github.com/meetbundle/meetbundle/internal/host"
	"github.com/meetbundle/meetbundle/internal/loader"
	"github.com/meetbundle/meetbundle/internal/logging"
	catalogpkg "github.com/meetbundle/meetbundle/internal/module"
	"github.com/meetbundle/meetbundle/internal/observability"
	"github.com/meetbundle/meetbundle/internal/xdg"
	"github.com/meetbundle/meetbundle/pkg/errutil"
)

// Cluster roles accepted by --cluster-role.
const (
	roleStandalone = "standalone"
	roleMember     = "member"
	roleSenior     = "senior"
)

const shutdownTimeout = 10 * time.Second

// serveConfig holds flags that are not part of the configuration file.
type serveConfig struct {
	clusterRole string
}

// Validate checks that the configuration is valid.
func (cfg *serveConfig) Validate() error {
	switch cfg.clusterRole {
	case roleStandalone, roleMember, roleSenior:
		return nil
	default:
		return fmt.Errorf("cluster-role must be %q, %q or %q, got %q",
			roleStandalone, roleMember, roleSenior, cfg.clusterRole)
	}
}

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the module host",
		Long: `Run the module host: load the configured module table, serve module
endpoints under /<unit> and expose metrics and health checks. The
configuration file is watched; changes reload every module's configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	// Flag names map to configuration keys with '-' replaced by '_'.
	cmd.Flags().String("unit", config.DefaultUnit, "deployment unit; endpoints are served under /<unit>")
	cmd.Flags().String("listen", config.DefaultListen, "endpoint dispatcher listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("base-dir", "", "host base directory (default: XDG_DATA_HOME/meetbundle)")
	cmd.Flags().StringVar(&cfg.clusterRole, "cluster-role", roleStandalone, "cluster role (standalone, member or senior)")

	return cmd
}

// runServeWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *serveConfig, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ConfigLoader == nil {
		deps.ConfigLoader = config.Load
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, registrars []observability.Registrar, opts ...observability.ServerOption) ObservabilityServer {
			return observability.NewServer(addr, ready, registrars, opts...)
		}
	}
	if deps.BaseDirGetter == nil {
		deps.BaseDirGetter = xdg.DataDir
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	src, err := deps.ConfigLoader(resolveConfigPath(configFile), cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	conf := src.Config()

	logger := logging.Setup("meetbundle", version, conf.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	baseDir := conf.BaseDir
	if baseDir == "" {
		baseDir = deps.BaseDirGetter()
	}
	if err := xdg.EnsureDir(baseDir); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	logger.Info("starting module host",
		"unit", conf.Unit,
		"listen", conf.Listen,
		"base_dir", baseDir,
		"modules", len(conf.Modules),
		"cluster_role", cfg.clusterRole,
	)

	catalog, err := newCatalog(baseDir, logger)
	if err != nil {
		return fmt.Errorf("failed to build module catalog: %w", err)
	}

	managerOpts := []catalogpkg.ManagerOption{
		catalogpkg.WithLogger(logger),
	}
	if v, verr := semver.NewVersion(version); verr == nil {
		managerOpts = append(managerOpts, catalogpkg.WithLoaderOptions(loader.WithHostVersion(v)))
	} else {
		logger.Debug("host version is not semver, manifest requirements unchecked", "version", version)
	}
	manager := catalogpkg.NewManager(managerOpts...)

	dispatcher := host.NewDispatcher(conf.Unit, baseDir,
		host.WithProperties(src.Properties),
		host.WithDispatcherLogger(logger),
	)
	plugin := host.NewPlugin(manager, catalog, dispatcher, conf.Modules, host.WithPluginLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := deps.ListenerFactory("tcp", conf.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", conf.Listen, err)
	}
	httpServer := &http.Server{
		Handler:           dispatcher.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		defer close(httpErr)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErr <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, httpErr, "dispatcher")
	logger.Info("endpoint dispatcher listening", "addr", listener.Addr().String(), "mount", "/"+conf.Unit)

	var obsServer ObservabilityServer
	if conf.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(conf.MetricsAddr, plugin.Ready,
			[]observability.Registrar{loader.RegisterMetrics, catalogpkg.RegisterMetrics, host.RegisterMetrics},
			observability.WithStatusReporter(func() any { return manager.Modules() }),
		)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdownHTTP(httpServer, logger)
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	if err := plugin.Initialize(ctx); err != nil {
		stopObservability(obsServer, logger)
		shutdownHTTP(httpServer, logger)
		return fmt.Errorf("failed to initialize plugin: %w", err)
	}
	applyClusterRole(ctx, plugin, cfg.clusterRole)

	go func() {
		watchErr := src.Watch(ctx, func(*config.Config) {
			plugin.PropertyChanged(ctx, "properties")
		})
		if watchErr != nil {
			errutil.LogError(logger, "configuration watch stopped", watchErr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	cmd.Println("Module host started")
	if deps.Ready != nil {
		deps.Ready(listener.Addr().String())
	}

	for running := true; running; {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reload(ctx, src, plugin, logger)
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			running = false
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			running = false
		}
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := plugin.Destroy(shutdownCtx); err != nil {
		errutil.LogError(logger, "error destroying plugin", err)
	}
	shutdownHTTP(httpServer, logger)
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

// applyClusterRole replays the cluster events for the configured role.
func applyClusterRole(ctx context.Context, plugin *host.Plugin, role string) {
	switch role {
	case roleMember:
		plugin.JoinedCluster(ctx)
	case roleSenior:
		plugin.JoinedCluster(ctx)
		plugin.MarkedAsSeniorMember(ctx)
	}
}

// reload re-reads the configuration on SIGHUP.
func reload(ctx context.Context, src *config.Source, plugin *host.Plugin, logger *slog.Logger) {
	if err := src.Reload(); err != nil {
		logger.Warn("ignoring invalid configuration on SIGHUP", "error", err)
		return
	}
	logger.Info("configuration reloaded on SIGHUP")
	plugin.PropertyChanged(ctx, "properties")
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping endpoint dispatcher", "error", err)
	}
}

func stopObservability(srv ObservabilityServer, logger *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
