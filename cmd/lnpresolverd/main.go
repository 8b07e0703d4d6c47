// Command lnpresolverd runs the LNP/CNAM resolution daemon: it loads the
// driver registry from the control database, binds the UDP listen
// endpoints, and serves the admin and Prometheus HTTP sidecars alongside
// the resolver's main datagram loop. See cmd/hydradns/main.go for the
// teacher's equivalent orchestration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeti-lnp/lnpresolver/internal/adminapi"
	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/cachewriter"
	"github.com/yeti-lnp/lnpresolver/internal/config"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	_ "github.com/yeti-lnp/lnpresolver/internal/driver/csvdriver"
	_ "github.com/yeti-lnp/lnpresolver/internal/driver/httpdriver"
	"github.com/yeti-lnp/lnpresolver/internal/driver/sipdriver"
	"github.com/yeti-lnp/lnpresolver/internal/logging"
	"github.com/yeti-lnp/lnpresolver/internal/metrics"
	"github.com/yeti-lnp/lnpresolver/internal/resolver"
	"github.com/yeti-lnp/lnpresolver/internal/store"
	"github.com/yeti-lnp/lnpresolver/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	listen     string
	debug      bool
	jsonLogs   bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to lnp_resolver.cfg (overrides LNPRESOLVER_CONFIG)")
	flag.StringVar(&f.listen, "listen", "", "Override daemon.listen (comma-separated host:port list)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the config. These
// never persist back to the config file.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.listen != "" {
		cfg.Daemon.Listen = strings.Split(f.listen, ",")
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.FromAppConfig(cfg.Logging, "daemon"))
	logger.Info("lnpresolverd starting", "listen", cfg.Daemon.Listen)

	dialect, dsn := store.DialectAndDSN(cfg.DB)
	st, err := store.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("failed to open control database: %w", err)
	}
	defer st.Close()

	sipdriver.Configure(sipdriver.StaticConfig{
		FromName:    cfg.SIP.FromName,
		FromURI:     cfg.SIP.FromURI,
		ContactUser: cfg.SIP.ContactUser,
	})

	registry := driver.NewRegistry(logger)
	if err := registry.Load(context.Background(), st); err != nil {
		return fmt.Errorf("failed to load driver registry: %w", err)
	}

	promReg := prometheus.NewRegistry()
	sink := metrics.NewSink(promReg)
	metricsRegistry := metrics.NewRegistry(sink, driverLabelsFor(registry))

	checkInterval, parseErr := time.ParseDuration(cfg.DB.CheckInterval)
	if parseErr != nil || checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	writer := cachewriter.NewWriter(logger, st.CacheOpener(), st.CacheStatementSQL(), 1024, checkInterval)

	completions := make(chan asyncio.Completion, 1024)
	engine := asyncio.NewEngine(completions)

	dispatcher := resolver.NewDispatcher(logger, registry, engine, completions)
	dispatcher.Cache = writer
	dispatcher.Metrics = metricsRegistry

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reload := func(reloadCtx context.Context) error {
		if loadErr := registry.Load(reloadCtx, st); loadErr != nil {
			return loadErr
		}
		metricsRegistry.Update(driverLabelsFor(registry))
		return nil
	}

	go writer.Run(ctx)
	go dispatcher.Run(ctx)
	go watchReloadSignal(ctx, logger, reload)

	metricsSrv := startMetricsServer(ctx, logger, cfg.Prometheus, promReg)
	defer shutdownHTTPServer(metricsSrv)

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		adminSrv = startAdminServer(ctx, logger, cfg.Admin, registry, reload)
		defer shutdownHTTPServer(adminSrv)
	}

	listener := &transport.Listener{Logger: logger, Handler: dispatcher}
	err = listener.Run(ctx, cfg.Daemon.Listen)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("transport listener exited: %w", err)
	}
	return nil
}

// driverLabelsFor builds the metrics.DriverLabel set from the registry's
// current driver snapshot, for both initial PreRegister and post-reload
// re-registration.
func driverLabelsFor(registry *driver.Registry) []metrics.DriverLabel {
	snapshot := registry.Snapshot()
	labels := make([]metrics.DriverLabel, 0, len(snapshot))
	for _, d := range snapshot {
		id := d.ID()
		if id < 0 || id > 255 {
			continue
		}
		labels = append(labels, metrics.DriverLabel{DBID: uint8(id), Kind: string(d.Kind()), Label: d.Label()})
	}
	return labels
}

// watchReloadSignal reloads the driver registry on SIGHUP, the in-process
// equivalent of the adminapi /reload endpoint, grounded on the teacher's
// cmd/hydradns/main.go signal-driven orchestration.
func watchReloadSignal(ctx context.Context, logger *slog.Logger, reload adminapi.ReloadFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			logger.Info("received SIGHUP, reloading driver registry")
			if err := reload(ctx); err != nil {
				logger.Error("SIGHUP reload failed", "error", err)
			}
		}
	}
}

func startMetricsServer(ctx context.Context, logger *slog.Logger, cfg config.PrometheusConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: mux}
	go func() {
		logger.InfoContext(ctx, "prometheus metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "prometheus metrics server error", "error", err)
		}
	}()
	return srv
}

func startAdminServer(ctx context.Context, logger *slog.Logger, cfg config.AdminConfig, registry *driver.Registry, reload adminapi.ReloadFunc) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	h := adminapi.NewHandler(reload, func() int { return len(registry.Snapshot()) })
	adminapi.RegisterRoutes(r, h, cfg.APIKey)

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: r}
	go func() {
		logger.InfoContext(ctx, "admin api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "admin api server error", "error", err)
		}
	}()
	return srv
}

func shutdownHTTPServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
