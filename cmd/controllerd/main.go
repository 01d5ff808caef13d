// Command controllerd is the project lifecycle controller daemon: it
// serves the control-plane API (pkg/controlapi), the per-project reverse
// proxy (pkg/gateway.Proxy), and the background ambulance sweep
// (pkg/worker.Ambulance) out of a single process, backed by one bbolt
// database (pkg/gateway.Store). Grounded on cmd/warren's cluster-init
// command: load config, construct every collaborator, start background
// work, block on signals, shut down in reverse order.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/warren/pkg/authz"
	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/controlapi"
	"github.com/cuemby/warren/pkg/deploydriver"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/gateway"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/task"
	"github.com/cuemby/warren/pkg/worker"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "controllerd",
	Short: "controllerd runs the project lifecycle controller",
	Long: `controllerd is the project lifecycle controller: it drives each
project through its container state machine, exposes the control-plane API
over HTTP, and proxies external traffic to each project's live container.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("controllerd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.Flags().String("config", "", "path to a YAML config file (defaults baked in if omitted)")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.Flags().Bool("external-containerd", false, "has no effect; the daemon always connects to the containerd socket set in the config file")
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("controllerd")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := gateway.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	engine, err := containerctx.New(cfg.ContainerdSocket, containerctx.EngineConfig{
		ImageRef:    cfg.ImageRef,
		NetworkName: cfg.NetworkName,
		DNSSuffix:   cfg.DNSSuffix,
	})
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}

	router := task.NewRouter(cfg.RouterSendTimeout)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	dispatcher := worker.NewDispatcher(router, store, broker, engine, cfg.ManagementPort)

	// Resources and auxiliary containers are provisioned by collaborators
	// this core doesn't own (spec.md §1 Non-goals); a deployment that
	// requests them fails at Resolve time until an operator wires real
	// Provisioner/SecretLookup/AuxContainerStarter implementations here.
	resolver := &deploydriver.Resolver{}
	ports := deploydriver.NewPortAllocator(cfg.ManagementPort+1000, cfg.ManagementPort+2000)
	driver := deploydriver.NewDriver(store, resolver, ports, cfg.RuntimeRPCTimeout)

	// ProjectName/ContainerLabels/IdleMinutes are filled in per project by
	// controlapi.Server.optionsFor and gateway.Proxy.optionsFor; this
	// template only carries the process-wide fields.
	optsTemplate := state.Options{
		ManagementPort:      cfg.ManagementPort,
		MaxRestartAttempts:  cfg.MaxRestartAttempts,
		MaxRecreateAttempts: cfg.MaxRecreateAttempts,
		MaxProbeAttempts:    cfg.MaxProbeAttempts,
		ContainerStopGrace:  cfg.ContainerStopGrace,
		IdleCPUThreshold:    cfg.IdleCPUPerMinuteThreshold,
	}

	prober := &worker.ContainerHealthProber{Engine: engine, ManagementPort: cfg.ManagementPort}
	ambulance := worker.NewAmbulance(dispatcher, store, store, store, prober, engine).WithInterval(cfg.AmbulanceTick)
	ambulance.Start()
	defer ambulance.Stop()

	checker := authz.TierChecker{TierOf: store.TierOf}
	api := controlapi.NewServer(controlapi.Config{
		Store:       store,
		Dispatcher:  dispatcher,
		Driver:      driver,
		Engine:      engine,
		Router:      router,
		Checker:     checker,
		Opts:        cfg,
		AdminSecret: cfg.AdminSecret,
	})
	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: api.Router()}

	proxy := gateway.NewProxy(store, engine, router, cfg.DNSSuffix, cfg.UserServicePort, optsTemplate)
	proxyServer := &http.Server{Addr: cfg.ProxyAddr, Handler: proxy}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: "127.0.0.1:9090", Handler: metricsMux}

	errCh := make(chan error, 3)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("control API listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control API: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.ProxyAddr).Msg("proxy listening")
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy: %w", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = proxyServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	return nil
}
