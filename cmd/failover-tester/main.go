package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teracloudstack/failover-tester/internal/config"
	"github.com/teracloudstack/failover-tester/internal/dataset"
	"github.com/teracloudstack/failover-tester/internal/faults"
	"github.com/teracloudstack/failover-tester/internal/inference"
	"github.com/teracloudstack/failover-tester/internal/metrics"
	"github.com/teracloudstack/failover-tester/internal/models"
	"github.com/teracloudstack/failover-tester/internal/orchestrator"
	"github.com/teracloudstack/failover-tester/internal/sshexec"
	"github.com/teracloudstack/failover-tester/internal/streams"
	"github.com/teracloudstack/failover-tester/internal/utils"
)

func main() {
	var (
		configPath   string
		scenarioPath string
		outputDir    string
		skipCleanup  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&scenarioPath, "scenario", "", "Path to scenario file")
	flag.StringVar(&outputDir, "output-dir", "results", "Directory for run result artifacts")
	flag.BoolVar(&skipCleanup, "skip-cleanup", false, "Leave injected faults in place for debugging")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(2)
	}
	scenario, err := config.LoadScenario(scenarioPath)
	if err != nil {
		slog.Error("failed to load scenario", slog.String("path", scenarioPath), slog.Any("error", err))
		os.Exit(2)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting failover-tester",
		slog.String("scenario_id", scenario.ID),
		slog.String("fault_type", scenario.FaultType))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
			}
		}()
	}

	result, err := runScenario(ctx, cfg, scenario, skipCleanup, logger)
	if err != nil {
		logger.Error("test run could not be executed", slog.Any("error", err))
		shutdownMetrics(metricsServer, logger)
		os.Exit(2)
	}

	if err := writeResult(outputDir, result); err != nil {
		logger.Error("failed to write result artifact", slog.Any("error", err))
	}

	shutdownMetrics(metricsServer, logger)

	if !result.Passed {
		logger.Error("test run failed",
			slog.String("run_id", result.RunID),
			slog.Any("failure_reasons", result.FailureReasons))
		os.Exit(1)
	}
	logger.Info("test run passed",
		slog.String("run_id", result.RunID),
		slog.Float64("recovery_time_seconds", result.RecoveryTimeSeconds),
		slog.Float64("loss_percent", result.Comparison.LossPercentage))
}

func runScenario(ctx context.Context, cfg *config.Config, scenario *config.Scenario, skipCleanup bool, logger *slog.Logger) (*models.RunResult, error) {
	dcs := cfg.Datacenters
	primary := streams.NewClient(dcs.Primary.APIURL, dcs.Primary.AuthToken, dcs.Primary.Timeout)
	secondary := streams.NewClient(dcs.Secondary.APIURL, dcs.Secondary.AuthToken, dcs.Secondary.Timeout)

	sources := inference.Sources{
		Status: inference.NewStreamsStatusSource(
			inference.Endpoint{Client: primary, InstanceID: dcs.Primary.InstanceID, JobID: dcs.Primary.JobID},
			inference.Endpoint{Client: secondary, InstanceID: dcs.Secondary.InstanceID, JobID: dcs.Secondary.JobID},
		),
	}
	detectors := []inference.Detector{inference.NewStatusDetector()}
	if len(cfg.Monitoring.MetricPatterns) > 0 {
		names := make([]string, 0, len(cfg.Monitoring.MetricPatterns))
		for _, p := range cfg.Monitoring.MetricPatterns {
			names = append(names, p.Name)
		}
		sources.Metrics = inference.NewStreamsMetricsSource(
			inference.Endpoint{Client: secondary, InstanceID: dcs.Secondary.InstanceID, JobID: dcs.Secondary.JobID},
			names,
		)
		detectors = append(detectors, inference.NewMetricsDetector(cfg.Monitoring.MetricPatterns))
	}
	if len(cfg.Monitoring.LogPatterns) > 0 {
		sources.Logs = inference.NewStreamsLogsSource(
			inference.Endpoint{Client: secondary, InstanceID: dcs.Secondary.InstanceID, JobID: dcs.Secondary.JobID},
			cfg.Monitoring.LogPatterns,
			cfg.Monitoring.MaxLogLines,
		)
		detectors = append(detectors, inference.NewLogsDetector())
	}
	engine, err := inference.NewEngine(sources, detectors, inference.Options{
		PollInterval:       cfg.Monitoring.PollInterval,
		SourceTimeout:      cfg.Monitoring.SourceTimeout,
		StabilizationDelay: cfg.Monitoring.StabilizationDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build inference engine: %w", err)
	}

	runner := sshexec.NewSSHRunner(cfg.Faults.SSH, logger)
	defer runner.Close()

	coordinator := faults.NewCoordinator(
		[]faults.Injector{
			faults.NewNetworkInjector(runner, logger),
			faults.NewProcessInjector(runner, logger),
			faults.NewAPIInjector(primary, logger),
		},
		cfg.Faults.CleanupRetries,
		cfg.Faults.CleanupBackoff,
		logger,
	)

	injector := dataset.NewInjector(primary, cfg.Data.BatchSize, cfg.Data.RatePerSecond, logger)

	orch := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Scenario:    scenario,
		Monitor:     engine,
		Coordinator: coordinator,
		Injector:    injector,
		Primary:     primary,
		Secondary:   secondary,
		SkipCleanup: skipCleanup,
		Logger:      logger,
	})
	return orch.Run(ctx)
}

func writeResult(outputDir string, result *models.RunResult) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("run-%s.json", result.RunID))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func shutdownMetrics(server *http.Server, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server shutdown", slog.Any("error", err))
	}
}
