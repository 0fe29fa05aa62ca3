package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/cvclient/internal/config"
	"github.com/kirillkom/cvclient/internal/core/ports"
	"github.com/kirillkom/cvclient/internal/core/usecase"
	"github.com/kirillkom/cvclient/internal/infrastructure/cvapi"
	"github.com/kirillkom/cvclient/internal/infrastructure/eventloop"
	"github.com/kirillkom/cvclient/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/cvclient/internal/infrastructure/queue/nats"
	"github.com/kirillkom/cvclient/internal/infrastructure/resilience"
	"github.com/kirillkom/cvclient/internal/infrastructure/sse"
	"github.com/kirillkom/cvclient/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/cvclient/internal/observability/logging"
	"github.com/kirillkom/cvclient/internal/observability/metrics"
)

const serviceName = "cvclient"

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.ClientMetrics

	API      *cvapi.Client
	Opener   *sse.Opener
	Loop     *eventloop.Loop
	Queue    *usecase.FileQueue
	Content  *usecase.ContentUseCase
	Exporter *xlsx.Exporter

	publisher *nats.ResultPublisher
	closeFns  []func()
}

func New(cfg config.Config) (*App, error) {
	logWriter, closeLog, err := logging.OpenFile(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel, logWriter)
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewClientMetrics(serviceName),
	}
	app.closeFns = append(app.closeFns, func() { _ = closeLog() })

	executor := resilience.NewExecutor(resilienceConfig(cfg, app.Metrics), logger)
	transport := cvapi.NewLoggingTransport(app.Metrics.InstrumentTransport(http.DefaultTransport), logger)

	app.API = cvapi.New(cfg.ServerURL, cvapi.Options{
		UploadTimeout:   cfg.UploadTimeout(),
		ChatTimeout:     cfg.ChatTimeout(),
		ContentTimeout:  cfg.ContentTimeout(),
		DownloadTimeout: cfg.DownloadTimeout(),
		ChatRate:        rate.Limit(cfg.ChatRateLimitRPS),
		ChatBurst:       cfg.ChatRateLimitBurst,
		Executor:        executor,
		HTTPClient:      &http.Client{Transport: transport},
		Logger:          logger,
	})
	app.Opener = sse.NewOpener(cfg.ServerURL, &http.Client{Transport: transport}, logger)

	store, err := localfs.New(cfg.DownloadDir)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init download storage: %w", err)
	}
	app.Content = usecase.NewContentUseCase(app.API, store, cfg.ContentCacheTTL())
	app.Queue = usecase.NewFileQueue()

	if cfg.NATSURL != "" {
		publisher, err := nats.NewResultPublisher(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init result publisher: %w", err)
		}
		app.publisher = publisher
		app.closeFns = append(app.closeFns, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := publisher.Close(ctx); err != nil {
				logger.Warn("result_publisher_close_failed", "error", err)
			}
		})
	}

	if cfg.ExportDir != "" {
		exporter, err := xlsx.NewExporter(cfg.ExportDir, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init result exporter: %w", err)
		}
		app.Exporter = exporter
	}

	app.Loop = eventloop.New(logger)
	app.closeFns = append(app.closeFns, app.Loop.Close)
	return app, nil
}

// NewSession builds a batch controller whose result sink also feeds the
// configured publisher and workbook exporter.
func (a *App) NewSession(sinks ports.Sinks) *usecase.BatchController {
	sinks.Results = a.resultSink(sinks.Results)
	return usecase.NewBatchController(a.API, a.Opener, a.API, a.Loop, sinks, usecase.ControllerConfig{
		HealthCheckInterval: a.Config.HealthCheckInterval(),
		ReconnectBackoff:    a.Config.ReconnectBackoff(),
		Metrics:             a.Metrics,
		Logger:              a.Logger,
	})
}

func (a *App) resultSink(base ports.ResultSink) ports.ResultSink {
	sinks := []ports.ResultSink{base}
	if a.publisher != nil {
		sinks = append(sinks, a.publisher)
	}
	if a.Exporter != nil {
		sinks = append(sinks, a.Exporter)
	}
	if len(sinks) == 1 {
		return base
	}
	return usecase.NewResultFanout(sinks...)
}

// ServeMetrics exposes the client registry until ctx is cancelled. It is a
// no-op when no metrics port is configured.
func (a *App) ServeMetrics(ctx context.Context) {
	if a.Config.MetricsPort == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	server := &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", a.Config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info("metrics_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("metrics_server_failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func resilienceConfig(cfg config.Config, m *metrics.ClientMetrics) resilience.Config {
	// Zero values fall back to resilience defaults inside NewExecutor.
	return resilience.Config{
		Retry: resilience.RetryPolicy{
			Attempts: cfg.RetryMaxAttempts,
			Initial:  time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
			Max:      time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		},
		Breaker: resilience.BreakerPolicy{
			Disabled:     !cfg.BreakerEnabled,
			MinRequests:  uint32(max(cfg.BreakerMinRequests, 0)),
			FailureRatio: cfg.BreakerFailureRatio,
			OpenFor:      time.Duration(cfg.BreakerOpenTimeoutSeconds) * time.Second,
		},
		OnStateChange: m.BreakerStateChanged,
	}
}
