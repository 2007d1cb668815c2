// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"obd-service/internal/config"
	"obd-service/internal/discovery"
	"obd-service/internal/discovery/serial"
	"obd-service/internal/discovery/usb"
	"obd-service/internal/handler"
	"obd-service/internal/monitor"
	"obd-service/internal/publisher"
	"obd-service/internal/routes"
	"obd-service/internal/service"
	"obd-service/internal/telemetry"
	"obd-service/internal/utils"
)

const runtimeSampleInterval = 30 * time.Second

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	metrics   *monitor.Metrics
	state     *telemetry.State
	eventBus  *handler.EventBus
	scanners  *discovery.ScannerManager
	publisher *publisher.Publisher

	telemetryService *service.TelemetryService

	// cancels background loops
	stop context.CancelFunc
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "obd-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	app.initializeServices()
	app.initializeDiscovery()

	if err := app.initializePublisher(); err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeServices creates the telemetry pipeline
func (app *Application) initializeServices() {
	app.metrics = monitor.NewMetrics(app.logger)
	app.state = telemetry.NewState()

	app.eventBus = handler.NewEventBus(app.logger)
	go app.eventBus.Start()

	app.telemetryService = service.NewTelemetryService(
		service.NewAdapterFactory(app.config, app.logger, app.metrics),
		app.state,
		app.config,
		app.metrics,
		app.logger,
	)
	app.telemetryService.SetEventHandler(handler.NewAdapterEventHandler(app.eventBus, app.logger))

	app.logger.Info("Services initialized successfully")
}

// initializeDiscovery registers the port scanners
func (app *Application) initializeDiscovery() {
	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(serial.NewScanner(app.logger))
	app.scanners.RegisterScanner(usb.NewScanner(app.logger))

	app.logger.Info("Port discovery initialized",
		zap.Strings("scanners", app.scanners.AvailableScanners()),
	)
}

// initializePublisher creates the MQTT publisher when enabled
func (app *Application) initializePublisher() error {
	if !app.config.MQTT.Enabled {
		return nil
	}

	p, err := publisher.New(&app.config.MQTT, app.state, app.logger)
	if err != nil {
		return err
	}
	app.publisher = p

	app.logger.Info("MQTT publisher initialized",
		zap.String("broker", app.config.MQTT.Broker),
		zap.String("topic", app.config.MQTT.Topic),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.telemetryService,
		app.scanners,
		app.eventBus,
		app.metrics,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices(ctx context.Context) {
	go app.metrics.RunRuntimeMonitor(ctx, runtimeSampleInterval)

	if app.config.Adapter.AutoConnect {
		go app.autoConnect(ctx)
	}

	if app.publisher != nil {
		go app.runPublisher(ctx)
	}

	app.logger.Info("Background services started")
}

// autoConnect opens the configured adapter at startup
func (app *Application) autoConnect(ctx context.Context) {
	status, err := app.telemetryService.Connect(ctx, "")
	if err != nil {
		app.logger.Error("Auto-connect failed",
			zap.String("device_path", app.config.Adapter.DevicePath),
			zap.Error(err),
		)
		return
	}
	app.logger.Info("Auto-connect succeeded",
		zap.String("device_path", status.DevicePath),
		zap.String("session_id", status.SessionID),
	)
}

func (app *Application) runPublisher(ctx context.Context) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := app.publisher.Connect(connectCtx)
	cancel()
	if err != nil {
		app.logger.Error("Failed to connect MQTT broker", zap.Error(err))
		return
	}
	app.publisher.Run(ctx)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "obd-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}
	app.router.Close()

	if app.stop != nil {
		app.stop()
	}

	if err := app.telemetryService.Close(); err != nil {
		app.logger.Error("Adapter close error", zap.Error(err))
	} else {
		app.logger.Info("Adapter session closed")
	}

	app.eventBus.Stop()

	if app.publisher != nil {
		app.publisher.Close()
		app.logger.Info("MQTT publisher disconnected")
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.stop = cancel

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices(ctx)

	app.waitForShutdown()

	return nil
}
