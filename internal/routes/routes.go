// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"obd-service/internal/config"
	"obd-service/internal/discovery"
	"obd-service/internal/handler"
	"obd-service/internal/middleware"
	"obd-service/internal/monitor"
	"obd-service/internal/service"
	"obd-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	telemetryService *service.TelemetryService
	scanners         *discovery.ScannerManager
	eventBus         *handler.EventBus
	metrics          *monitor.Metrics

	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	telemetryService *service.TelemetryService,
	scanners *discovery.ScannerManager,
	eventBus *handler.EventBus,
	metrics *monitor.Metrics,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		telemetryService: telemetryService,
		scanners:         scanners,
		eventBus:         eventBus,
		metrics:          metrics,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// Close disconnects websocket clients
func (r *Router) Close() {
	if r.wsHandler != nil {
		r.wsHandler.Close()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, "/health", "/ready", "/live"))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.telemetryService, r.config, r.logger)
	telemetryHandler := handler.NewTelemetryHandler(r.telemetryService, r.logger)
	portHandler := handler.NewPortHandler(r.scanners, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.telemetryService, r.eventBus, r.config, r.metrics, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addTelemetryRoutes(apiV1, telemetryHandler)
	r.addPortRoutes(apiV1, portHandler)

	r.addWebSocketRoutes(router, r.wsHandler)
	r.addMetricsRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addTelemetryRoutes sets up telemetry and adapter session routes
func (r *Router) addTelemetryRoutes(api *gin.RouterGroup, handler *handler.TelemetryHandler) {
	api.GET("/telemetry", handler.GetTelemetry)

	adapter := api.Group("/adapter")
	{
		adapter.GET("", handler.GetAdapterStatus)
		adapter.POST("/connect", handler.ConnectAdapter)
		adapter.POST("/disconnect", handler.DisconnectAdapter)
	}
}

// addPortRoutes sets up serial port discovery routes
func (r *Router) addPortRoutes(api *gin.RouterGroup, handler *handler.PortHandler) {
	api.GET("/ports", handler.ListPorts)
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/telemetry", handler.HandleTelemetryStream)
		ws.GET("/events", handler.HandleEventStream)
	}
}

// addMetricsRoutes exposes the prometheus registry
func (r *Router) addMetricsRoutes(router *gin.Engine) {
	if !r.config.Metrics.Enabled || r.metrics == nil {
		return
	}
	router.GET(r.config.Metrics.Path, gin.WrapH(r.metrics.Handler()))
}
