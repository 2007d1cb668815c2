// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"obd-service/internal/config"
	"obd-service/internal/service"
	"obd-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	telemetryService *service.TelemetryService
	config           *config.Config
	logger           *utils.ServiceLogger
	startTime        time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(telemetryService *service.TelemetryService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		telemetryService: telemetryService,
		config:           config,
		logger:           utils.NewServiceLogger(logger, "health-handler"),
		startTime:        time.Now(),
	}
}

// HealthCheck reports service health. A missing adapter degrades the
// service but does not make it unhealthy; it can be connected later.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	status := h.telemetryService.Status()
	if status.Connected {
		check := CheckResult{
			Status:  "healthy",
			Message: "Adapter connected",
			Data: map[string]interface{}{
				"device_path": status.DevicePath,
				"polling":     status.Polling,
			},
		}
		if status.Stats != nil {
			check.Data["bytes_read"] = status.Stats.BytesRead
			check.Data["error_count"] = status.Stats.ErrorCount
		}
		if !status.Polling {
			check.Status = "unhealthy"
			check.Message = "Poller stopped"
			health.Status = "degraded"
		}
		health.Checks["adapter"] = check
	} else {
		health.Status = "degraded"
		health.Checks["adapter"] = CheckResult{
			Status:  "unhealthy",
			Message: "Adapter not connected",
		}
	}

	snap := h.telemetryService.Snapshot()
	telemetryCheck := CheckResult{Status: "healthy", Data: map[string]interface{}{}}
	if !snap.UpdatedAt.IsZero() {
		telemetryCheck.Data["last_update"] = snap.UpdatedAt
		telemetryCheck.Data["age"] = time.Since(snap.UpdatedAt).String()
	} else {
		telemetryCheck.Message = "No readings yet"
	}
	health.Checks["telemetry"] = telemetryCheck

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck is ready once an adapter session is active
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.telemetryService.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "adapter not connected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness checks
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
