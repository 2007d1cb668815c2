// internal/handler/telemetry_handler.go
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"obd-service/internal/obd"
	"obd-service/internal/service"
	"obd-service/internal/utils"
)

// TelemetryHandler serves live readings and adapter session control
type TelemetryHandler struct {
	telemetryService *service.TelemetryService
	logger           *utils.ServiceLogger
}

// ConnectRequest selects the device to connect to
type ConnectRequest struct {
	DevicePath string `json:"device_path"`
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(telemetryService *service.TelemetryService, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		telemetryService: telemetryService,
		logger:           utils.NewServiceLogger(logger, "telemetry-handler"),
	}
}

// GetTelemetry returns the latest snapshot. RPM and speed are -1 until
// the first successful reading.
func (h *TelemetryHandler) GetTelemetry(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Telemetry retrieved", h.telemetryService.Snapshot())
}

// GetAdapterStatus returns the session status
func (h *TelemetryHandler) GetAdapterStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Adapter status retrieved", h.telemetryService.Status())
}

// ConnectAdapter opens and initializes an adapter. The body is optional;
// without a device path the configured one is used.
func (h *TelemetryHandler) ConnectAdapter(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status, err := h.telemetryService.Connect(c.Request.Context(), req.DevicePath)
	if err != nil {
		h.logger.Warn("Adapter connect failed", zap.String("device_path", req.DevicePath), zap.Error(err))
		utils.ErrorResponse(c, connectErrorStatus(err), "Failed to connect adapter", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Adapter connected", status)
}

// DisconnectAdapter stops polling and closes the adapter
func (h *TelemetryHandler) DisconnectAdapter(c *gin.Context) {
	if err := h.telemetryService.Disconnect(); err != nil {
		h.logger.Error("Adapter disconnect failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to disconnect adapter", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Adapter disconnected", h.telemetryService.Status())
}

func connectErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDevicePathRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, obd.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, obd.ErrProtocolInit):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
