// internal/handler/port_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"obd-service/internal/discovery"
	"obd-service/internal/utils"
)

// PortHandler lists serial ports an adapter may be attached to
type PortHandler struct {
	scanners *discovery.ScannerManager
	logger   *utils.ServiceLogger
}

// NewPortHandler creates a new port handler
func NewPortHandler(scanners *discovery.ScannerManager, logger *zap.Logger) *PortHandler {
	return &PortHandler{
		scanners: scanners,
		logger:   utils.NewServiceLogger(logger, "port-handler"),
	}
}

// ListPorts scans for ports. The optional "type" query limits the scan to
// one scanner.
func (h *PortHandler) ListPorts(c *gin.Context) {
	var (
		ports []*discovery.Port
		err   error
	)

	if scanType := c.Query("type"); scanType != "" {
		ports, err = h.scanners.ScanByType(c.Request.Context(), scanType)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid scan type", err)
			return
		}
	} else {
		ports, err = h.scanners.ScanAll(c.Request.Context())
		if err != nil {
			h.logger.Error("Failed to scan ports", zap.Error(err))
			utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan ports", err)
			return
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
		"scanners":    h.scanners.AvailableScanners(),
	})
}
