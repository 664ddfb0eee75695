package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/hexmap-backend-go/internal/service"
	"github.com/jengzang/hexmap-backend-go/pkg/response"
)

// maxImportBytes bounds an uploaded payload
const maxImportBytes = 512 << 20

// AdminHandler handles layer imports and reloads
type AdminHandler struct {
	service *service.LayerService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *service.LayerService) *AdminHandler {
	return &AdminHandler{service: service}
}

// ImportLayer handles POST /api/v1/admin/layers/:name/import. The body is
// a payload in any accepted format, optionally gzipped.
func (h *AdminHandler) ImportLayer(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		response.BadRequest(c, "Failed to read payload", err)
		return
	}
	imp, err := h.service.Import(c.Request.Context(), c.Param("name"), raw)
	if err != nil {
		response.Error(c, statusFor(err), "Failed to import layer", err)
		return
	}
	response.Success(c, imp)
}

// ReloadLayer handles POST /api/v1/admin/layers/:name/reload
func (h *AdminHandler) ReloadLayer(c *gin.Context) {
	name := c.Param("name")
	if err := h.service.Load(c.Request.Context(), name); err != nil {
		response.Error(c, statusFor(err), "Failed to reload layer", err)
		return
	}
	info, err := h.service.Info(name)
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get layer", err)
		return
	}
	response.Success(c, info)
}
