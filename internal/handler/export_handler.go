package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/civreg-api/internal/models"
	"github.com/noah-isme/civreg-api/pkg/response"
)

type exportService interface {
	PersonsCSV(ctx context.Context, filter models.PersonFilter) ([]byte, error)
	StatisticsPDF(ctx context.Context) ([]byte, error)
}

// ExportHandler exposes staff-facing export endpoints.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// PersonsCSV godoc
// @Summary Export persons as CSV
// @Tags Exports
// @Produce text/csv
// @Success 200
// @Router /exports/persons.csv [get]
func (h *ExportHandler) PersonsCSV(c *gin.Context) {
	filter := models.PersonFilter{
		CitizenshipStatus: models.CitizenshipStatus(c.Query("citizenshipStatus")),
		Gender:            models.Gender(c.Query("gender")),
		City:              c.Query("city"),
		Page:              queryInt(c, "page", 1),
		PageSize:          queryInt(c, "pageSize", 100),
	}
	payload, err := h.service.PersonsCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="persons.csv"`)
	c.Data(http.StatusOK, "text/csv", payload)
}

// StatisticsPDF godoc
// @Summary Export registry statistics as PDF
// @Tags Exports
// @Produce application/pdf
// @Success 200
// @Router /exports/statistics.pdf [get]
func (h *ExportHandler) StatisticsPDF(c *gin.Context) {
	payload, err := h.service.StatisticsPDF(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="statistics.pdf"`)
	c.Data(http.StatusOK, "application/pdf", payload)
}
