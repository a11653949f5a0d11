package handlers

import (
	"detection-quant-bench/internal/core/services"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	reportSvc *services.ReportService
}

func New(reportSvc *services.ReportService) *Handler {
	return &Handler{reportSvc: reportSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Benchmark Runs
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
}
