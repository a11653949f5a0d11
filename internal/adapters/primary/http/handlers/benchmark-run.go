package handlers

import (
	"net/http"
	"strconv"

	"detection-quant-bench/internal/adapters/primary/http/dto"
	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := ports.RunListFilter{
		Limit:  limit,
		Offset: offset,
	}

	runs, total, err := h.reportSvc.List(c.Request.Context(), filter)
	if err != nil {
		log.WithError(err).Error("list benchmark runs failed")
		mapDomainError(c, err)
		return
	}

	items := make([]dto.BenchmarkRunResponse, 0, len(runs))
	for _, r := range runs {
		items = append(items, dto.ToBenchmarkRunResponse(r))
	}

	c.JSON(http.StatusOK, dto.ListBenchmarkRunsResponse{
		Items:      items,
		Total:      total,
		PageSize:   len(items),
		NextOffset: max(offset, 0) + len(items),
	})
}

func (h *Handler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		mapDomainError(c, domain.ErrInvalidRunID)
		return
	}

	run, err := h.reportSvc.Get(c.Request.Context(), id)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToBenchmarkRunResponse(run))
}
