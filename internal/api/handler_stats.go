package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/parse"
)

// StatsHours returns occupancy changes per local hour. ?days defaults to 30.
func (h *Handler) StatsHours(c *gin.Context) {
	report, err := h.stats.Hours(c.Request.Context(), parse.Days(c.Query("days"), 30))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// StatsDaily returns occupancy changes per local day. ?days defaults to 60.
func (h *Handler) StatsDaily(c *gin.Context) {
	report, err := h.stats.Daily(c.Request.Context(), parse.Days(c.Query("days"), 60))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// StatsHeatmap returns changes by weekday and hour.
func (h *Handler) StatsHeatmap(c *gin.Context) {
	report, err := h.stats.Heatmap(c.Request.Context(), parse.Days(c.Query("days"), 30))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// StatsTopSlots returns the busiest slots. ?limit defaults to 10.
func (h *Handler) StatsTopSlots(c *gin.Context) {
	days := parse.Days(c.Query("days"), 30)
	limit := parse.Limit(c.Query("limit"), 10)
	report, err := h.stats.TopSlots(c.Request.Context(), days, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
