package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"amd-platform/internal/reporting"
)

// Analytics serves GET /v1/analytics?excludeSynthetic=true.
func (h Handlers) Analytics(c *gin.Context) {
	opts := reporting.Options{}
	if v := c.Query("excludeSynthetic"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "excludeSynthetic must be a boolean"})
			return
		}
		opts.ExcludeSynthetic = b
	}

	report, err := h.Reports.StrategyMetrics(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Comparison serves GET /v1/comparison.
func (h Handlers) Comparison(c *gin.Context) {
	cmp, err := h.Reports.Comparison(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}
