package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"amd-platform/internal/auth"
	"amd-platform/pkg/logger"
)

// ClearCalls serves DELETE /v1/admin/calls. Admin only; the action is audited.
func (h Handlers) ClearCalls(c *gin.Context) {
	log := logger.FromGin(c)
	n, err := h.Store.DeleteAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	log.Warn("call history cleared", "records_deleted", n, "actor", uid)
	if h.Audit != nil {
		meta := fmt.Sprintf(`{"records_deleted":%d}`, n)
		if err := h.Audit.LogAdminAction(c.Request.Context(), uid, role, c.ClientIP(), "cleared call history", meta); err != nil {
			log.Warn("audit clear failed", "err", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        fmt.Sprintf("Cleared %d call records", n),
		"recordsDeleted": n,
	})
}

// ListAudit serves GET /v1/admin/audit?limit=.
func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
