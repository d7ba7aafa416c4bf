package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"amd-platform/internal/auth"
	"amd-platform/internal/calls"
	"amd-platform/internal/reporting"
	"amd-platform/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type createCallRequest struct {
	Phone    string `json:"phone"`
	Strategy string `json:"strategy"`
}

type createCallResponse struct {
	CallID         string           `json:"callId"`
	ProviderCallID string           `json:"providerCallId"`
	Status         calls.CallStatus `json:"status"`
}

// CreateCall serves POST /v1/calls.
func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Calls.PlaceCall(c.Request.Context(), req.Phone, calls.Strategy(req.Strategy))
	if err != nil {
		writeError(c, err)
		return
	}
	logger.FromGin(c).Info("call placed", "call_id", call.ID, "strategy", string(call.Strategy), "status", string(call.Status))
	c.JSON(http.StatusCreated, createCallResponse{
		CallID:         call.ID,
		ProviderCallID: call.ProviderCallID,
		Status:         call.Status,
	})
}

// ListCalls serves GET /v1/calls?limit=&offset=&status=&strategy=.
func (h Handlers) ListCalls(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	f := calls.ListFilter{Limit: limit, Offset: offset}
	if s := c.Query("strategy"); s != "" {
		f.Strategy = calls.Strategy(s)
		if !f.Strategy.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown strategy"})
			return
		}
	}
	if s := c.Query("status"); s != "" {
		st := calls.CallStatus(s)
		if !st.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		f.Statuses = []calls.CallStatus{st}
	}

	rows, err := h.Store.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "limit": limit, "offset": offset})
}

// GetCall serves GET /v1/calls/:id.
func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// HangupCall serves POST /v1/calls/:id/hangup.
func (h Handlers) HangupCall(c *gin.Context) {
	id := c.Param("id")
	res, err := h.Calls.Hangup(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.Audit != nil {
		uid, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogHangup(c.Request.Context(), uid, role, c.ClientIP(), id, res.Mocked); err != nil {
			logger.FromGin(c).Warn("audit hangup failed", "call_id", id, "err", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// SimulateCall serves POST /v1/admin/calls/:id/simulate-completion.
func (h Handlers) SimulateCall(c *gin.Context) {
	if h.Simulator == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "simulated completion is disabled"})
		return
	}
	out, err := h.Simulator.SimulateCompletion(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type labelRequest struct {
	Truth string `json:"truth"`
}

// LabelCall serves PUT /v1/calls/:id/label. It records what the far end really
// was so the confusion matrix can be computed.
func (h Handlers) LabelCall(c *gin.Context) {
	if h.Labels == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "ground truth is not operator-labelled"})
		return
	}
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := c.Param("id")
	if _, err := h.Store.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	if err := h.Labels.Set(id, calls.AMDStatus(req.Truth)); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "truth must be human or machine"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": id, "truth": req.Truth, "groundTruth": reporting.GroundTruthStatic})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be an integer"})
		return 0, false
	}
	return n, true
}
