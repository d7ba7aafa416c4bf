package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"amd-platform/internal/calls"
	"amd-platform/pkg/logger"
)

const streamBatch = 50

// StreamCalls serves GET /v1/stream/calls as server-sent events: an open event,
// a snapshot of the most recent calls, then a tick with the same view on every
// interval and a comment heartbeat to keep proxies from closing the connection.
func (h Handlers) StreamCalls(c *gin.Context) {
	interval := h.StreamInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	heartbeatEvery := h.HeartbeatInterval
	if heartbeatEvery <= 0 {
		heartbeatEvery = 15 * time.Second
	}
	log := logger.FromGin(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)

	fmt.Fprint(c.Writer, "event: open\ndata: ok\n\n")
	c.Writer.Flush()

	ctx := c.Request.Context()
	send := func(event string) bool {
		rows, err := h.Store.List(ctx, calls.ListFilter{Limit: streamBatch})
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("call stream query failed", "err", err)
			}
			return ctx.Err() == nil
		}
		if err := writeSSE(c.Writer, event, rows); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	if !send("snapshot") {
		return
	}

	ticker := time.NewTicker(interval)
	heartbeat := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		case <-ticker.C:
			if !send("tick") {
				return
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	return err
}
