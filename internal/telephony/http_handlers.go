package telephony

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"amd-platform/internal/calls"
	"amd-platform/pkg/logger"
)

const maxWebhookBody = 1 << 20

// WebhookHandler converts provider callbacks to calls.ProviderEvent values and
// hands them to the ResultSink.
//
// No business logic here. Providers retry on non-2xx, so every callback is
// acknowledged once it has been parsed, including callbacks for unknown calls.
type WebhookHandler struct {
	Sink    ResultSink
	Metrics calls.Metrics

	// TwilioAuthToken enables X-Twilio-Signature validation when ValidateSignature is set.
	TwilioAuthToken   string
	ValidateSignature bool
	// PublicBaseURL is the externally visible origin Twilio signed against.
	PublicBaseURL string

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h WebhookHandler) metrics() calls.Metrics {
	if h.Metrics == nil {
		return calls.NopMetrics{}
	}
	return h.Metrics
}

// HandleTwilio serves POST /webhooks/twilio?callId=&strategy=.
func (h WebhookHandler) HandleTwilio(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "result sink not configured"})
		return
	}

	form, err := ParseTwilioCallback(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.ValidateSignature {
		fullURL := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
		if !ValidTwilioSignature(h.TwilioAuthToken, fullURL, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			log.Warn("twilio webhook signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	callID := c.Query("callId")
	strategy := calls.Strategy(c.Query("strategy"))
	if ev, ok := form.ToEvent(strategy, h.now()); ok {
		h.apply(c.Request.Context(), log, callID, ev)
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, emptyTwiML)
}

// HandleSIPAMD serves POST /webhooks/sip/amd?callId=.
func (h WebhookHandler) HandleSIPAMD(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "result sink not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	p, err := ParseJambonzAMD(body)
	if err != nil {
		log.Warn("jambonz amd parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	h.apply(c.Request.Context(), log, c.Query("callId"), p.ToEvent(h.now()))
	c.JSON(http.StatusOK, gin.H{})
}

// HandleSIPStatus serves POST /webhooks/sip/status?callId=.
func (h WebhookHandler) HandleSIPStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "result sink not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	p, err := ParseJambonzStatus(body)
	if err != nil {
		log.Warn("jambonz status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if ev, ok := p.ToEvent(); ok {
		h.apply(c.Request.Context(), log, c.Query("callId"), ev)
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h WebhookHandler) apply(ctx context.Context, log *slog.Logger, callID string, ev calls.ProviderEvent) {
	h.metrics().WebhookEvent(ev.Source, ev.Kind)
	if callID == "" {
		log.Warn("webhook without callId", "source", ev.Source, "kind", string(ev.Kind), "provider_call_id", ev.ProviderCallID)
		return
	}

	out, err := h.Sink.Apply(ctx, callID, ev)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		log.Warn("webhook for unknown call", "call_id", callID, "source", ev.Source, "kind", string(ev.Kind))
	case err != nil:
		log.Error("webhook apply failed", "call_id", callID, "source", ev.Source, "kind", string(ev.Kind), "err", err)
	default:
		log.Debug("webhook applied",
			"call_id", callID,
			"source", ev.Source,
			"kind", string(ev.Kind),
			"applied", out.Applied,
			"reason", out.Reason,
		)
	}
}
