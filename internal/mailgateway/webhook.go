package mailgateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/campaignsched/internal/store"
	"github.com/jwalitptl/campaignsched/pkg/logger"
)

// Event is one push-status event, shaped after the fields a provider's
// event webhook delivers (event type, the message id it concerns, and a
// timestamp used to resolve out-of-order deliveries). This is a
// supplemented feature: spec.md only specifies pull-based queryStatus;
// original_source/sendgrid_webhook.py shows the provider also pushes
// status via a signed webhook, so this complements rather than replaces
// ListStaleDeliveries-driven polling.
type Event struct {
	MessageID string `json:"sg_message_id"`
	EventType string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Email     string `json:"email"`
}

// eventStatus maps a provider event type to the tracking row's
// delivery_status vocabulary, mirroring
// original_source/sendgrid_webhook.py's status_mapping table. Event types
// with no mapping here are ignored rather than recorded as "unknown",
// since a row's delivery_status should only ever hold a terminal value.
var eventStatus = map[string]string{
	"delivered": "delivered",
	"open":      "delivered",
	"click":     "delivered",
	"bounce":    "bounced",
	"dropped":   "dropped",
	"deferred":  "deferred",
}

const (
	signatureHeader = "X-Webhook-Signature"
	timestampHeader = "X-Webhook-Timestamp"
)

// WebhookHandler verifies and applies push-status callbacks against a
// Store. One handler instance is shared across organizations; row lookup
// by message_id goes through the store's indexed FindByMessageID rather
// than scanning per-organization files the way the original Python
// implementation did.
type WebhookHandler struct {
	signingKey string
	store      store.Store
	log        *logger.Logger
}

// NewWebhookHandler builds a handler. An empty signingKey disables
// signature verification (accepts every request), matching
// original_source/sendgrid_webhook.py's behavior when no key is
// configured — logged as a warning, never a silent security downgrade.
func NewWebhookHandler(signingKey string, st store.Store, log *logger.Logger) *WebhookHandler {
	if signingKey == "" && log != nil {
		log.Warn("mail gateway webhook signature verification disabled: no signing key configured")
	}
	return &WebhookHandler{signingKey: signingKey, store: st, log: log}
}

// RegisterRoutes mounts the webhook receiver under r.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/mailgateway", h.Handle)
}

// Handle verifies the request signature, parses the event batch, and
// applies each event's terminal delivery outcome to its matching
// TrackingRow via UpdateDeliveryStatus.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader(signatureHeader)
	timestamp := c.GetHeader(timestampHeader)
	if !h.verifySignature(body, signature, timestamp) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	applied, skipped := h.apply(c.Request.Context(), events)
	c.JSON(http.StatusOK, gin.H{"applied": applied, "skipped": skipped})
}

// verifySignature recomputes HMAC-SHA256 over timestamp||payload and
// compares it against the caller-supplied signature, exactly as
// original_source/sendgrid_webhook.py's verify_signature does (base64 of
// the digest, constant-time compare).
func (h *WebhookHandler) verifySignature(payload []byte, signature, timestamp string) bool {
	if h.signingKey == "" {
		return true
	}
	if signature == "" || timestamp == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.signingKey))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *WebhookHandler) apply(ctx context.Context, events []Event) (applied, skipped int) {
	for messageID, event := range latestByMessageID(events) {
		status, ok := eventStatus[event.EventType]
		if !ok {
			skipped++
			continue
		}
		row, err := h.store.FindByMessageID(ctx, messageID)
		if err != nil {
			skipped++
			continue
		}
		details := event.EventType
		if err := h.store.UpdateDeliveryStatus(ctx, row.ID, status, &details, time.Now()); err != nil {
			if h.log != nil {
				h.log.Error(err, "webhook: update delivery status failed", "message_id", messageID)
			}
			skipped++
			continue
		}
		applied++
	}
	return applied, skipped
}

// latestByMessageID keeps only the most recent event per message id, per
// original_source/sendgrid_webhook.py's emails_by_message_id grouping.
func latestByMessageID(events []Event) map[string]Event {
	out := make(map[string]Event, len(events))
	for _, e := range events {
		existing, ok := out[e.MessageID]
		if !ok || e.Timestamp > existing.Timestamp {
			out[e.MessageID] = e
		}
	}
	return out
}
