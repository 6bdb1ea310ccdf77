package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body, prefixed "sha256="
const SignatureHeader = "X-ERP-Signature"

// DeliveryHeader carries the ERP's unique id for one webhook delivery.
// Redeliveries reuse it.
const DeliveryHeader = "X-ERP-Delivery"

// DefaultDeliveryTTL is how long a delivery id is remembered
const DefaultDeliveryTTL = 24 * time.Hour

// WebhookHandler receives ERP price change notifications and turns them
// into realtime sync jobs
type WebhookHandler struct {
	BaseHandler
	jobs        SyncJobService
	secret      []byte
	deliveries  shared.IdempotencyStore
	deliveryTTL time.Duration
	logger      *zap.Logger
}

// WebhookOption configures a WebhookHandler
type WebhookOption func(*WebhookHandler)

// WithDeliveryStore drops redeliveries whose DeliveryHeader was already
// accepted within ttl
func WithDeliveryStore(store shared.IdempotencyStore, ttl time.Duration) WebhookOption {
	return func(h *WebhookHandler) {
		h.deliveries = store
		if ttl > 0 {
			h.deliveryTTL = ttl
		}
	}
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables
// signature verification.
func NewWebhookHandler(jobs SyncJobService, secret string, logger *zap.Logger, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{jobs: jobs, secret: []byte(secret), deliveryTTL: DefaultDeliveryTTL, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PriceChanged verifies the signature and starts, or joins, a realtime job
// for the listed products
func (h *WebhookHandler) PriceChanged(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.BadRequest(c, "Unreadable request body")
		return
	}

	if !h.verify(c.GetHeader(SignatureHeader), body) {
		h.logger.Warn("webhook signature rejected", zap.String("client_ip", c.ClientIP()))
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeSignatureInvalid, "Invalid webhook signature")
		return
	}

	var event pricesyncapp.WebhookPriceEvent
	if err := binding.JSON.BindBody(body, &event); err != nil {
		h.BindError(c, err)
		return
	}

	if delivery := c.GetHeader(DeliveryHeader); delivery != "" && h.deliveries != nil {
		first, err := h.deliveries.MarkProcessed(c.Request.Context(), event.TenantID.String()+":"+delivery, h.deliveryTTL)
		if err != nil {
			// fail open
			h.logger.Warn("webhook delivery check failed", zap.String("delivery", delivery), zap.Error(err))
		} else if !first {
			h.logger.Info("webhook redelivery ignored", zap.String("delivery", delivery))
			h.Success(c, gin.H{"duplicate": true, "delivery": delivery})
			return
		}
	}

	result, err := h.jobs.TriggerSync(c.Request.Context(), pricesyncapp.TriggerSyncRequest{
		TenantID:    event.TenantID,
		Cadence:     pricesync.CadenceRealtime,
		ExternalIDs: event.ExternalIDs,
		TriggeredBy: pricesync.TriggerWebhook,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.logger.Info("webhook accepted",
		zap.String("tenant_id", event.TenantID.String()),
		zap.Int("external_ids", len(event.ExternalIDs)),
		zap.String("job_id", result.JobID.String()),
		zap.Bool("already_running", result.AlreadyRunning),
	)
	h.Accepted(c, result)
}

func (h *WebhookHandler) verify(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign returns the HMAC-SHA256 of body under secret
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
