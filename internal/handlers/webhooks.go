package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	maxWebhookBodySize = 512 * 1024
	archiveTimeout     = 5 * time.Second
)

// WebhookVerifier authenticates a gateway delivery and decodes its event.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (payments.WebhookEvent, error)
}

// WebhookArchiver stores verified payloads. Optional.
type WebhookArchiver interface {
	ArchiveEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (string, error)
}

// WebhookHandlers receives payment gateway callbacks.
type WebhookHandlers struct {
	verifier    WebhookVerifier
	fulfillment services.FulfillmentService
	archive     WebhookArchiver
}

type WebhookOption func(*WebhookHandlers)

func WithWebhookArchive(archive WebhookArchiver) WebhookOption {
	return func(h *WebhookHandlers) {
		h.archive = archive
	}
}

func NewWebhookHandlers(verifier WebhookVerifier, fulfillment services.FulfillmentService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{verifier: verifier, fulfillment: fulfillment}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

type webhookAck struct {
	Received bool `json:"received"`
}

// stripe answers 200 for every delivery that verifies and parses and ends in a business
// outcome (created, duplicate or ignored), so the gateway does not retry those. Infrastructure
// failures answer 500 so the gateway redelivers; a redelivery is absorbed as a duplicate.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx).Named("webhooks.stripe")

	payload, err := httpx.ReadLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "unable to read webhook payload", http.StatusBadRequest))
		return
	}

	if h.verifier == nil {
		logger.Error("webhook verifier not configured")
		httpx.WriteError(ctx, w, httpx.NewError("webhook_misconfigured", "webhook endpoint misconfigured", http.StatusInternalServerError))
		return
	}
	event, err := h.verifier.Verify(payload, r.Header.Get(payments.StripeSignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrWebhookNotConfigured):
		logger.Error("webhook secret not configured")
		httpx.WriteError(ctx, w, httpx.NewError("webhook_misconfigured", "webhook endpoint misconfigured", http.StatusInternalServerError))
		return
	case errors.Is(err, payments.ErrMissingSignature):
		logger.Warn("webhook signature missing", zap.String("remote_ip", requestctx.Client(ctx).IP))
		httpx.WriteError(ctx, w, httpx.NewError("missing_signature", "signature header is required", http.StatusBadRequest))
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("webhook signature rejected, possible forgery",
			zap.String("remote_ip", requestctx.Client(ctx).IP),
			zap.Error(err),
		)
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature verification failed", http.StatusBadRequest))
		return
	default:
		logger.Warn("webhook payload malformed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	}

	// The gateway may hang up early; processing must still run to completion.
	work := context.WithoutCancel(ctx)
	logger = logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	h.archiveEvent(work, logger, event)

	if event.Completion == nil {
		logger.Debug("webhook event ignored")
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}
	if h.fulfillment == nil {
		logger.Error("fulfillment service not configured")
		httpx.WriteError(ctx, w, httpx.NewError("webhook_misconfigured", "webhook endpoint misconfigured", http.StatusInternalServerError))
		return
	}

	result, err := h.fulfillment.FulfillCheckout(work, *event.Completion)
	if err != nil {
		logger.Error("checkout fulfillment failed",
			zap.String("session_id", event.Completion.SessionID),
			zap.String("kind", string(services.ErrorKind(err))),
			zap.Error(err),
		)
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "order could not be recorded, retry later", http.StatusInternalServerError))
		return
	}
	logger.Info("checkout fulfillment processed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
		zap.String("order_id", result.OrderID),
	)
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true})
}

func (h *WebhookHandlers) archiveEvent(ctx context.Context, logger *zap.Logger, event payments.WebhookEvent) {
	if h.archive == nil || event.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	object, err := h.archive.ArchiveEvent(ctx, "stripe", event.ID, event.Type, event.Payload)
	if err != nil {
		logger.Warn("webhook archive failed", zap.Error(err))
		return
	}
	logger.Debug("webhook archived", zap.String("object", object))
}
