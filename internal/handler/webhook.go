package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"customdomains/internal/database"
	"customdomains/internal/metrics"
	"customdomains/internal/model"
)

const maxWebhookBody = 65536

// Stripe event types that mark an order as paid.
const (
	eventCheckoutCompleted      = "checkout.session.completed"
	eventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
)

type PaymentStore interface {
	MarkOrderPaid(ctx context.Context, id, sessionID string) (bool, error)
	LogAudit(ctx context.Context, entry model.AuditEntry) error
}

type Enqueuer interface {
	Enqueue(orderID string)
}

type WebhookHandler struct {
	secret  string
	store   PaymentStore
	queue   Enqueuer
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewWebhookHandler(secret string, store PaymentStore, queue Enqueuer, log *zap.Logger, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{secret: secret, store: store, queue: queue, log: log, metrics: m}
}

// Stripe handles payment notifications. Orders are resolved from the
// "order_id" metadata key, falling back to the checkout session's client
// reference id. Anything that is not a payment for a known order is
// acknowledged with 200 so Stripe stops redelivering it.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn("rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	eventType := string(event.Type)
	h.metrics.ObserveWebhook(eventType)
	log := h.log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))

	orderID, reference, ok, err := paidOrder(eventType, event.Data.Raw)
	if err != nil {
		log.Warn("decoding webhook object", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed event object")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if orderID == "" {
		log.Warn("payment event without order reference", zap.String("reference", reference))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	changed, err := h.store.MarkOrderPaid(r.Context(), orderID, reference)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn("payment for unknown order", zap.String("order_id", orderID))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err != nil {
		// a 5xx makes Stripe redeliver the event
		log.Error("marking order paid", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}

	if changed {
		log.Info("order paid", zap.String("order_id", orderID))
		if err := h.store.LogAudit(r.Context(), model.AuditEntry{
			Actor:   "stripe",
			Action:  "payment_received",
			OrderID: orderID,
			Detail:  eventType + " " + reference,
		}); err != nil {
			log.Error("writing audit entry", zap.Error(err))
		}
		h.queue.Enqueue(orderID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// paidOrder extracts the order id and the Stripe object id from a payment
// event. ok is false for events that do not represent a completed payment.
func paidOrder(eventType string, raw json.RawMessage) (orderID, reference string, ok bool, err error) {
	switch eventType {
	case eventCheckoutCompleted, eventCheckoutAsyncSucceeded:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return "", "", false, err
		}
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return "", "", false, nil
		}
		orderID = sess.Metadata["order_id"]
		if orderID == "" {
			orderID = sess.ClientReferenceID
		}
		return orderID, sess.ID, true, nil

	case eventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return "", "", false, err
		}
		return pi.Metadata["order_id"], pi.ID, true, nil
	}
	return "", "", false, nil
}
