package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"customdomains/internal/auth"
	"customdomains/internal/database"
	"customdomains/internal/model"
	"customdomains/internal/provision"
	"customdomains/internal/service"
	"customdomains/internal/util"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, tenantID, domain string) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, status string, limit, offset int) ([]model.Order, int, error)
	LogAudit(ctx context.Context, entry model.AuditEntry) error
}

type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (*model.Order, error)
}

type OrderHandler struct {
	store     OrderStore
	fulfiller Fulfiller
	log       *zap.Logger
}

func NewOrderHandler(store OrderStore, fulfiller Fulfiller, log *zap.Logger) *OrderHandler {
	return &OrderHandler{store: store, fulfiller: fulfiller, log: log}
}

type createOrderRequest struct {
	TenantID string `json:"tenantId"`
	Domain   string `json:"domain"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenantId is required")
		return
	}
	domain, err := provision.ValidateDomain(req.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.store.CreateOrder(r.Context(), req.TenantID, domain)
	if errors.Is(err, database.ErrDuplicateDomain) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error("creating order", zap.String("domain", domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	h.audit(r, "create_order", order, "tenant="+order.TenantID)
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !validStatus(model.OrderStatus(status)) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	page, limit, offset := pageParams(r)

	orders, total, err := h.store.ListOrders(r.Context(), status, limit, offset)
	if err != nil {
		h.log.Error("listing orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":     orders,
		"page":       page,
		"totalPages": totalPages(total, limit),
		"total":      total,
	})
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.GetOrder(r.Context(), r.PathValue("id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("loading order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Retry runs provisioning for the order synchronously. A provisioning
// failure answers 502 with the failed step so the caller can tell which
// part of the setup did not go through.
func (h *OrderHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.fulfiller.Fulfill(r.Context(), id)
	switch {
	case err == nil:
		h.audit(r, "retry_order", order, "active")
		writeJSON(w, http.StatusOK, order)
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrNotFulfillable), errors.Is(err, service.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case order != nil:
		step, _ := provision.FailedStep(err)
		h.audit(r, "retry_order", order, "failed at "+string(step))
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"order": order,
			"step":  step,
			"error": err.Error(),
		})
	default:
		h.log.Error("retrying order", zap.String("order_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to retry order")
	}
}

func (h *OrderHandler) audit(r *http.Request, action string, order *model.Order, detail string) {
	err := h.store.LogAudit(r.Context(), model.AuditEntry{
		Actor:     auth.Actor,
		Action:    action,
		OrderID:   order.ID,
		Domain:    order.Domain,
		Detail:    detail,
		IPAddress: util.GetClientIP(r),
	})
	if err != nil {
		h.log.Error("writing audit entry", zap.String("action", action), zap.Error(err))
	}
}

func validStatus(s model.OrderStatus) bool {
	switch s {
	case model.StatusPendingPayment, model.StatusPaid, model.StatusProvisioning, model.StatusActive, model.StatusFailed:
		return true
	}
	return false
}
