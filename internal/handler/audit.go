package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"customdomains/internal/model"
)

type AuditStore interface {
	ListAuditLog(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error)
}

type AuditHandler struct {
	store AuditStore
	log   *zap.Logger
}

func NewAuditHandler(store AuditStore, log *zap.Logger) *AuditHandler {
	return &AuditHandler{store: store, log: log}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pageParams(r)

	entries, total, err := h.store.ListAuditLog(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("listing audit log", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":    entries,
		"page":       page,
		"totalPages": totalPages(total, limit),
		"total":      total,
	})
}
