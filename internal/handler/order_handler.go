package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// OrderGate は注文アクセスゲートのインターフェース。
// order.Gateが実装する。
type OrderGate interface {
	Handle(ctx context.Context, evidence, orderID string) (*model.Order, error)
}

// OrderHandler は注文参照のHTTPハンドラー。
// 認証はゲート自身が行うため、セッションミドルウェアの外側に配置する。
type OrderHandler struct {
	gate OrderGate
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(gate OrderGate) *OrderHandler {
	return &OrderHandler{gate: gate}
}

// GetOrder は注文を返す。
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	order, err := h.gate.Handle(r.Context(), middleware.EvidenceFromRequest(r), orderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}
