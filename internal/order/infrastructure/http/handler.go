package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	catalog "github.com/tableserve/fulfillment/internal/catalog/domain"
	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/internal/order/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("fulfillment-http"),
	}
}

type itemReq struct {
	ProductID   string   `json:"product_id"`
	Quantity    int      `json:"quantity"`
	ModifierIDs []string `json:"modifier_ids"`
}

type createOrderReq struct {
	CustomerID string    `json:"customer_id"`
	TableID    string    `json:"table_id"`
	Items      []itemReq `json:"items"`
}

type updateQuantityReq struct {
	Quantity int `json:"quantity"`
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/items", h.addItem)
	r.Patch("/orders/{orderID}/items/{itemID}", h.updateItemQuantity)
	r.Delete("/orders/{orderID}/items/{itemID}", h.removeItem)
	r.Post("/orders/{orderID}/close", h.closeOrder)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	in := application.CreateOrderInput{CustomerID: req.CustomerID, TableID: req.TableID}
	for _, it := range req.Items {
		in.Items = append(in.Items, application.ItemInput{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			ModifierIDs: it.ModifierIDs,
		})
	}

	o, err := h.service.CreateOrder(ctx, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	o, err := h.service.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddItem")
	defer span.End()

	var req itemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	item, err := h.service.AddItem(ctx, chi.URLParam(r, "orderID"), application.ItemInput{
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		ModifierIDs: req.ModifierIDs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) updateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateItemQuantity")
	defer span.End()

	var req updateQuantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	item, err := h.service.UpdateItemQuantity(ctx, chi.URLParam(r, "orderID"), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity <= 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RemoveItem")
	defer span.End()

	if err := h.service.RemoveItem(ctx, chi.URLParam(r, "orderID"), chi.URLParam(r, "itemID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) closeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CloseOrder")
	defer span.End()

	if err := h.service.CloseOrder(ctx, chi.URLParam(r, "orderID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	var req cancelOrderReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.CancelOrder(ctx, chi.URLParam(r, "orderID"), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write response", "error", err)
	}
}

// writeError maps domain errors onto the HTTP surface. Insufficient stock
// carries the ingredient detail so clients can tell the caller what ran out.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "insufficient stock",
			"ingredient_id": stockErr.IngredientID,
			"available":     stockErr.Available,
			"required":      stockErr.Required,
		})
	case errors.Is(err, domain.ErrOrderNotOpen):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, inventory.ErrIngredientNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidQuantity):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.log.Error("request failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
