package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Orders *checkout.Coordinator
	// Cache is optional; without it every read goes to the store.
	Cache *redisx.OrderCache
	Log   *slog.Logger
}

type CreateOrderReq struct {
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Status          string `json:"status"`
	ShippingAddress string `json:"shipping_address"`
	PaymentOffline  *bool  `json:"payment_offline"`
	Note            string `json:"note"`
	AccountID       string `json:"account_id"`
}

type ChangeStatusReq struct {
	Status          string `json:"status"`
	ShippingAddress string `json:"shipping_address"`
}

type CheckoutReq struct {
	OrderIDs        []string `json:"order_ids"`
	ShippingAddress string   `json:"shipping_address"`
}

type OrderResp struct {
	orders.Order
	Total decimal.Decimal `json:"total"`
}

type OrderWithOwnerResp struct {
	OrderResp
	Owner orders.Account `json:"owner"`
}

type CheckoutItemResp struct {
	OrderID string     `json:"order_id"`
	OK      bool       `json:"ok"`
	Order   *OrderResp `json:"order,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type CheckoutResp struct {
	Results   []CheckoutItemResp `json:"results"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listAll)
	r.Post("/orders/checkout", h.checkout)
	r.Get("/orders/user/{id}", h.listByUser)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.changeStatus)
	r.Patch("/orders/{id}/cancel", h.cancel)
}

func toResp(o orders.Order) OrderResp {
	return OrderResp{Order: o, Total: o.Total()}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	var status orders.Status
	if req.Status != "" {
		st, err := orders.ParseStatus(req.Status)
		if err != nil {
			writeError(w, err)
			return
		}
		status = st
	}
	offline := true
	if req.PaymentOffline != nil {
		offline = *req.PaymentOffline
	}

	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.Orders.Create(r.Context(), actor, checkout.CreateRequest{
		ExternalID:      r.Header.Get("Idempotency-Key"),
		AccountID:       req.AccountID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		Status:          status,
		ShippingAddress: req.ShippingAddress,
		PaymentOffline:  offline,
		Note:            req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.evict(r.Context(), o)
	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	all, err := h.Orders.ListAll(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]OrderWithOwnerResp, 0, len(all))
	for _, o := range all {
		out = append(out, OrderWithOwnerResp{OrderResp: toResp(o.Order), Owner: o.Owner})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	list, err := h.Orders.ListByAccount(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]OrderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	orderID := chi.URLParam(r, "id")

	if h.Cache == nil {
		o, err := h.Orders.Get(r.Context(), actor, orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResp(o))
		return
	}

	o, err := h.Cache.Get(r.Context(), orderID, func(ctx context.Context) (orders.Order, error) {
		return h.Orders.Orders.Get(ctx, orderID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !orders.DefaultPolicy.CanRead(actor, o.AccountID) {
		writeError(w, orders.ErrAuthorization)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.Orders.ChangeStatus(r.Context(), actor, chi.URLParam(r, "id"), to, req.ShippingAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	h.evict(r.Context(), o)
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.Orders.Cancel(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.evict(r.Context(), o)
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if len(req.OrderIDs) == 0 {
		badRequest(w, "order_ids is required")
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	results := h.Orders.Checkout(r.Context(), actor, checkout.CheckoutRequest{
		OrderIDs:        req.OrderIDs,
		ShippingAddress: req.ShippingAddress,
	})

	resp := CheckoutResp{Results: make([]CheckoutItemResp, 0, len(results))}
	for _, res := range results {
		item := CheckoutItemResp{OrderID: res.OrderID}
		if res.Err != nil {
			_, body := classify(res.Err)
			item.Error = &body
			resp.Failed++
		} else {
			o := toResp(res.Order)
			item.OK, item.Order = true, &o
			resp.Succeeded++
			h.evict(r.Context(), res.Order)
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// evict drops the cached copy after a write. Writing the new copy instead
// could land after a later write's and pin a stale status; the next read
// loads from the store.
func (h *OrdersHandler) evict(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, o.ID); err != nil {
		h.Log.WarnContext(ctx, "order cache invalidate failed", slog.String("order_id", o.ID), slog.Any("err", err))
	}
}
