package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type InventoryHandler struct {
	Orders *checkout.Coordinator
}

type UpsertProductReq struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
}

type ReceiveStockReq struct {
	Quantity int `json:"quantity"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory", h.list)
	r.Get("/inventory/{productID}", h.get)
	r.Put("/inventory/{productID}", h.upsert)
	r.Post("/inventory/{productID}/receive", h.receive)
}

// stock figures here are advisory; only a reservation guarantees a unit
func (h *InventoryHandler) list(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Orders.Ledger.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []inventory.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Orders.Ledger.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	actor, _ := auth.ActorFrom(r.Context())
	rec, err := h.Orders.UpsertProduct(r.Context(), actor, inventory.Record{
		ProductID: chi.URLParam(r, "productID"),
		Name:      req.Name,
		Stock:     req.Stock,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	actor, _ := auth.ActorFrom(r.Context())
	rec, err := h.Orders.ReceiveStock(r.Context(), actor, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
