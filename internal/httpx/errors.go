package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {Code: "VALIDATION_ERROR", Message: msg}})
}

func classify(err error) (int, errorBody) {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest, errorBody{"VALIDATION_ERROR", err.Error()}
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, errorBody{"NOT_FOUND", err.Error()}
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, errorBody{"INVALID_TRANSITION", err.Error()}
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict, errorBody{"INSUFFICIENT_STOCK", err.Error()}
	case errors.Is(err, orders.ErrAuthorization):
		return http.StatusForbidden, errorBody{"FORBIDDEN", err.Error()}
	case errors.Is(err, orders.ErrConflict):
		return http.StatusConflict, errorBody{"CONFLICT", err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{"INTERNAL", "internal error"}
	}
}
