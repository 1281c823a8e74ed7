package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"go.uber.org/zap"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, errorResponse{Error: code, Details: details})
}

// writeError maps a service error onto a status code. Unexpected errors are
// logged and their text is not returned to the caller.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var stockErr *entity.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeJSONError(w, http.StatusConflict, "insufficient_stock", stockErr.Error())
	case errors.Is(err, entity.ErrInsufficientStock):
		writeJSONError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, entity.ErrAlreadyExists):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, entity.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, entity.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, entity.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
