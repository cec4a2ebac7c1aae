package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/juju/errors"

	"github.com/lingomate/backend/internal/accounts"
	"github.com/lingomate/backend/internal/logging"
)

const (
	internalErrorMessage = "Internal Server Error"
	maxJSONBody          = 1 << 20
)

type messageResponse struct {
	Message string `json:"message"`
}

type missingFieldsResponse struct {
	Message       string   `json:"message"`
	MissingFields []string `json:"missingFields"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		logging.FromContext(ctx).Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondMessage(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, messageResponse{Message: message})
}

// respondError maps domain error kinds onto HTTP statuses. Unclassified errors
// are logged with detail and answered with a generic 500.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var missing *accounts.MissingFieldsError
	if errors.As(err, &missing) {
		respondJSON(ctx, w, http.StatusBadRequest, missingFieldsResponse{
			Message:       missing.Error(),
			MissingFields: missing.Fields,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request failed", slog.String("error", err.Error()))
		respondMessage(ctx, w, status, internalErrorMessage)
		return
	}
	respondMessage(ctx, w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.AlreadyExists):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.NotSupported):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		logging.FromContext(r.Context()).Warn("invalid request payload", "error", err)
		return errors.NewNotValid(nil, "Invalid request body")
	}
	return nil
}
