package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"procodus.dev/footfall/internal/footfall"
)

const environmentDevelopment = "development"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

func (h *handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps err onto the HTTP error taxonomy.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *footfall.ValidationError
	var notFound *footfall.NotFoundError

	switch {
	case errors.As(err, &validation):
		h.writeMessage(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		h.writeMessage(w, http.StatusNotFound, notFoundMessage(notFound))
	case errors.Is(err, footfall.ErrStoreUnavailable):
		h.logger.Warn("store unavailable", "path", r.URL.Path, "error", err)
		h.writeMessage(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.writeInternal(w, r, err)
	}
}

// writeInternal hides err from clients outside development.
func (h *handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)

	msg := "Internal server error"
	if h.environment == environmentDevelopment && err != nil {
		msg = err.Error()
	}
	h.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "Something went wrong!",
		Message: msg,
	})
}

func notFoundMessage(err *footfall.NotFoundError) string {
	switch err.Resource {
	case "device":
		return "Device not found"
	case "sensor data":
		return "No data found for this sensor"
	default:
		return err.Error()
	}
}
