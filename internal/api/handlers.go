package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"procodus.dev/footfall/internal/footfall"
)

const healthPingTimeout = 2 * time.Second

type messageResponse struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
}

type listResponse struct {
	Data  any `json:"data"`
	Count int `json:"count"`
}

func (h *handler) postReading(w http.ResponseWriter, r *http.Request) {
	var req postReadingRequest
	if err := decode(w, r, &req); err != nil {
		h.countIngest(err)
		h.writeError(w, r, err)
		return
	}

	in, err := req.toDomain()
	if err != nil {
		h.countIngest(err)
		h.writeError(w, r, err)
		return
	}

	stored, err := h.service.Ingest(r.Context(), in)
	h.countIngest(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, messageResponse{
		Message: "Sensor data recorded successfully",
		Data:    newReading(*stored),
	})
}

func (h *handler) listReadings(w http.ResponseWriter, r *http.Request) {
	filter, err := queryRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryLimit(r, defaultReadingLimit); err != nil {
		h.writeError(w, r, err)
		return
	}

	readings, err := h.service.QueryReadings(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, listResponse{Count: len(readings), Data: newReadings(readings)})
}

func (h *handler) readingsBySensor(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensorID")
	limit, err := queryLimit(r, defaultReadingLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	readings, err := h.service.ReadingsBySensor(r.Context(), sensorID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		SensorID string    `json:"sensor_id"`
		Data     []reading `json:"data"`
		Count    int       `json:"count"`
	}{SensorID: sensorID, Count: len(readings), Data: newReadings(readings)})
}

func (h *handler) analytics(w http.ResponseWriter, r *http.Request) {
	filter, err := queryRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	period, err := footfall.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	buckets, err := h.service.Engine().Aggregate(r.Context(), footfall.AggregateQuery{
		Start:    filter.From,
		End:      filter.To,
		Period:   period,
		SensorID: filter.SensorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		Period string   `json:"period"`
		Data   []bucket `json:"data"`
		Count  int      `json:"count"`
	}{Period: string(period), Count: len(buckets), Data: newBuckets(buckets)})
}

func (h *handler) realtime(w http.ResponseWriter, r *http.Request) {
	bySensor, err := h.service.Engine().Realtime(r.Context(), r.URL.Query().Get("sensor_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := make(map[string]series, len(bySensor))
	for id, s := range bySensor {
		data[id] = series(s)
	}
	h.writeJSON(w, http.StatusOK, struct {
		Data   map[string]series `json:"data"`
		Period string            `json:"period"`
	}{Period: "realtime", Data: data})
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Engine().Summary(r.Context(), r.URL.Query().Get("sensor_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newSummary(s))
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultDeviceLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" {
		if err := validateRequest(&statusRequest{Status: status}); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	views, err := h.service.ListDevices(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	devices := make([]device, len(views))
	for i, v := range views {
		devices[i] = newDevice(v)
	}
	h.writeJSON(w, http.StatusOK, listResponse{Count: len(devices), Data: devices})
}

func (h *handler) getDevice(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetDevice(r.Context(), chi.URLParam(r, "sensorID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newDeviceDetail(detail))
}

func (h *handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	reg, err := req.toDomain()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.service.RegisterDevice(r.Context(), reg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, messageResponse{
		Message: "Device created/updated successfully",
		Data:    newDevice(*view),
	})
}

func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "sensorID"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, messageResponse{
		Message: "Device status updated successfully",
		Data:    newDevice(*view),
	})
}

func (h *handler) statusSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.StatusSummary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newStatusSummary(s))
}

type healthResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Uptime    float64   `json:"uptime"`
}

// health reports liveness of the process. An unreachable store does not fail
// the check.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	store := "connected"
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Debug("store ping failed", "error", err)
			store = "disconnected"
		}
	}

	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: now,
		Uptime:    now.Sub(h.startedAt).Seconds(),
		Store:     store,
	})
}

func (h *handler) countIngest(err error) {
	if h.ingest == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case footfall.IsValidation(err):
		status = "invalid"
	default:
		status = "error"
	}
	h.ingest.ReadingsIngested.WithLabelValues("http", status).Inc()
}
