package footfall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RecentActivityLimit is the number of readings attached to a device detail.
const RecentActivityLimit = 10

// IngestRequest is an inbound reading before validation.
// Nil pointers mark fields the sender omitted.
type IngestRequest struct {
	Timestamp *time.Time
	Count     *int
	Location  *GeoPoint
	SensorID  string
}

// DeviceDetail is a device view with its recent readings and counters.
type DeviceDetail struct {
	DeviceView
	RecentActivity []Reading
	Statistics     DeviceStatistics
}

// Service is the ingest and query entry point used by every transport.
type Service struct {
	logger    *slog.Logger
	store     Store
	publisher Publisher
	clock     Clock
	engine    *Engine
}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Logger    *slog.Logger
	Store     Store
	Publisher Publisher
	Clock     Clock
	// Location is the reference time zone for buckets and calendar days.
	Location *time.Location
}

// NewService creates a new Service instance.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	engine, err := NewEngine(cfg.Store, clock, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregation engine: %w", err)
	}

	return &Service{
		logger:    cfg.Logger,
		store:     cfg.Store,
		publisher: publisher,
		clock:     clock,
		engine:    engine,
	}, nil
}

// Engine returns the aggregation engine backing the service.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Ingest validates and stores a reading, marks its device as seen, and
// publishes a new_data event.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*Reading, error) {
	if strings.TrimSpace(req.SensorID) == "" || req.Count == nil {
		return nil, newValidationError("", "Missing required fields: sensor_id and count are required")
	}

	now := s.clock.Now()
	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	reading, err := NewReading(req.SensorID, ts, *req.Count, now)
	if err != nil {
		return nil, err
	}
	if req.Location != nil {
		reading.Location = *req.Location
	}

	if err := s.store.InsertReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to insert reading: %w", err)
	}

	if err := s.store.TouchDevice(ctx, reading.SensorID, now); err != nil {
		return nil, fmt.Errorf("failed to update device last_seen: %w", err)
	}

	s.publisher.Publish(Event{
		SensorID:  reading.SensorID,
		Timestamp: reading.Timestamp,
		Count:     reading.Count,
		Type:      EventTypeNewData,
	})

	s.logger.Debug("reading ingested",
		"sensor_id", reading.SensorID,
		"count", reading.Count,
		"timestamp", reading.Timestamp,
	)

	return reading, nil
}

// QueryReadings returns readings matching f, newest first.
func (s *Service) QueryReadings(ctx context.Context, f ReadingFilter) ([]Reading, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, newValidationError("start_date", "must not be after end_date")
	}

	readings, err := s.store.FindReadings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

// ReadingsBySensor returns up to limit readings of sensorID, newest first.
// A sensor without readings yields a *NotFoundError.
func (s *Service) ReadingsBySensor(ctx context.Context, sensorID string, limit int) ([]Reading, error) {
	readings, err := s.QueryReadings(ctx, ReadingFilter{SensorID: sensorID, Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, &NotFoundError{Resource: "sensor data", ID: sensorID}
	}
	return readings, nil
}

// RegisterDevice creates or replaces the registration of a device.
func (s *Service) RegisterDevice(ctx context.Context, reg DeviceRegistration) (*DeviceView, error) {
	now := s.clock.Now()
	device, err := NewDevice(reg, now)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.UpsertDevice(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", err)
	}

	s.logger.Info("device registered", "sensor_id", stored.SensorID, "name", stored.Name)

	view := View(*stored, now)
	return &view, nil
}

// GetDevice returns the device view with its last readings and trailing totals.
func (s *Service) GetDevice(ctx context.Context, sensorID string) (*DeviceDetail, error) {
	device, err := s.store.GetDevice(ctx, sensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	recent, err := s.store.FindReadings(ctx, ReadingFilter{SensorID: sensorID, Limit: RecentActivityLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent activity: %w", err)
	}

	stats, err := s.engine.DeviceStatistics(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	return &DeviceDetail{
		DeviceView:     View(*device, s.clock.Now()),
		RecentActivity: recent,
		Statistics:     *stats,
	}, nil
}

// SetStatus applies an explicit status change. Setting active refreshes
// last_seen; other values leave it untouched.
func (s *Service) SetStatus(ctx context.Context, sensorID, status string) (*DeviceView, error) {
	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var lastSeen *time.Time
	if parsed == StatusActive {
		lastSeen = &now
	}

	device, err := s.store.SetDeviceStatus(ctx, sensorID, parsed, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to set device status: %w", err)
	}

	s.logger.Info("device status updated", "sensor_id", sensorID, "status", parsed)

	view := View(*device, now)
	return &view, nil
}

// ListDevices returns device views ordered by last_seen, newest first.
// status filters on the effective status; empty matches all.
func (s *Service) ListDevices(ctx context.Context, status string, limit int) ([]DeviceView, error) {
	var parsed Status
	if status != "" {
		var err error
		if parsed, err = ParseStatus(status); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	devices, err := s.store.ListDevices(ctx, DeviceFilter{Status: parsed, Now: now, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, View(d, now))
	}
	return views, nil
}

// StatusSummary counts all registered devices by status.
func (s *Service) StatusSummary(ctx context.Context) (*StatusSummary, error) {
	now := s.clock.Now()
	devices, err := s.store.ListDevices(ctx, DeviceFilter{Now: now})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	summary := SummarizeStatus(devices, now)
	return &summary, nil
}
