// Package memory provides an in-process footfall.Store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"procodus.dev/footfall/internal/footfall"
)

// Store keeps readings and devices in memory.
type Store struct {
	clock    footfall.Clock
	devices  map[string]footfall.Device
	readings []footfall.Reading
	nextID   uint
	mu       sync.RWMutex
}

var _ footfall.Store = (*Store)(nil)

// New creates an empty Store. A nil clock uses the system clock for
// created_at and updated_at stamps.
func New(clock footfall.Clock) *Store {
	if clock == nil {
		clock = footfall.SystemClock{}
	}
	return &Store{
		clock:   clock,
		devices: make(map[string]footfall.Device),
	}
}

// InsertReading appends r and assigns its ID and CreatedAt.
func (s *Store) InsertReading(ctx context.Context, r *footfall.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	r.CreatedAt = s.clock.Now()
	s.readings = append(s.readings, *r)
	return nil
}

// FindReadings returns readings matching f, newest first.
func (s *Store) FindReadings(ctx context.Context, f footfall.ReadingFilter) ([]footfall.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matches := make([]footfall.Reading, 0)
	for _, r := range s.readings {
		if f.Contains(r) {
			matches = append(matches, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}
	return matches, nil
}

// TouchDevice sets last_seen and status active, creating the device with
// defaults when it is unknown.
func (s *Store) TouchDevice(ctx context.Context, sensorID string, seenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	d, ok := s.devices[sensorID]
	if !ok {
		d = footfall.Device{
			SensorID:         sensorID,
			Name:             sensorID,
			FirmwareVersion:  footfall.DefaultFirmwareVersion,
			BatteryLevel:     footfall.DefaultBatteryLevel,
			InstallationDate: seenAt,
			CreatedAt:        now,
		}
	}
	d.LastSeen = seenAt
	d.Status = footfall.StatusActive
	d.UpdatedAt = now
	s.devices[sensorID] = d
	return nil
}

// UpsertDevice creates d or replaces the registration fields of the existing
// record, preserving its creation time.
func (s *Store) UpsertDevice(ctx context.Context, d *footfall.Device) (*footfall.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	stored := *d
	stored.CreatedAt = now
	if existing, ok := s.devices[d.SensorID]; ok {
		stored.CreatedAt = existing.CreatedAt
		if stored.Location == nil {
			stored.Location = existing.Location
		}
		if stored.Description == "" {
			stored.Description = existing.Description
		}
	}
	stored.UpdatedAt = now
	s.devices[d.SensorID] = stored
	return &stored, nil
}

// GetDevice returns the device registered under sensorID.
func (s *Store) GetDevice(ctx context.Context, sensorID string) (*footfall.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[sensorID]
	if !ok {
		return nil, &footfall.NotFoundError{Resource: "device", ID: sensorID}
	}
	return &d, nil
}

// SetDeviceStatus stores status and, when lastSeen is set, last_seen.
func (s *Store) SetDeviceStatus(ctx context.Context, sensorID string, status footfall.Status, lastSeen *time.Time) (*footfall.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[sensorID]
	if !ok {
		return nil, &footfall.NotFoundError{Resource: "device", ID: sensorID}
	}
	d.Status = status
	if lastSeen != nil {
		d.LastSeen = *lastSeen
	}
	d.UpdatedAt = s.clock.Now()
	s.devices[sensorID] = d
	return &d, nil
}

// ListDevices returns devices matching f ordered by last_seen, newest first.
func (s *Store) ListDevices(ctx context.Context, f footfall.DeviceFilter) ([]footfall.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := f.Now
	if now.IsZero() {
		now = s.clock.Now()
	}

	s.mu.RLock()
	devices := make([]footfall.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if footfall.MatchesStatus(d, f.Status, now) {
			devices = append(devices, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if !devices[i].LastSeen.Equal(devices[j].LastSeen) {
			return devices[i].LastSeen.After(devices[j].LastSeen)
		}
		return devices[i].SensorID < devices[j].SensorID
	})
	if f.Limit > 0 && len(devices) > f.Limit {
		devices = devices[:f.Limit]
	}
	return devices, nil
}

// Ping always succeeds unless ctx is done.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
