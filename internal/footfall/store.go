package footfall

import (
	"context"
	"time"
)

// ReadingStore is the append-only record of sensor readings.
type ReadingStore interface {
	// InsertReading stores r and assigns its ID and CreatedAt.
	InsertReading(ctx context.Context, r *Reading) error
	// FindReadings returns readings matching f, newest first.
	FindReadings(ctx context.Context, f ReadingFilter) ([]Reading, error)
}

// DeviceRegistry holds one record per sensor_id.
type DeviceRegistry interface {
	// TouchDevice records contact from sensorID at seenAt: last_seen is set to
	// seenAt and the status to active, creating the device if it does not exist.
	TouchDevice(ctx context.Context, sensorID string, seenAt time.Time) error
	// UpsertDevice creates or replaces the registration fields of d.
	UpsertDevice(ctx context.Context, d *Device) (*Device, error)
	// GetDevice returns the device or a *NotFoundError.
	GetDevice(ctx context.Context, sensorID string) (*Device, error)
	// SetDeviceStatus persists status and, when lastSeen is non-nil, last_seen.
	// It returns a *NotFoundError when the device does not exist.
	SetDeviceStatus(ctx context.Context, sensorID string, status Status, lastSeen *time.Time) (*Device, error)
	// ListDevices returns devices matching f ordered by last_seen, newest first.
	ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error)
}

// Store combines the reading store and the device registry.
type Store interface {
	ReadingStore
	DeviceRegistry
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
