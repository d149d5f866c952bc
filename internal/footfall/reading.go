// Package footfall implements the occupancy aggregation and device liveness core:
// reading ingestion, time-bucketed statistics, liveness derivation, and
// real-time fan-out of newly ingested readings.
package footfall

import (
	"strings"
	"time"
)

// GeoPoint is a geographic position.
type GeoPoint struct {
	Longitude float64
	Latitude  float64
}

// NewGeoPoint validates that lng and lat lie within WGS84 bounds.
func NewGeoPoint(lng, lat float64) (*GeoPoint, error) {
	if lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return nil, newValidationError("location", "coordinates out of range")
	}
	return &GeoPoint{Longitude: lng, Latitude: lat}, nil
}

// Reading is one timestamped occupancy count from one sensor.
// Readings are immutable once stored.
type Reading struct {
	Timestamp time.Time
	CreatedAt time.Time
	SensorID  string
	Location  GeoPoint
	Count     int
	ID        uint
}

// NewReading builds a Reading and enforces its invariants.
// A zero timestamp is replaced with receivedAt.
func NewReading(sensorID string, timestamp time.Time, count int, receivedAt time.Time) (*Reading, error) {
	sensorID = strings.TrimSpace(sensorID)
	if sensorID == "" {
		return nil, newValidationError("sensor_id", "is required")
	}

	if count < 0 {
		return nil, newValidationError("count", "must be a non-negative number")
	}

	if timestamp.IsZero() {
		timestamp = receivedAt
	}

	return &Reading{
		SensorID:  sensorID,
		Timestamp: timestamp.UTC(),
		Count:     count,
	}, nil
}

// ReadingFilter selects readings from a ReadingStore.
// Zero-valued fields are unbounded. From and To are inclusive.
type ReadingFilter struct {
	From     time.Time
	To       time.Time
	SensorID string
	// Limit caps the number of readings returned; 0 returns all matches.
	Limit int
}

// Contains reports whether r satisfies the filter bounds.
func (f ReadingFilter) Contains(r Reading) bool {
	if f.SensorID != "" && r.SensorID != f.SensorID {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}
