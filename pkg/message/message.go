// Package message defines the JSON payloads exchanged over the HTTP API,
// RabbitMQ and MQTT ingest paths.
package message

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// GeoPoint is a GeoJSON point: coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewGeoPoint returns a GeoJSON point at lng, lat.
func NewGeoPoint(lng, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

// LngLat returns the coordinates of p.
func (p *GeoPoint) LngLat() (lng, lat float64, err error) {
	if p.Type != "" && p.Type != "Point" {
		return 0, 0, errors.New("location: type must be Point")
	}
	if len(p.Coordinates) != 2 {
		return 0, 0, errors.New("location: coordinates must be [longitude, latitude]")
	}
	return p.Coordinates[0], p.Coordinates[1], nil
}

// SensorReading is one occupancy count reported by a sensor.
// Count is a pointer so that an omitted count can be told apart from zero.
type SensorReading struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Count     *int       `json:"count"`
	Location  *GeoPoint  `json:"location,omitempty"`
	SensorID  string     `json:"sensor_id"`
}

// Device is a device registration.
type Device struct {
	InstallationDate *time.Time `json:"installation_date,omitempty"`
	Location         *GeoPoint  `json:"location,omitempty"`
	BatteryLevel     *int       `json:"battery_level,omitempty"`
	SensorID         string     `json:"sensor_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	FirmwareVersion  string     `json:"firmware_version,omitempty"`
}

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalReading decodes a SensorReading payload.
func UnmarshalReading(data []byte) (*SensorReading, error) {
	var r SensorReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UnmarshalDevice decodes a Device payload.
func UnmarshalDevice(data []byte) (*Device, error) {
	var d Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
