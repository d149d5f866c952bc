// Package postgres implements footfall.Store on PostgreSQL through gorm.
package postgres

import (
	"time"

	"procodus.dev/footfall/internal/footfall"
)

// ReadingRecord is a sensor reading row.
type ReadingRecord struct {
	Timestamp time.Time `gorm:"index:idx_sensor_timestamp,priority:2;index:idx_timestamp;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	SensorID  string    `gorm:"index:idx_sensor_timestamp,priority:1;not null"`
	Longitude float64   `gorm:"not null"`
	Latitude  float64   `gorm:"not null"`
	Count     int       `gorm:"not null;check:chk_count_non_negative,count >= 0"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for ReadingRecord.
func (ReadingRecord) TableName() string {
	return "sensor_readings"
}

// DeviceRecord is a device registry row, unique by sensor_id.
type DeviceRecord struct {
	InstallationDate time.Time `gorm:"not null"`
	LastSeen         time.Time `gorm:"index:idx_last_seen;not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
	Longitude        *float64
	Latitude         *float64
	SensorID         string `gorm:"uniqueIndex;not null"`
	Name             string `gorm:"not null"`
	Description      string
	FirmwareVersion  string `gorm:"not null"`
	Status           string `gorm:"index:idx_status;not null"`
	BatteryLevel     int    `gorm:"not null;check:chk_battery_range,battery_level BETWEEN 0 AND 100"`
	ID               uint   `gorm:"primaryKey"`
}

// TableName specifies the table name for DeviceRecord.
func (DeviceRecord) TableName() string {
	return "devices"
}

func newReadingRecord(r *footfall.Reading) *ReadingRecord {
	return &ReadingRecord{
		SensorID:  r.SensorID,
		Timestamp: r.Timestamp,
		Count:     r.Count,
		Longitude: r.Location.Longitude,
		Latitude:  r.Location.Latitude,
	}
}

func (r ReadingRecord) toReading() footfall.Reading {
	return footfall.Reading{
		ID:        r.ID,
		SensorID:  r.SensorID,
		Timestamp: r.Timestamp.UTC(),
		Count:     r.Count,
		Location:  footfall.GeoPoint{Longitude: r.Longitude, Latitude: r.Latitude},
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func newDeviceRecord(d *footfall.Device) *DeviceRecord {
	rec := &DeviceRecord{
		SensorID:         d.SensorID,
		Name:             d.Name,
		Description:      d.Description,
		FirmwareVersion:  d.FirmwareVersion,
		BatteryLevel:     d.BatteryLevel,
		InstallationDate: d.InstallationDate,
		LastSeen:         d.LastSeen,
		Status:           string(d.Status),
	}
	if d.Location != nil {
		lng, lat := d.Location.Longitude, d.Location.Latitude
		rec.Longitude, rec.Latitude = &lng, &lat
	}
	return rec
}

func (d DeviceRecord) toDevice() footfall.Device {
	device := footfall.Device{
		SensorID:         d.SensorID,
		Name:             d.Name,
		Description:      d.Description,
		FirmwareVersion:  d.FirmwareVersion,
		BatteryLevel:     d.BatteryLevel,
		InstallationDate: d.InstallationDate.UTC(),
		LastSeen:         d.LastSeen.UTC(),
		Status:           footfall.Status(d.Status),
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if d.Longitude != nil && d.Latitude != nil {
		device.Location = &footfall.GeoPoint{Longitude: *d.Longitude, Latitude: *d.Latitude}
	}
	return device
}
