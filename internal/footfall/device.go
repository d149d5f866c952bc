package footfall

import (
	"strings"
	"time"
)

// Status is the persisted operational state of a device.
type Status string

// Device statuses.
const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
)

// Device defaults applied on registration.
const (
	DefaultFirmwareVersion = "1.0.0"
	DefaultBatteryLevel    = 100
)

// ParseStatus converts s into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusInactive, StatusMaintenance:
		return Status(s), nil
	default:
		return "", newValidationError("status", "must be active, inactive, or maintenance")
	}
}

// Device is the registry record of one sensor.
type Device struct {
	LastSeen         time.Time
	InstallationDate time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SensorID         string
	Name             string
	Description      string
	FirmwareVersion  string
	Status           Status
	Location         *GeoPoint
	BatteryLevel     int
}

// DeviceRegistration carries the caller-supplied fields of a device upsert.
type DeviceRegistration struct {
	Location         *GeoPoint
	SensorID         string
	Name             string
	Description      string
	FirmwareVersion  string
	BatteryLevel     *int
	InstallationDate time.Time
}

// NewDevice validates reg and builds the Device stored by a registration.
// Registration counts as contact from the sensor: last_seen is set to now and
// the status to active.
func NewDevice(reg DeviceRegistration, now time.Time) (*Device, error) {
	sensorID := strings.TrimSpace(reg.SensorID)
	name := strings.TrimSpace(reg.Name)
	if sensorID == "" || name == "" {
		return nil, newValidationError("", "sensor_id and name are required")
	}

	battery := DefaultBatteryLevel
	if reg.BatteryLevel != nil {
		battery = *reg.BatteryLevel
	}
	if battery < 0 || battery > 100 {
		return nil, newValidationError("battery_level", "must be between 0 and 100")
	}

	firmware := reg.FirmwareVersion
	if firmware == "" {
		firmware = DefaultFirmwareVersion
	}

	installed := reg.InstallationDate
	if installed.IsZero() {
		installed = now
	}

	return &Device{
		SensorID:         sensorID,
		Name:             name,
		Description:      reg.Description,
		Location:         reg.Location,
		FirmwareVersion:  firmware,
		BatteryLevel:     battery,
		InstallationDate: installed.UTC(),
		LastSeen:         now.UTC(),
		Status:           StatusActive,
	}, nil
}

// DeviceFilter selects devices from a DeviceRegistry.
type DeviceFilter struct {
	// Status filters on the effective (liveness-derived) status. Empty matches all.
	Status Status
	// Now is the instant the liveness window is evaluated against.
	Now time.Time
	// Limit caps the number of devices returned; 0 returns all matches.
	Limit int
}
