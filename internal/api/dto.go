package api

import (
	"fmt"
	"time"

	"procodus.dev/footfall/internal/footfall"
)

type geoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
}

func newGeoPoint(p footfall.GeoPoint) *geoPoint {
	return &geoPoint{Type: "Point", Coordinates: []float64{p.Longitude, p.Latitude}}
}

func (g *geoPoint) toDomain() (*footfall.GeoPoint, error) {
	if g == nil {
		return nil, nil
	}
	if g.Type != "" && g.Type != "Point" {
		return nil, &footfall.ValidationError{Field: "location", Message: "type must be Point"}
	}
	return footfall.NewGeoPoint(g.Coordinates[0], g.Coordinates[1])
}

type reading struct {
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	Location  *geoPoint `json:"location"`
	SensorID  string    `json:"sensor_id"`
	Count     int       `json:"count"`
	ID        uint      `json:"id"`
}

func newReading(r footfall.Reading) reading {
	return reading{
		ID:        r.ID,
		SensorID:  r.SensorID,
		Timestamp: r.Timestamp,
		Count:     r.Count,
		Location:  newGeoPoint(r.Location),
		CreatedAt: r.CreatedAt,
	}
}

func newReadings(rs []footfall.Reading) []reading {
	out := make([]reading, len(rs))
	for i, r := range rs {
		out[i] = newReading(r)
	}
	return out
}

type device struct {
	InstallationDate  time.Time `json:"installation_date"`
	LastSeen          time.Time `json:"last_seen"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Location          *geoPoint `json:"location,omitempty"`
	SensorID          string    `json:"sensor_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	FirmwareVersion   string    `json:"firmware_version"`
	Status            string    `json:"status"`
	TimeSinceLastSeen string    `json:"time_since_last_seen"`
	BatteryLevel      int       `json:"battery_level"`
	IsActive          bool      `json:"is_active"`
}

func newDevice(v footfall.DeviceView) device {
	d := device{
		SensorID:          v.SensorID,
		Name:              v.Name,
		Description:       v.Description,
		FirmwareVersion:   v.FirmwareVersion,
		BatteryLevel:      v.BatteryLevel,
		InstallationDate:  v.InstallationDate,
		LastSeen:          v.LastSeen,
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
		Status:            string(v.Status),
		IsActive:          v.IsActive,
		TimeSinceLastSeen: v.TimeSinceLastSeen,
	}
	if v.Location != nil {
		d.Location = newGeoPoint(*v.Location)
	}
	return d
}

type windowTotals struct {
	TotalCount int `json:"total_count"`
	DataPoints int `json:"data_points"`
}

type deviceDetail struct {
	device
	RecentActivity []reading `json:"recent_activity"`
	Statistics     struct {
		LastHour    windowTotals `json:"last_hour"`
		Last24Hours windowTotals `json:"last_24_hours"`
	} `json:"statistics"`
}

func newDeviceDetail(d *footfall.DeviceDetail) deviceDetail {
	out := deviceDetail{
		device:         newDevice(d.DeviceView),
		RecentActivity: newReadings(d.RecentActivity),
	}
	out.Statistics.LastHour = windowTotals(d.Statistics.LastHour)
	out.Statistics.Last24Hours = windowTotals(d.Statistics.Last24Hours)
	return out
}

type bucket struct {
	PeriodStart time.Time `json:"period_start"`
	SensorID    string    `json:"sensor_id"`
	Period      string    `json:"period"`
	TotalCount  int       `json:"total_count"`
	DataPoints  int       `json:"data_points"`
	AvgCount    float64   `json:"avg_count"`
	MinCount    int       `json:"min_count"`
	MaxCount    int       `json:"max_count"`
}

func newBuckets(bs []footfall.AggregateBucket) []bucket {
	out := make([]bucket, len(bs))
	for i, b := range bs {
		out[i] = bucket{
			SensorID:    b.SensorID,
			Period:      b.Label,
			PeriodStart: b.PeriodStart,
			TotalCount:  b.TotalCount,
			DataPoints:  b.DataPoints,
			AvgCount:    b.AvgCount,
			MinCount:    b.MinCount,
			MaxCount:    b.MaxCount,
		}
	}
	return out
}

type series struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
}

type periodSummary struct {
	TotalCount   int `json:"total_count"`
	SensorCount  int `json:"sensor_count"`
	AvgPerSensor int `json:"avg_per_sensor"`
}

type sensorDetail struct {
	SensorID   string  `json:"sensor_id"`
	TotalCount int     `json:"total_count"`
	DataPoints int     `json:"data_points"`
	AvgCount   float64 `json:"avg_count"`
}

type summary struct {
	SensorDetails []sensorDetail `json:"sensor_details"`
	Today         periodSummary  `json:"today"`
	Yesterday     periodSummary  `json:"yesterday"`
	ChangePercent float64        `json:"change_percent"`
}

func newSummary(s *footfall.Summary) summary {
	details := make([]sensorDetail, len(s.SensorDetails))
	for i, d := range s.SensorDetails {
		details[i] = sensorDetail(d)
	}
	return summary{
		Today:         periodSummary(s.Today),
		Yesterday:     periodSummary(s.Yesterday),
		ChangePercent: s.ChangePercent,
		SensorDetails: details,
	}
}

type statusSummary struct {
	ByStatus map[string]int `json:"by_status"`
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Inactive int            `json:"inactive"`
}

func newStatusSummary(s *footfall.StatusSummary) statusSummary {
	by := make(map[string]int, len(s.ByStatus))
	for status, n := range s.ByStatus {
		by[string(status)] = n
	}
	return statusSummary{Total: s.Total, Active: s.Active, Inactive: s.Inactive, ByStatus: by}
}

// Accepted timestamp layouts, most specific first. Layouts without a zone
// are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(field, value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &footfall.ValidationError{Field: field, Message: fmt.Sprintf("invalid date %q", value)}
}
