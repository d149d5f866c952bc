// Package generator produces simulated footfall sensors and readings.
package generator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/footfall/pkg/message"
)

// Sensor is a simulated footfall counter.
type Sensor struct {
	InstalledAt     time.Time
	SensorID        string
	Name            string  `fake:"{streetname} Entrance Sensor"`
	Description     string  `fake:"{sentence:6}"`
	FirmwareVersion string  `fake:"{appversion}"`
	Latitude        float64 `fake:"{latitude}"`
	Longitude       float64 `fake:"{longitude}"`
	BatteryLevel    int     `fake:"{number:60,100}"`
}

// NewSensor returns a sensor with fake metadata. Sensors are numbered from 1
// as sensor_001, sensor_002 and so on.
func NewSensor(n int, installedAt time.Time) (*Sensor, error) {
	var s Sensor
	if err := gofakeit.Struct(&s); err != nil {
		return nil, fmt.Errorf("failed to generate sensor: %w", err)
	}
	s.SensorID = SensorID(n)
	s.InstalledAt = installedAt.UTC()
	return &s, nil
}

// SensorID formats the id of the n-th simulated sensor.
func SensorID(n int) string {
	return fmt.Sprintf("sensor_%03d", n)
}

// Registration returns the device registration payload of s.
func (s *Sensor) Registration() message.Device {
	battery := s.BatteryLevel
	installed := s.InstalledAt
	return message.Device{
		SensorID:         s.SensorID,
		Name:             s.Name,
		Description:      s.Description,
		FirmwareVersion:  s.FirmwareVersion,
		BatteryLevel:     &battery,
		InstallationDate: &installed,
		Location:         message.NewGeoPoint(s.Longitude, s.Latitude),
	}
}

// Traffic bands of the daily footfall profile. Counts are drawn uniformly from
// [base, base+spread).
type band struct {
	fromHour, toHour int
	base, spread     int
}

var bands = []band{
	{fromHour: 6, toHour: 9, base: 20, spread: 30},   // morning rush
	{fromHour: 10, toHour: 16, base: 10, spread: 20}, // business hours
	{fromHour: 17, toHour: 20, base: 15, spread: 25}, // evening rush
}

var nightBand = band{base: 1, spread: 10}

const jitter = 5

// FootfallGenerator draws time-of-day shaped footfall counts.
// It is not safe for concurrent use.
type FootfallGenerator struct {
	rng *rand.Rand
}

// NewFootfallGenerator returns a generator seeded with seed.
func NewFootfallGenerator(seed uint64) *FootfallGenerator {
	return &FootfallGenerator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))} // #nosec G404 - simulation data
}

// Count returns a footfall count for the hour of t in t's location:
// a draw from the band of that hour plus a jitter in [-5, 5), never negative.
func (g *FootfallGenerator) Count(t time.Time) int {
	b := bandFor(t.Hour())
	count := b.base + g.rng.IntN(b.spread) + g.rng.IntN(2*jitter) - jitter
	return max(0, count)
}

// Reading returns a reading of sensorID at t.
func (g *FootfallGenerator) Reading(sensorID string, t time.Time) message.SensorReading {
	count := g.Count(t)
	ts := t.UTC()
	return message.SensorReading{
		SensorID:  sensorID,
		Timestamp: &ts,
		Count:     &count,
	}
}

func bandFor(hour int) band {
	for _, b := range bands {
		if hour >= b.fromHour && hour <= b.toHour {
			return b
		}
	}
	return nightBand
}
