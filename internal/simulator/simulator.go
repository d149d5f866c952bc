// Package simulator emits simulated footfall readings to a running service.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/pkg/generator"
	"procodus.dev/footfall/pkg/metrics"
)

// Defaults applied to an unset Config.
const (
	DefaultSensorCount = 2
	DefaultInterval    = time.Hour
)

const sendTimeout = 10 * time.Second

// Config holds the configuration for the Simulator.
type Config struct {
	Logger  *slog.Logger
	Sink    Sink
	Metrics *metrics.SimulatorMetrics // Optional metrics
	Clock   footfall.Clock
	// Location is the zone whose hour of day selects the traffic band.
	Location    *time.Location
	SensorCount int
	Interval    time.Duration
	// Seed makes counts reproducible; zero seeds from the clock.
	Seed uint64
}

// Simulator registers a fixed set of sensors and then sends one reading per
// sensor every interval.
type Simulator struct {
	logger   *slog.Logger
	sink     Sink
	metrics  *metrics.SimulatorMetrics
	clock    footfall.Clock
	location *time.Location
	gen      *generator.FootfallGenerator
	sensors  []*generator.Sensor
	interval time.Duration
}

// New creates a new Simulator instance.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Sink == nil {
		return nil, errors.New("sink cannot be nil")
	}

	if cfg.SensorCount < 0 {
		return nil, errors.New("sensor count cannot be negative")
	}

	if cfg.Interval < 0 {
		return nil, errors.New("interval cannot be negative")
	}

	count := cfg.SensorCount
	if count == 0 {
		count = DefaultSensorCount
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	clock := cfg.Clock
	if clock == nil {
		clock = footfall.SystemClock{}
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(clock.Now().UnixNano())
	}

	now := clock.Now()
	sensors := make([]*generator.Sensor, 0, count)
	for i := 1; i <= count; i++ {
		sensor, err := generator.NewSensor(i, now)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}

	return &Simulator{
		logger:   cfg.Logger.With("sink", cfg.Sink.Name()),
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
		clock:    clock,
		location: loc,
		gen:      generator.NewFootfallGenerator(seed),
		sensors:  sensors,
		interval: interval,
	}, nil
}

// Sensors returns the simulated sensors.
func (s *Simulator) Sensors() []*generator.Sensor {
	return s.sensors
}

// Run registers the sensors, sends a first cycle immediately and then one
// cycle per interval until ctx is done or a shutdown signal arrives.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	s.logger.Info("starting simulator",
		"sensors", len(s.sensors),
		"interval", s.interval,
	)
	if s.metrics != nil {
		s.metrics.ActiveSensors.Set(float64(len(s.sensors)))
		defer s.metrics.ActiveSensors.Set(0)
	}

	s.SetupDevices(ctx)
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			s.logger.Info("received shutdown signal", "signal", sig.String())
			return s.close()
		case <-ctx.Done():
			s.logger.Info("context canceled, shutting down")
			return s.close()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

func (s *Simulator) close() error {
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("failed to close sink: %w", err)
	}
	s.logger.Info("simulator stopped")
	return nil
}

// SetupDevices registers every sensor. Failures are logged and skipped; the
// registration is an upsert, so re-running against a populated service is
// harmless.
func (s *Simulator) SetupDevices(ctx context.Context) int {
	registered := 0
	for _, sensor := range s.sensors {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.sink.RegisterDevice(sendCtx, sensor.Registration())
		cancel()
		if err != nil {
			s.logger.Warn("device setup failed", "sensor_id", sensor.SensorID, "error", err)
			s.sendFailed("device")
			continue
		}

		registered++
		if s.metrics != nil {
			s.metrics.DevicesRegistered.Inc()
		}
		s.logger.Info("device setup complete", "sensor_id", sensor.SensorID, "name", sensor.Name)
	}
	return registered
}

// RunCycle sends one reading per sensor and returns how many were accepted.
func (s *Simulator) RunCycle(ctx context.Context) int {
	now := s.clock.Now().In(s.location)
	sent := 0
	for _, sensor := range s.sensors {
		if ctx.Err() != nil {
			break
		}
		if s.send(ctx, sensor.SensorID, now) {
			sent++
		}
	}
	s.logger.Info("simulation cycle complete", "sent", sent, "sensors", len(s.sensors))
	return sent
}

func (s *Simulator) send(ctx context.Context, sensorID string, now time.Time) bool {
	if s.metrics != nil {
		timer := prometheus.NewTimer(s.metrics.SendDuration.WithLabelValues(s.sink.Name()))
		defer timer.ObserveDuration()
	}

	reading := s.gen.Reading(sensorID, now)

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := s.sink.SendReading(sendCtx, reading); err != nil {
		s.logger.Error("failed to send reading", "sensor_id", sensorID, "error", err)
		s.sendFailed("reading")
		return false
	}

	if s.metrics != nil {
		s.metrics.ReadingsSent.WithLabelValues(s.sink.Name()).Inc()
	}
	s.logger.Debug("reading sent", "sensor_id", sensorID, "count", *reading.Count)
	return true
}

func (s *Simulator) sendFailed(kind string) {
	if s.metrics != nil {
		s.metrics.SendFailures.WithLabelValues(s.sink.Name(), kind).Inc()
	}
}
