package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/footfall/internal/simulator"
	"procodus.dev/footfall/pkg/metrics"
	"procodus.dev/footfall/pkg/mq"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the sensor simulator",
	Long: `Run the sensor simulator that:
- Registers a fixed set of simulated devices
- Sends one time-of-day shaped footfall reading per device every interval
- Delivers over the HTTP API or the RabbitMQ queues`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	flags := simulateCmd.Flags()
	flags.String("sink", simulator.SinkHTTP, "delivery sink (http, amqp)")
	flags.String("api-url", "http://localhost:5000/api", "base URL of the footfall API")
	flags.String("amqp-url", "amqp://localhost:5672", "RabbitMQ URL")
	flags.String("queue-name", "sensor-data", "RabbitMQ queue name for sensor readings")
	flags.String("device-queue-name", "device-data", "RabbitMQ queue name for device registrations")
	flags.Int("sensors", simulator.DefaultSensorCount, "number of simulated sensors")
	flags.Duration("interval", simulator.DefaultInterval, "interval between reading cycles")
	flags.String("timezone", "UTC", "time zone whose hour of day shapes the counts")
	flags.Uint64("seed", 0, "random seed; 0 seeds from the clock")
	flags.Int("metrics-port", 0, "port serving /metrics; 0 disables")

	// Bind flags to viper
	_ = viper.BindPFlag("simulate.sink", flags.Lookup("sink"))
	_ = viper.BindPFlag("simulate.api_url", flags.Lookup("api-url"))
	_ = viper.BindPFlag("simulate.amqp.url", flags.Lookup("amqp-url"))
	_ = viper.BindPFlag("simulate.amqp.queue_name", flags.Lookup("queue-name"))
	_ = viper.BindPFlag("simulate.amqp.device_queue_name", flags.Lookup("device-queue-name"))
	_ = viper.BindPFlag("simulate.sensors", flags.Lookup("sensors"))
	_ = viper.BindPFlag("simulate.interval", flags.Lookup("interval"))
	_ = viper.BindPFlag("simulate.timezone", flags.Lookup("timezone"))
	_ = viper.BindPFlag("simulate.seed", flags.Lookup("seed"))
	_ = viper.BindPFlag("simulate.metrics_port", flags.Lookup("metrics-port"))
}

// newSink builds the configured delivery sink.
func newSink(logger *slog.Logger, m *metrics.MQMetrics) (simulator.Sink, error) {
	switch kind := viper.GetString("simulate.sink"); kind {
	case simulator.SinkHTTP:
		return simulator.NewHTTPSink(viper.GetString("simulate.api_url"), nil)
	case simulator.SinkAMQP:
		url := viper.GetString("simulate.amqp.url")
		readings, err := mq.New(&mq.Config{
			Logger:  logger.With("component", "mq"),
			Metrics: m,
			URL:     url,
			Queue:   viper.GetString("simulate.amqp.queue_name"),
			Durable: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create reading queue client: %w", err)
		}
		devices, err := mq.New(&mq.Config{
			Logger:  logger.With("component", "mq"),
			Metrics: m,
			URL:     url,
			Queue:   viper.GetString("simulate.amqp.device_queue_name"),
			Durable: true,
		})
		if err != nil {
			_ = readings.Close()
			return nil, fmt.Errorf("failed to create device queue client: %w", err)
		}
		return simulator.NewAMQPSink(readings, devices)
	default:
		return nil, fmt.Errorf("unknown sink %q", kind)
	}
}

func serveMetrics(logger *slog.Logger, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator")

	loc, err := loadLocation(viper.GetString("simulate.timezone"))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	var (
		simMetrics *metrics.SimulatorMetrics
		mqMetrics  *metrics.MQMetrics
	)
	if port := viper.GetInt("simulate.metrics_port"); port > 0 {
		simMetrics = metrics.NewSimulatorMetrics("footfall")
		mqMetrics = metrics.NewMQMetrics("footfall")
		srv := serveMetrics(logger, port)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	sink, err := newSink(logger, mqMetrics)
	if err != nil {
		logger.Error("failed to create sink", "error", err)
		return err
	}

	sim, err := simulator.New(&simulator.Config{
		Logger:      logger.With("component", "simulator"),
		Sink:        sink,
		Metrics:     simMetrics,
		Location:    loc,
		SensorCount: viper.GetInt("simulate.sensors"),
		Interval:    viper.GetDuration("simulate.interval"),
		Seed:        viper.GetUint64("simulate.seed"),
	})
	if err != nil {
		_ = sink.Close()
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"sink", sink.Name(),
		"sensors", len(sim.Sensors()),
		"interval", viper.GetDuration("simulate.interval"),
		"timezone", loc.String(),
	)

	if err := sim.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
