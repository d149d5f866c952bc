package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/footfall/internal/api"
	"procodus.dev/footfall/internal/backend"
	"procodus.dev/footfall/internal/storage/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the footfall service",
	Long: `Run the footfall service that:
- Serves the REST API under /api and Prometheus metrics under /metrics
- Streams new readings to WebSocket observers on /ws
- Persists readings and devices to PostgreSQL (or memory)
- Consumes readings and device registrations from RabbitMQ (optional)
- Subscribes to sensor readings over MQTT (optional)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.Int("http-port", 5000, "HTTP server port")
	flags.String("environment", "production", "environment name; development exposes error details")
	flags.String("timezone", "UTC", "reference time zone of buckets and calendar days")
	flags.StringSlice("cors-origins", nil, "allowed CORS origins (default all)")
	flags.Int("rate-limit-requests", api.DefaultRateLimitRequests, "requests allowed per client per window; negative disables")
	flags.Duration("rate-limit-window", api.DefaultRateLimitWindow, "rate limit window")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flags.String("store-driver", backend.StoreDriverPostgres, "store driver (postgres, memory)")
	flags.String("db-host", "localhost", "PostgreSQL host")
	flags.Int("db-port", 5432, "PostgreSQL port")
	flags.String("db-user", "postgres", "PostgreSQL user")
	flags.String("db-password", "", "PostgreSQL password")
	flags.String("db-name", "footfall", "PostgreSQL database name")
	flags.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	flags.Duration("db-retry-interval", postgres.DefaultRetryInterval, "delay between database connection attempts")
	flags.String("amqp-url", "", "RabbitMQ URL; empty disables queue ingest")
	flags.String("queue-name", "sensor-data", "RabbitMQ queue name for sensor readings")
	flags.String("device-queue-name", "device-data", "RabbitMQ queue name for device registrations")
	flags.String("mqtt-broker", "", "MQTT broker URL; empty disables MQTT ingest")
	flags.String("mqtt-topic", backend.DefaultMQTTTopic, "MQTT topic filter for readings")
	flags.String("mqtt-client-id", "footfall-backend", "MQTT client id")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http.port", flags.Lookup("http-port"))
	_ = viper.BindPFlag("server.environment", flags.Lookup("environment"))
	_ = viper.BindPFlag("server.timezone", flags.Lookup("timezone"))
	_ = viper.BindPFlag("server.cors.origins", flags.Lookup("cors-origins"))
	_ = viper.BindPFlag("server.rate_limit.requests", flags.Lookup("rate-limit-requests"))
	_ = viper.BindPFlag("server.rate_limit.window", flags.Lookup("rate-limit-window"))
	_ = viper.BindPFlag("server.shutdown_timeout", flags.Lookup("shutdown-timeout"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store-driver"))
	_ = viper.BindPFlag("db.host", flags.Lookup("db-host"))
	_ = viper.BindPFlag("db.port", flags.Lookup("db-port"))
	_ = viper.BindPFlag("db.user", flags.Lookup("db-user"))
	_ = viper.BindPFlag("db.password", flags.Lookup("db-password"))
	_ = viper.BindPFlag("db.name", flags.Lookup("db-name"))
	_ = viper.BindPFlag("db.sslmode", flags.Lookup("db-sslmode"))
	_ = viper.BindPFlag("db.retry_interval", flags.Lookup("db-retry-interval"))
	_ = viper.BindPFlag("amqp.url", flags.Lookup("amqp-url"))
	_ = viper.BindPFlag("amqp.queue_name", flags.Lookup("queue-name"))
	_ = viper.BindPFlag("amqp.device_queue_name", flags.Lookup("device-queue-name"))
	_ = viper.BindPFlag("mqtt.broker", flags.Lookup("mqtt-broker"))
	_ = viper.BindPFlag("mqtt.topic", flags.Lookup("mqtt-topic"))
	_ = viper.BindPFlag("mqtt.client_id", flags.Lookup("mqtt-client-id"))
}

// serverConfig builds the backend configuration from viper.
func serverConfig(logger *slog.Logger) (*backend.ServerConfig, error) {
	loc, err := loadLocation(viper.GetString("server.timezone"))
	if err != nil {
		return nil, err
	}

	return &backend.ServerConfig{
		Logger:            logger,
		HTTPPort:          viper.GetInt("server.http.port"),
		Environment:       viper.GetString("server.environment"),
		CORSOrigins:       viper.GetStringSlice("server.cors.origins"),
		RateLimitRequests: viper.GetInt("server.rate_limit.requests"),
		RateLimitWindow:   viper.GetDuration("server.rate_limit.window"),
		Location:          loc,
		StoreDriver:       viper.GetString("store.driver"),
		DB: &postgres.Config{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetInt("db.port"),
			User:     viper.GetString("db.user"),
			Password: viper.GetString("db.password"),
			DBName:   viper.GetString("db.name"),
			SSLMode:  viper.GetString("db.sslmode"),
		},
		DBRetryInterval: viper.GetDuration("db.retry_interval"),
		RabbitMQURL:     viper.GetString("amqp.url"),
		QueueName:       viper.GetString("amqp.queue_name"),
		DeviceQueueName: viper.GetString("amqp.device_queue_name"),
		MQTTBroker:      viper.GetString("mqtt.broker"),
		MQTTTopic:       viper.GetString("mqtt.topic"),
		MQTTClientID:    viper.GetString("mqtt.client_id"),
		ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
	}, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting footfall service")

	config, err := serverConfig(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return err
	}

	logger.Info("server configuration",
		"http_port", config.HTTPPort,
		"environment", config.Environment,
		"timezone", config.Location.String(),
		"store_driver", config.StoreDriver,
		"db_host", config.DB.Host,
		"db_name", config.DB.DBName,
		"amqp_enabled", config.RabbitMQURL != "",
		"mqtt_enabled", config.MQTTBroker != "",
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("footfall service stopped")
	return nil
}
