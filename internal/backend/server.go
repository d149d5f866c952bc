// Package backend wires the footfall service together: store, real-time hub,
// HTTP API and the queue-based ingest adapters.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/footfall/internal/api"
	"procodus.dev/footfall/internal/broadcast"
	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/internal/storage/memory"
	"procodus.dev/footfall/internal/storage/postgres"
	"procodus.dev/footfall/pkg/metrics"
	"procodus.dev/footfall/pkg/mq"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

const (
	metricsNamespace       = "footfall"
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Metric collectors register on a process-wide registry and may only be
// created once.
var serverMetrics = sync.OnceValue(func() *collectors {
	return &collectors{
		http:    metrics.NewHTTPMetrics(metricsNamespace),
		service: metrics.NewServiceMetrics(metricsNamespace),
		mq:      metrics.NewMQMetrics(metricsNamespace),
	}
})

type collectors struct {
	http    *metrics.HTTPMetrics
	service *metrics.ServiceMetrics
	mq      *metrics.MQMetrics
}

// Server represents the backend server that manages the store, the HTTP API
// and the message consumers.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	connector  *postgres.Connector
	httpServer *http.Server
	consumers  []*Consumer
	mqtt       *MQTTSubscriber
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP configuration
	HTTPPort          int
	Environment       string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Location is the reference time zone of buckets and calendar days.
	Location *time.Location

	// Store configuration
	StoreDriver     string
	DB              *postgres.Config
	DBRetryInterval time.Duration

	// RabbitMQ configuration; an empty URL disables the consumers.
	RabbitMQURL     string
	QueueName       string
	DeviceQueueName string

	// MQTT configuration; an empty broker disables the subscriber.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	ShutdownTimeout time.Duration
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("http port must be positive")
	}

	switch cfg.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if cfg.DB == nil {
			return nil, errors.New("database config cannot be nil")
		}
		if cfg.DB.Host == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.DB.Port <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.DB.User == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DB.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RabbitMQURL != "" && (cfg.QueueName == "" || cfg.DeviceQueueName == "") {
		return nil, errors.New("queue names cannot be empty when rabbitmq is enabled")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	m := serverMetrics()

	store, pinger, err := s.openStore(ctx, m.service)
	if err != nil {
		return err
	}

	hub, err := broadcast.NewHub(&broadcast.HubConfig{
		Logger:  s.logger.With("component", "broadcast"),
		Metrics: m.service,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize broadcast hub: %w", err)
	}
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("broadcast hub stopped", "error", err)
		}
	}()

	svc, err := footfall.NewService(&footfall.ServiceConfig{
		Logger:    s.logger.With("component", "service"),
		Store:     store,
		Publisher: hub,
		Location:  s.config.Location,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	router, err := api.NewRouter(&api.Config{
		Logger:            s.logger,
		Service:           svc,
		Observers:         broadcast.NewHandler(hub, s.config.CORSOrigins),
		Store:             pinger,
		Metrics:           m.http,
		IngestMetrics:     m.service,
		MetricsHandler:    metrics.Handler(),
		Environment:       s.config.Environment,
		CORSOrigins:       s.config.CORSOrigins,
		RateLimitRequests: s.config.RateLimitRequests,
		RateLimitWindow:   s.config.RateLimitWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	httpErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", addr)
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	if err := s.startConsumers(ctx, svc, m); err != nil {
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	if err := s.startMQTT(ctx, svc, m.service); err != nil {
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	s.logger.Info("backend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return errors.Join(err, s.Shutdown())
		}
	}

	cancel()
	return s.Shutdown()
}

// openStore selects the store driver. The postgres connector keeps retrying
// in the background while requests fail with footfall.ErrStoreUnavailable.
func (s *Server) openStore(ctx context.Context, m *metrics.ServiceMetrics) (footfall.Store, api.Pinger, error) {
	if s.config.StoreDriver == StoreDriverMemory {
		s.logger.Warn("using in-memory store, data is lost on shutdown")
		store := memory.New(nil)
		return store, store, nil
	}

	dbCfg := *s.config.DB
	dbCfg.Logger = s.logger.With("component", "database")

	connector, err := postgres.NewConnector(&postgres.ConnectorConfig{
		Logger:        dbCfg.Logger,
		DB:            &dbCfg,
		Metrics:       m,
		RetryInterval: s.config.DBRetryInterval,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database connector: %w", err)
	}
	s.connector = connector

	go func() {
		if err := connector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("database connector stopped", "error", err)
		}
	}()

	store, err := postgres.NewStore(connector)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return store, connector, nil
}

func (s *Server) startConsumers(ctx context.Context, svc *footfall.Service, m *collectors) error {
	if s.config.RabbitMQURL == "" {
		s.logger.Info("rabbitmq disabled, queue ingest is off")
		return nil
	}

	queues := []struct {
		name    string
		handler Handler
	}{
		{name: s.config.QueueName, handler: NewReadingHandler(svc, "amqp", m.service)},
		{name: s.config.DeviceQueueName, handler: NewDeviceHandler(svc)},
	}

	for _, q := range queues {
		client, err := mq.New(&mq.Config{
			Logger:  s.logger.With("component", "mq"),
			Metrics: m.mq,
			URL:     s.config.RabbitMQURL,
			Queue:   q.name,
			Durable: true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize mq client: %w", err)
		}

		consumer, err := NewConsumer(&ConsumerConfig{
			Logger:         s.logger.With("component", "consumer"),
			Client:         client,
			Handler:        q.handler,
			Metrics:        m.mq,
			ServiceMetrics: m.service,
			Queue:          q.name,
		})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}

		consumer.Start(ctx)
		s.consumers = append(s.consumers, consumer)
	}
	return nil
}

func (s *Server) startMQTT(ctx context.Context, svc *footfall.Service, m *metrics.ServiceMetrics) error {
	if s.config.MQTTBroker == "" {
		return nil
	}

	sub, err := NewMQTTSubscriber(&MQTTSubscriberConfig{
		Logger:   s.logger.With("component", "mqtt"),
		Handler:  NewReadingHandler(svc, "mqtt", m),
		Broker:   s.config.MQTTBroker,
		ClientID: s.config.MQTTClientID,
		Topic:    s.config.MQTTTopic,
		QoS:      1,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt subscriber: %w", err)
	}

	sub.Start(ctx)
	s.mqtt = sub
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var shutdownErr error

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown error: %w", err))
		}
		cancel()
	}

	if s.mqtt != nil {
		s.mqtt.Stop()
	}

	for _, c := range s.consumers {
		if err := c.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("consumer shutdown error: %w", err))
		}
	}

	if s.connector != nil {
		s.logger.Info("closing database connection")
		if err := s.connector.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("database close error: %w", err))
		}
	}

	if shutdownErr != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
