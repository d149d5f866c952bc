package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/pkg/metrics"
)

// DefaultRetryInterval is the fixed delay between connection attempts.
const DefaultRetryInterval = 10 * time.Second

// Connector owns the database handle and keeps trying to open it in the
// background until it succeeds. Until then DB reports
// footfall.ErrStoreUnavailable.
type Connector struct {
	logger        *slog.Logger
	dbConfig      *Config
	metrics       *metrics.ServiceMetrics
	open          func(*Config) (*gorm.DB, error)
	db            *gorm.DB
	ready         chan struct{}
	retryInterval time.Duration
	mu            sync.RWMutex
	readyOnce     sync.Once
}

// ConnectorConfig holds the configuration for the Connector.
type ConnectorConfig struct {
	Logger  *slog.Logger
	DB      *Config
	Metrics *metrics.ServiceMetrics // Optional metrics
	// Open replaces NewDB when set.
	Open          func(*Config) (*gorm.DB, error)
	RetryInterval time.Duration
}

// NewConnector creates a new Connector instance. It does not connect; call Run.
func NewConnector(cfg *ConnectorConfig) (*Connector, error) {
	if cfg == nil {
		return nil, errors.New("connector config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database config cannot be nil")
	}

	open := cfg.Open
	if open == nil {
		open = NewDB
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	return &Connector{
		logger:        cfg.Logger,
		dbConfig:      cfg.DB,
		metrics:       cfg.Metrics,
		open:          open,
		retryInterval: interval,
		ready:         make(chan struct{}),
	}, nil
}

// Run attempts to connect every retry interval until it succeeds or ctx is
// canceled.
func (c *Connector) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if c.metrics != nil {
			c.metrics.StoreConnectAttempts.Inc()
		}

		db, err := c.open(c.dbConfig)
		if err == nil {
			c.mu.Lock()
			c.db = db
			c.mu.Unlock()
			c.readyOnce.Do(func() { close(c.ready) })

			if c.metrics != nil {
				c.metrics.StoreUp.Set(1)
			}
			c.logger.Info("store connected", "attempt", attempt)
			return nil
		}

		c.logger.Error("failed to connect to store, retrying",
			"attempt", attempt,
			"retry_in", c.retryInterval,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryInterval):
		}
	}
}

// Ready is closed once the first connection succeeds.
func (c *Connector) Ready() <-chan struct{} {
	return c.ready
}

// DB returns the connected handle or footfall.ErrStoreUnavailable.
func (c *Connector) DB() (*gorm.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return nil, footfall.ErrStoreUnavailable
	}
	return c.db, nil
}

// Ping checks that the database answers.
func (c *Connector) Ping(ctx context.Context) error {
	db, err := c.DB()
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.StoreUp.Set(0)
		}
		return translateError(err)
	}

	if c.metrics != nil {
		c.metrics.StoreUp.Set(1)
	}
	return nil
}

// Close releases the connection pool if one was opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.StoreUp.Set(0)
	}
	return CloseDB(db, c.logger)
}
