package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/internal/storage/postgres"
)

var _ = Describe("Connector", func() {
	var (
		logger *slog.Logger
		dbCfg  *postgres.Config
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		dbCfg = &postgres.Config{Logger: logger, Host: "localhost", Port: 5432}
	})

	Describe("NewConnector", func() {
		It("should return error when config is nil", func() {
			c, err := postgres.NewConnector(nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
			Expect(c).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			_, err := postgres.NewConnector(&postgres.ConnectorConfig{DB: dbCfg})
			Expect(err).To(MatchError(ContainSubstring("logger")))
		})

		It("should return error when database config is nil", func() {
			_, err := postgres.NewConnector(&postgres.ConnectorConfig{Logger: logger})
			Expect(err).To(MatchError(ContainSubstring("database config")))
		})
	})

	Describe("Run", func() {
		It("should report the store unavailable until connected", func() {
			c, err := postgres.NewConnector(&postgres.ConnectorConfig{Logger: logger, DB: dbCfg})
			Expect(err).NotTo(HaveOccurred())

			db, err := c.DB()
			Expect(db).To(BeNil())
			Expect(err).To(MatchError(footfall.ErrStoreUnavailable))
			Expect(c.Ping(context.Background())).To(MatchError(footfall.ErrStoreUnavailable))
		})

		It("should retry on a fixed interval until the open succeeds", func() {
			var attempts atomic.Int32
			handle := &gorm.DB{}

			c, err := postgres.NewConnector(&postgres.ConnectorConfig{
				Logger:        logger,
				DB:            dbCfg,
				RetryInterval: 20 * time.Millisecond,
				Open: func(*postgres.Config) (*gorm.DB, error) {
					if attempts.Add(1) < 3 {
						return nil, errors.New("connection refused")
					}
					return handle, nil
				},
			})
			Expect(err).NotTo(HaveOccurred())

			go func() {
				defer GinkgoRecover()
				Expect(c.Run(context.Background())).To(Succeed())
			}()

			Eventually(c.Ready()).Should(BeClosed())
			Expect(attempts.Load()).To(Equal(int32(3)))

			db, err := c.DB()
			Expect(err).NotTo(HaveOccurred())
			Expect(db).To(BeIdenticalTo(handle))
		})

		It("should stop retrying when the context is canceled", func() {
			c, err := postgres.NewConnector(&postgres.ConnectorConfig{
				Logger:        logger,
				DB:            dbCfg,
				RetryInterval: time.Hour,
				Open: func(*postgres.Config) (*gorm.DB, error) {
					return nil, errors.New("connection refused")
				},
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			errs := make(chan error, 1)
			go func() { errs <- c.Run(ctx) }()

			cancel()
			Eventually(errs).Should(Receive(MatchError(context.Canceled)))
			Expect(c.Ready()).NotTo(BeClosed())
		})
	})
})
