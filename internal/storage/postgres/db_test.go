package postgres_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/internal/storage/postgres"
)

var _ = Describe("Database", func() {
	var (
		logger *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("NewDB", func() {
		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				db, err := postgres.NewDB(nil)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
				Expect(db).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				db, err := postgres.NewDB(&postgres.Config{Host: "localhost", Port: 5432})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logger"))
				Expect(db).To(BeNil())
			})
		})

		Context("connection validation", func() {
			It("should report an unreachable server as store unavailable", func() {
				db, err := postgres.NewDB(&postgres.Config{
					Logger:   logger,
					Host:     "127.0.0.1",
					Port:     1,
					User:     "test",
					Password: "password",
					DBName:   "testdb",
					SSLMode:  "disable",
				})
				Expect(err).To(HaveOccurred())
				Expect(err).To(MatchError(footfall.ErrStoreUnavailable))
				Expect(db).To(BeNil())
			})
		})
	})

	Describe("Config", func() {
		It("should build a DSN defaulting sslmode to disable", func() {
			cfg := &postgres.Config{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "footfall"}
			Expect(cfg.DSN()).To(Equal("host=db port=5432 user=u password=p dbname=footfall sslmode=disable"))
		})
	})

	Describe("CloseDB", func() {
		It("should accept a nil handle", func() {
			Expect(postgres.CloseDB(nil, logger)).To(Succeed())
		})
	})
})
