package storage

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/internal/storage/memory"
	"procodus.dev/footfall/internal/storage/postgres"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func insert(ctx context.Context, store footfall.Store, sensorID string, ts time.Time, count int) footfall.Reading {
	r, err := footfall.NewReading(sensorID, ts, count, ts)
	Expect(err).NotTo(HaveOccurred())
	Expect(store.InsertReading(ctx, r)).To(Succeed())
	return *r
}

// describeStore runs the store contract against the store returned by newStore.
func describeStore(name string, newStore func() footfall.Store) {
	Describe(name, func() {
		var (
			ctx   context.Context
			store footfall.Store
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = newStore()
		})

		Describe("readings", func() {
			It("should assign ids and return readings newest first", func() {
				first := insert(ctx, store, "sensor_001", base, 5)
				insert(ctx, store, "sensor_001", base.Add(2*time.Minute), 7)
				insert(ctx, store, "sensor_002", base.Add(time.Minute), 3)
				Expect(first.ID).NotTo(BeZero())

				readings, err := store.FindReadings(ctx, footfall.ReadingFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(readings).To(HaveLen(3))
				Expect(readings[0].Count).To(Equal(7))
				Expect(readings[1].SensorID).To(Equal("sensor_002"))
				Expect(readings[2].Timestamp).To(BeTemporally("~", base, time.Millisecond))
			})

			It("should filter by sensor, inclusive range and limit", func() {
				for i := range 5 {
					insert(ctx, store, "sensor_001", base.Add(time.Duration(i)*time.Minute), i)
				}
				insert(ctx, store, "sensor_002", base.Add(2*time.Minute), 100)

				readings, err := store.FindReadings(ctx, footfall.ReadingFilter{
					SensorID: "sensor_001",
					From:     base.Add(time.Minute),
					To:       base.Add(3 * time.Minute),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(readings).To(HaveLen(3))
				Expect(readings[0].Count).To(Equal(3))
				Expect(readings[2].Count).To(Equal(1))

				limited, err := store.FindReadings(ctx, footfall.ReadingFilter{SensorID: "sensor_001", Limit: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(limited).To(HaveLen(2))
				Expect(limited[0].Count).To(Equal(4))
			})
		})

		Describe("devices", func() {
			It("should create an unknown device on touch with defaults", func() {
				Expect(store.TouchDevice(ctx, "sensor_009", base)).To(Succeed())

				d, err := store.GetDevice(ctx, "sensor_009")
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Name).To(Equal("sensor_009"))
				Expect(d.Status).To(Equal(footfall.StatusActive))
				Expect(d.FirmwareVersion).To(Equal(footfall.DefaultFirmwareVersion))
				Expect(d.BatteryLevel).To(Equal(footfall.DefaultBatteryLevel))
				Expect(d.LastSeen).To(BeTemporally("~", base, time.Millisecond))
			})

			It("should upsert registrations and keep the description when omitted", func() {
				reg := footfall.DeviceRegistration{
					SensorID:    "sensor_001",
					Name:        "Main Entrance",
					Description: "North door",
					Location:    &footfall.GeoPoint{Longitude: -0.12, Latitude: 51.5},
				}
				device, err := footfall.NewDevice(reg, base)
				Expect(err).NotTo(HaveOccurred())
				_, err = store.UpsertDevice(ctx, device)
				Expect(err).NotTo(HaveOccurred())

				reg.Name = "Main Entrance (renamed)"
				reg.Description = ""
				device, err = footfall.NewDevice(reg, base.Add(time.Minute))
				Expect(err).NotTo(HaveOccurred())
				_, err = store.UpsertDevice(ctx, device)
				Expect(err).NotTo(HaveOccurred())

				d, err := store.GetDevice(ctx, "sensor_001")
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Name).To(Equal("Main Entrance (renamed)"))
				Expect(d.Description).To(Equal("North door"))
				Expect(d.Location).NotTo(BeNil())
				Expect(d.Location.Latitude).To(BeNumerically("~", 51.5, 1e-9))
			})

			It("should report unknown devices as not found", func() {
				_, err := store.GetDevice(ctx, "missing")
				var notFound *footfall.NotFoundError
				Expect(errors.As(err, &notFound)).To(BeTrue())

				_, err = store.SetDeviceStatus(ctx, "missing", footfall.StatusMaintenance, nil)
				Expect(errors.As(err, &notFound)).To(BeTrue())
			})

			It("should set status and leave last_seen alone unless given", func() {
				Expect(store.TouchDevice(ctx, "sensor_001", base)).To(Succeed())

				d, err := store.SetDeviceStatus(ctx, "sensor_001", footfall.StatusMaintenance, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Status).To(Equal(footfall.StatusMaintenance))
				Expect(d.LastSeen).To(BeTemporally("~", base, time.Millisecond))

				later := base.Add(time.Hour)
				d, err = store.SetDeviceStatus(ctx, "sensor_001", footfall.StatusActive, &later)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.LastSeen).To(BeTemporally("~", later, time.Millisecond))
			})

			It("should list devices by effective status, newest contact first", func() {
				now := base.Add(3 * time.Hour)
				Expect(store.TouchDevice(ctx, "sensor_old", base)).To(Succeed())
				Expect(store.TouchDevice(ctx, "sensor_new", now.Add(-time.Minute))).To(Succeed())
				Expect(store.TouchDevice(ctx, "sensor_fix", now.Add(-2*time.Minute))).To(Succeed())
				_, err := store.SetDeviceStatus(ctx, "sensor_fix", footfall.StatusMaintenance, nil)
				Expect(err).NotTo(HaveOccurred())

				all, err := store.ListDevices(ctx, footfall.DeviceFilter{Now: now})
				Expect(err).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(3))
				Expect(all[0].SensorID).To(Equal("sensor_new"))
				Expect(all[2].SensorID).To(Equal("sensor_old"))

				active, err := store.ListDevices(ctx, footfall.DeviceFilter{Now: now, Status: footfall.StatusActive})
				Expect(err).NotTo(HaveOccurred())
				Expect(active).To(HaveLen(1))
				Expect(active[0].SensorID).To(Equal("sensor_new"))

				inactive, err := store.ListDevices(ctx, footfall.DeviceFilter{Now: now, Status: footfall.StatusInactive})
				Expect(err).NotTo(HaveOccurred())
				Expect(inactive).To(HaveLen(1))
				Expect(inactive[0].SensorID).To(Equal("sensor_old"))

				_, err = store.SetDeviceStatus(ctx, "sensor_new", footfall.StatusInactive, nil)
				Expect(err).NotTo(HaveOccurred())
				active, err = store.ListDevices(ctx, footfall.DeviceFilter{Now: now, Status: footfall.StatusActive})
				Expect(err).NotTo(HaveOccurred())
				Expect(active).To(HaveLen(1))
				Expect(active[0].SensorID).To(Equal("sensor_new"))
				inactive, err = store.ListDevices(ctx, footfall.DeviceFilter{Now: now, Status: footfall.StatusInactive})
				Expect(err).NotTo(HaveOccurred())
				Expect(inactive).To(HaveLen(1))

				limited, err := store.ListDevices(ctx, footfall.DeviceFilter{Now: now, Limit: 1})
				Expect(err).NotTo(HaveOccurred())
				Expect(limited).To(HaveLen(1))
			})
		})
	})
}

var _ = Describe("Store contract", func() {
	describeStore("memory", func() footfall.Store {
		return memory.New(nil)
	})

	describeStore("postgres", func() footfall.Store {
		truncate()
		store, err := postgres.NewStore(connector)
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})

var _ = Describe("Postgres store", func() {
	It("should reject negative counts at the database", func() {
		truncate()
		db, err := connector.DB()
		Expect(err).NotTo(HaveOccurred())

		err = db.Exec("INSERT INTO sensor_readings (timestamp, created_at, sensor_id, longitude, latitude, count) VALUES (NOW(), NOW(), 's', 0, 0, -1)").Error
		Expect(err).To(HaveOccurred())
	})

	It("should answer pings", func() {
		Expect(connector.Ping(context.Background())).To(Succeed())
	})
})
