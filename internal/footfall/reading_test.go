package footfall_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/footfall/internal/footfall"
)

var _ = Describe("Reading", func() {
	received := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	Describe("NewReading", func() {
		It("should accept a zero count", func() {
			r, err := footfall.NewReading("s1", received, 0, received)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Count).To(Equal(0))
		})

		It("should reject a negative count with a validation error", func() {
			r, err := footfall.NewReading("s1", received, -1, received)
			Expect(err).To(HaveOccurred())
			Expect(footfall.IsValidation(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("non-negative"))
			Expect(r).To(BeNil())
		})

		It("should reject a blank sensor id", func() {
			_, err := footfall.NewReading("   ", received, 3, received)
			Expect(footfall.IsValidation(err)).To(BeTrue())
		})

		It("should default the timestamp to the receive time", func() {
			r, err := footfall.NewReading("s1", time.Time{}, 4, received)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Timestamp).To(Equal(received))
		})

		It("should normalise timestamps to UTC", func() {
			loc := time.FixedZone("CET", 3600)
			r, err := footfall.NewReading("s1", time.Date(2025, 3, 10, 13, 0, 0, 0, loc), 4, received)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Timestamp.Location()).To(Equal(time.UTC))
			Expect(r.Timestamp).To(Equal(received))
		})
	})

	Describe("NewGeoPoint", func() {
		It("should accept the bounds", func() {
			p, err := footfall.NewGeoPoint(-180, 90)
			Expect(err).NotTo(HaveOccurred())
			Expect(*p).To(Equal(footfall.GeoPoint{Longitude: -180, Latitude: 90}))
		})

		DescribeTable("rejects coordinates out of range",
			func(lng, lat float64) {
				p, err := footfall.NewGeoPoint(lng, lat)
				Expect(footfall.IsValidation(err)).To(BeTrue())
				Expect(p).To(BeNil())
			},
			Entry("longitude above", 500.0, 10.0),
			Entry("longitude below", -180.5, 10.0),
			Entry("latitude above", 13.4, 90.1),
			Entry("latitude below", 13.4, -91.0),
		)
	})

	Describe("ReadingFilter", func() {
		r := footfall.Reading{SensorID: "s1", Timestamp: received}

		It("should match with no bounds", func() {
			Expect(footfall.ReadingFilter{}.Contains(r)).To(BeTrue())
		})

		It("should treat bounds as inclusive", func() {
			f := footfall.ReadingFilter{From: received, To: received}
			Expect(f.Contains(r)).To(BeTrue())
		})

		It("should exclude readings outside the range", func() {
			f := footfall.ReadingFilter{From: received.Add(time.Second)}
			Expect(f.Contains(r)).To(BeFalse())
			f = footfall.ReadingFilter{To: received.Add(-time.Second)}
			Expect(f.Contains(r)).To(BeFalse())
		})

		It("should filter by sensor", func() {
			Expect(footfall.ReadingFilter{SensorID: "s2"}.Contains(r)).To(BeFalse())
		})
	})
})
