package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/footfall/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	scrape := func() string {
		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		body, err := io.ReadAll(rec.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	It("should expose runtime collectors", func() {
		body := scrape()
		Expect(body).To(ContainSubstring("go_goroutines"))
		Expect(body).To(ContainSubstring("go_build_info"))
	})

	It("should register queue metrics under the namespace", func() {
		m := metrics.NewMQMetrics("mqtest")
		m.MessagesPushed.WithLabelValues("sensor-data").Inc()
		m.MessagesRedelivered.WithLabelValues("sensor-data").Add(2)

		Expect(testutil.ToFloat64(m.MessagesRedelivered.WithLabelValues("sensor-data"))).To(Equal(2.0))
		Expect(scrape()).To(ContainSubstring(`mqtest_mq_messages_pushed_total{queue="sensor-data"} 1`))
	})

	It("should register service metrics under the namespace", func() {
		m := metrics.NewServiceMetrics("svctest")
		m.ReadingsIngested.WithLabelValues("http", "success").Inc()
		m.StoreUp.Set(1)

		body := scrape()
		Expect(body).To(ContainSubstring(`svctest_ingest_readings_total{source="http",status="success"} 1`))
		Expect(body).To(ContainSubstring("svctest_store_up 1"))
	})

	It("should register HTTP and simulator metrics once per namespace", func() {
		Expect(func() { metrics.NewHTTPMetrics("httptest") }).NotTo(Panic())
		Expect(func() { metrics.NewSimulatorMetrics("simtest") }).NotTo(Panic())
		Expect(func() { metrics.NewSimulatorMetrics("simtest") }).To(Panic())
	})
})
