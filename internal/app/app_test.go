package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apitool "github.com/JohnPlummer/jp-go-apitool"
	"github.com/JohnPlummer/jp-go-apitool/internal/app"
	"github.com/JohnPlummer/jp-go-apitool/internal/config"
)

var _ = Describe("App", func() {
	Describe("NewLogger", func() {
		It("writes JSON when asked to", func() {
			var buf bytes.Buffer
			logger := app.NewLogger(config.Log{Level: "info", Format: "json"}, &buf)
			logger.Info("hello", "k", "v")

			var line map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
			Expect(line).To(HaveKeyWithValue("msg", "hello"))
			Expect(line).To(HaveKeyWithValue("k", "v"))
		})

		It("filters below the configured level", func() {
			var buf bytes.Buffer
			logger := app.NewLogger(config.Log{Level: "warn", Format: "text"}, &buf)
			logger.Info("quiet")
			Expect(buf.Len()).To(BeZero())

			logger.Warn("loud")
			Expect(buf.String()).To(ContainSubstring("msg=loud"))
		})
	})

	Describe("New", func() {
		var (
			cfg      *config.Config
			registry *prometheus.Registry
			remote   *httptest.Server
			hits     int
		)

		BeforeEach(func() {
			cfg = config.DefaultConfig()
			registry = prometheus.NewRegistry()
			hits = 0
			remote = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				w.WriteHeader(http.StatusNotFound)
			}))
		})

		AfterEach(func() {
			remote.Close()
		})

		call := func(a *app.App) *apitool.Result {
			callCfg, err := apitool.NewCallConfig(apitool.CallConfig{
				Protocol: apitool.ProtocolREST,
				Target:   remote.URL,
				Retry:    &apitool.RetryPolicy{MaxAttempts: 3, DelayMS: 0},
			})
			Expect(err).NotTo(HaveOccurred())

			result, err := a.Executor.Execute(context.Background(), callCfg)
			Expect(err).NotTo(HaveOccurred())
			return result
		}

		It("retries every failure with the default classifier", func() {
			a, err := app.New(cfg, registry, app.NewLogger(cfg.Log, GinkgoWriter))
			Expect(err).NotTo(HaveOccurred())

			result := call(a)
			Expect(result.Metadata.StatusCode).To(Equal(http.StatusNotFound))
			Expect(hits).To(Equal(3))
			Expect(testutil.ToFloat64(a.Metrics.CallsTotal.WithLabelValues("rest", "error"))).To(Equal(1.0))
		})

		It("stops on client errors with the http_status classifier", func() {
			cfg.Retry.Classifier = config.ClassifierHTTPStatus
			a, err := app.New(cfg, registry, app.NewLogger(cfg.Log, GinkgoWriter))
			Expect(err).NotTo(HaveOccurred())

			call(a)
			Expect(hits).To(Equal(1))
		})

		It("skips metrics when disabled", func() {
			cfg.Metrics.Enabled = false
			a, err := app.New(cfg, nil, app.NewLogger(cfg.Log, GinkgoWriter))
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Metrics).To(BeNil())

			call(a)
			Expect(hits).To(Equal(3))
		})

		It("guards calls with circuit breakers when enabled", func() {
			cfg.CircuitBreaker.Enabled = true
			a, err := app.New(cfg, registry, app.NewLogger(cfg.Log, GinkgoWriter))
			Expect(err).NotTo(HaveOccurred())

			call(a)
			health := a.Executor.Health()
			Expect(health.Breakers).To(HaveLen(1))
			Expect(health.Breakers[0].State).To(Equal("closed"))
		})
	})
})
