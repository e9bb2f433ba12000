package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apitool "github.com/JohnPlummer/jp-go-apitool"
	"github.com/JohnPlummer/jp-go-apitool/internal/config"
	"github.com/JohnPlummer/jp-go-apitool/internal/server"
)

// fakeExecutor records the last call and replays a canned answer.
type fakeExecutor struct {
	result *apitool.Result
	err    error
	calls  int
	last   apitool.CallConfig
}

func (f *fakeExecutor) Execute(ctx context.Context, cfg apitool.CallConfig) (*apitool.Result, error) {
	f.calls++
	f.last = cfg
	return f.result, f.err
}

func (f *fakeExecutor) Health() apitool.ServiceHealth {
	return apitool.ServiceHealth{
		Status:   "healthy",
		Breakers: []apitool.HealthStatus{{Host: "api.example.com", Healthy: true, State: "closed"}},
	}
}

var _ = Describe("Server", func() {
	var (
		executor *fakeExecutor
		registry *prometheus.Registry
		handler  http.Handler
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newHandler := func(exec server.Executor, metrics config.Metrics) http.Handler {
		cfg := config.DefaultConfig()
		return server.New(cfg.Server, metrics, exec, registry, logger).Handler()
	}

	do := func(method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		var decoded map[string]any
		if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			Expect(json.Unmarshal(rec.Body.Bytes(), &decoded)).To(Succeed())
		}
		return rec, decoded
	}

	BeforeEach(func() {
		executor = &fakeExecutor{}
		registry = prometheus.NewRegistry()
		handler = newHandler(executor, config.DefaultConfig().Metrics)
	})

	Describe("POST "+server.ExecutePath, func() {
		It("returns the envelope of a successful call", func() {
			executor.result = &apitool.Result{
				Status: apitool.StatusSuccess,
				Data:   map[string]any{"result": map[string]any{"data": "x"}},
				Metadata: apitool.Metadata{
					StatusCode: 200,
					Headers:    map[string]string{"content-type": "application/json"},
					TimingMS:   12,
				},
			}

			rec, body := do(http.MethodPost, server.ExecutePath,
				`{"protocol":"rest","method":"GET","url":"https://api.example.com/test","payload":{"key":"value"}}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "success"))
			Expect(body).To(HaveKeyWithValue("data", map[string]any{"result": map[string]any{"data": "x"}}))
			Expect(body["metadata"]).To(HaveKeyWithValue("status_code", float64(200)))
			Expect(body["metadata"]).To(HaveKeyWithValue("timing", float64(12)))

			Expect(executor.calls).To(Equal(1))
			Expect(executor.last.Target).To(Equal("https://api.example.com/test"))
			Expect(executor.last.Payload).To(Equal(map[string]any{"key": "value"}))
			Expect(executor.last.Policy()).To(Equal(apitool.RetryPolicy{MaxAttempts: 3, DelayMS: 1000}))
		})

		It("returns 200 for remote failures reported in the envelope", func() {
			executor.result = &apitool.Result{
				Status:   apitool.StatusError,
				Data:     map[string]any{"error": "timeout after 20ms"},
				Metadata: apitool.Metadata{StatusCode: 500, Headers: map[string]string{}, TimingMS: -1},
			}

			rec, body := do(http.MethodPost, server.ExecutePath, `{"protocol":"rest","url":"https://api.example.com/test"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "error"))
		})

		It("accepts YAML bodies", func() {
			executor.result = &apitool.Result{Status: apitool.StatusSuccess}

			rec, _ := do(http.MethodPost, server.ExecutePath, "protocol: rest\nurl: https://api.example.com/test\ntimeout: 250\n")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(*executor.last.TimeoutMS).To(Equal(250))
		})

		It("rejects an invalid configuration before executing", func() {
			rec, body := do(http.MethodPost, server.ExecutePath, `{"protocol":"rest","url":"not a url"}`)

			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(body).To(HaveKeyWithValue("status", "error"))
			Expect(body["data"]).To(HaveKeyWithValue("error", ContainSubstring("invalid url")))
			Expect(body["metadata"]).To(HaveKeyWithValue("path", server.ExecutePath))
			Expect(executor.calls).To(BeZero())
		})

		It("rejects malformed bodies", func() {
			rec, _ := do(http.MethodPost, server.ExecutePath, `{"protocol":`)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("rejects bodies over the size limit", func() {
			cfg := config.DefaultConfig()
			cfg.Server.MaxBodyBytes = 16
			handler = server.New(cfg.Server, cfg.Metrics, executor, registry, logger).Handler()

			rec, _ := do(http.MethodPost, server.ExecutePath, `{"protocol":"rest","url":"https://api.example.com/test"}`)
			Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
		})

		It("maps an unsupported protocol to 400", func() {
			handler = newHandler(apitool.NewExecutor(apitool.WithExecutorLogger(logger)), config.Metrics{})

			rec, body := do(http.MethodPost, server.ExecutePath, `{"protocol":"graphql","url":"https://api.example.com/graphql"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["data"]).To(HaveKeyWithValue("error", "unsupported protocol: graphql"))
		})

		It("maps unexpected executor errors to 500", func() {
			executor.err = errors.New("boom")

			rec, body := do(http.MethodPost, server.ExecutePath, `{"protocol":"rest","url":"https://api.example.com/test"}`)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(body["data"]).To(HaveKeyWithValue("error", "boom"))
		})

		It("only accepts POST", func() {
			rec, _ := do(http.MethodGet, server.ExecutePath, "")
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("GET /health", func() {
		It("reports the executor health", func() {
			rec, body := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "healthy"))
			Expect(body["breakers"]).To(HaveLen(1))
		})
	})

	Describe("GET /metrics", func() {
		It("serves the registry", func() {
			apitool.NewMetrics(registry).CallsTotal.WithLabelValues("rest", "success").Inc()

			rec, _ := do(http.MethodGet, "/metrics", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`apitool_calls_total{protocol="rest",status="success"} 1`))
		})

		It("is absent when metrics are disabled", func() {
			handler = newHandler(executor, config.Metrics{Enabled: false, Path: "/metrics"})

			rec, _ := do(http.MethodGet, "/metrics", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
