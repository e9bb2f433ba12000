package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-apitool/internal/config"
)

var _ = Describe("Load", func() {
	writeConfig := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "apitool.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	It("returns the defaults for an empty path", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.DefaultConfig()))
		Expect(cfg.Server.Address).To(Equal(":8080"))
		Expect(cfg.Retry.Classifier).To(Equal(config.ClassifierAll))
		Expect(cfg.CircuitBreaker.Enabled).To(BeFalse())
		Expect(cfg.Metrics.Path).To(Equal("/metrics"))
	})

	It("overlays file values on the defaults", func() {
		cfg, err := config.Load(writeConfig(`
server:
  address: 127.0.0.1:9090
  read_timeout: 5s
transport:
  max_idle_conns: 10
  http2: true
retry:
  classifier: http_status
circuit_breaker:
  enabled: true
  timeout: 1m
log:
  level: debug
  format: json
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Address).To(Equal("127.0.0.1:9090"))
		Expect(cfg.Server.ReadTimeout).To(Equal(5 * time.Second))
		Expect(cfg.Server.WriteTimeout).To(Equal(2 * time.Minute))
		Expect(cfg.Transport.MaxIdleConns).To(Equal(10))
		Expect(cfg.Transport.IdleConnTimeout).To(Equal(90 * time.Second))
		Expect(cfg.Transport.HTTP2).To(BeTrue())
		Expect(cfg.Transport.MaxResponseBytes).To(Equal(int64(10 << 20)))
		Expect(cfg.Retry.Classifier).To(Equal(config.ClassifierHTTPStatus))
		Expect(cfg.CircuitBreaker.Enabled).To(BeTrue())
		Expect(cfg.CircuitBreaker.MaxRequests).To(Equal(uint32(3)))
		Expect(cfg.CircuitBreaker.Timeout).To(Equal(time.Minute))
		Expect(cfg.Log.Level).To(Equal("debug"))
		Expect(cfg.Log.Format).To(Equal("json"))
	})

	It("defaults an empty classifier", func() {
		cfg, err := config.Load(writeConfig("retry:\n  classifier: \"\"\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Retry.Classifier).To(Equal(config.ClassifierAll))
	})

	It("fails on a missing file", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})

	It("fails on malformed YAML", func() {
		_, err := config.Load(writeConfig("server: [unterminated"))
		Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
	})

	DescribeTable("rejects invalid values",
		func(content, message string) {
			_, err := config.Load(writeConfig(content))
			Expect(err).To(MatchError(ContainSubstring(message)))
		},
		Entry("empty address", "server:\n  address: \"\"\n", "server.address is required"),
		Entry("negative shutdown", "server:\n  shutdown_timeout: -1s\n", "server.shutdown_timeout"),
		Entry("zero body limit", "server:\n  max_body_bytes: 0\n", "server.max_body_bytes"),
		Entry("negative idle conns", "transport:\n  max_idle_conns: -1\n", "transport.max_idle_conns"),
		Entry("zero response limit", "transport:\n  max_response_bytes: 0\n", "transport.max_response_bytes"),
		Entry("unknown classifier", "retry:\n  classifier: sometimes\n", "retry.classifier"),
		Entry("breaker without half-open requests", "circuit_breaker:\n  enabled: true\n  max_requests: 0\n", "circuit_breaker.max_requests"),
		Entry("breaker without timeout", "circuit_breaker:\n  enabled: true\n  timeout: 0s\n", "circuit_breaker.timeout"),
		Entry("relative metrics path", "metrics:\n  path: metrics\n", "metrics.path"),
		Entry("unknown log level", "log:\n  level: loud\n", "log.level"),
		Entry("unknown log format", "log:\n  format: xml\n", "log.format"),
	)

	It("ignores breaker settings while breakers are disabled", func() {
		_, err := config.Load(writeConfig("circuit_breaker:\n  enabled: false\n  max_requests: 0\n"))
		Expect(err).NotTo(HaveOccurred())
	})
})
