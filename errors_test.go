package apitool_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apitool "github.com/JohnPlummer/jp-go-apitool"
)

var _ = Describe("Errors", func() {
	protocolFailure := func(code int) error {
		return &apitool.ProtocolFailure{Outcome: &apitool.Outcome{StatusCode: code}}
	}

	Describe("ValidationError", func() {
		It("matches ErrInvalidConfig and names the field", func() {
			err := fmt.Errorf("wrapped: %w", &apitool.ValidationError{Field: "url", Reason: "is required"})
			Expect(errors.Is(err, apitool.ErrInvalidConfig)).To(BeTrue())
			Expect(errors.Is(err, apitool.ErrUnsupportedProtocol)).To(BeFalse())
			Expect(err.Error()).To(ContainSubstring("invalid url: is required"))
		})
	})

	Describe("UnsupportedProtocolError", func() {
		It("matches ErrUnsupportedProtocol", func() {
			err := &apitool.UnsupportedProtocolError{Protocol: apitool.ProtocolGRPC}
			Expect(errors.Is(err, apitool.ErrUnsupportedProtocol)).To(BeTrue())
			Expect(err.Error()).To(Equal("unsupported protocol: grpc"))
		})
	})

	Describe("TransportFailure", func() {
		It("unwraps to its cause", func() {
			cause := errors.New("dial tcp: connection refused")
			err := &apitool.TransportFailure{Op: "GET https://api.example.com", Err: cause}
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(err.Error()).To(Equal("GET https://api.example.com: dial tcp: connection refused"))
		})
	})

	Describe("ProtocolFailure", func() {
		It("exposes the status code", func() {
			var httpErr apitool.HTTPError
			Expect(errors.As(protocolFailure(502), &httpErr)).To(BeTrue())
			Expect(httpErr.StatusCode()).To(Equal(502))
			Expect(httpErr.Error()).To(Equal("request failed with status 502"))
		})
	})

	Describe("RetryAllClassifier", func() {
		It("retries every failure", func() {
			classifier := apitool.DefaultErrorClassifier()
			Expect(classifier.IsRetryable(protocolFailure(404))).To(BeTrue())
			Expect(classifier.IsRetryable(protocolFailure(500))).To(BeTrue())
			Expect(classifier.IsRetryable(errors.New("boom"))).To(BeTrue())
			Expect(classifier.IsRetryable(nil)).To(BeFalse())
		})
	})

	Describe("HTTPStatusClassifier", func() {
		var classifier *apitool.HTTPStatusClassifier

		BeforeEach(func() {
			classifier = apitool.NewHTTPStatusClassifier()
		})

		DescribeTable("IsRetryable",
			func(err error, expected bool) {
				Expect(classifier.IsRetryable(err)).To(Equal(expected))
			},
			Entry("nil", nil, false),
			Entry("429", protocolFailure(429), true),
			Entry("500", protocolFailure(500), true),
			Entry("503", protocolFailure(503), true),
			Entry("400", protocolFailure(400), false),
			Entry("404", protocolFailure(404), false),
			Entry("rate limited", fmt.Errorf("upstream: %w", pkgerrors.ErrRateLimited), true),
			Entry("network failure", &apitool.TransportFailure{Op: "GET x", Err: errors.New("connection reset")}, true),
			Entry("bare cancellation", context.Canceled, false),
			Entry("bare deadline", context.DeadlineExceeded, false),
			Entry("attempt deadline", &apitool.TransportFailure{Op: "GET x", Err: context.DeadlineExceeded}, true),
		)

		DescribeTable("ShouldTripCircuit",
			func(err error, expected bool) {
				Expect(classifier.ShouldTripCircuit(err)).To(Equal(expected))
			},
			Entry("nil", nil, false),
			Entry("401", protocolFailure(401), true),
			Entry("403", protocolFailure(403), true),
			Entry("500", protocolFailure(500), true),
			Entry("404", protocolFailure(404), false),
			Entry("429", protocolFailure(429), false),
			Entry("rate limited", pkgerrors.ErrRateLimited, false),
			Entry("cancellation", context.Canceled, false),
			Entry("unreachable host", &apitool.TransportFailure{Op: "GET x", Err: errors.New("no such host")}, true),
		)

		It("honours custom status lists", func() {
			classifier = &apitool.HTTPStatusClassifier{
				RetryableStatuses:   []int{409},
				CircuitTripStatuses: []int{418},
			}
			Expect(classifier.IsRetryable(protocolFailure(409))).To(BeTrue())
			Expect(classifier.IsRetryable(protocolFailure(500))).To(BeFalse())
			Expect(classifier.ShouldTripCircuit(protocolFailure(418))).To(BeTrue())
			Expect(classifier.ShouldTripCircuit(protocolFailure(500))).To(BeFalse())
		})

		It("falls back to the default lists when unset", func() {
			classifier = &apitool.HTTPStatusClassifier{}
			Expect(classifier.IsRetryable(protocolFailure(502))).To(BeTrue())
			Expect(classifier.ShouldTripCircuit(protocolFailure(403))).To(BeTrue())
		})

		It("retries timeouts raised by an attempt deadline", func() {
			cfg := mustConfig(apitool.CallConfig{
				Protocol:  apitool.ProtocolREST,
				Target:    "https://api.example.com/test",
				TimeoutMS: intPtr(10),
				Retry:     retryPolicy(2, 0),
			})
			timeout := pkgerrors.NewTimeoutError("request timeout", "GET", 10*time.Millisecond)
			client := sequenceClient(func() (*apitool.Outcome, error) {
				return nil, &apitool.TransportFailure{Op: "GET " + cfg.Target, Err: timeout}
			})

			driver := apitool.NewRetryDriver(
				apitool.WithRetryLogger(quietLogger()),
				apitool.WithErrorClassifier(classifier),
			)
			_, err := driver.Run(context.Background(), cfg, client)
			Expect(err).NotTo(HaveOccurred())
			Expect(client.getCallCount()).To(Equal(2))
		})
	})
})
