package extraction_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/extraction/passthrough"
	"github.com/papercomputeco/memwal/pkg/extraction/remote"
	extractionutils "github.com/papercomputeco/memwal/pkg/extraction/utils"
	"github.com/papercomputeco/memwal/pkg/wal"
)

var _ = Describe("DecodeInteraction", func() {
	It("decodes a valid payload", func() {
		in, err := extraction.DecodeInteraction([]byte(`{"actor":"u1","content":"met Ada","occurred_at":"2026-01-01T00:00:00Z"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(in.Actor).To(Equal("u1"))
	})

	DescribeTable("classifies bad payloads as permanent",
		func(payload string) {
			_, err := extraction.DecodeInteraction([]byte(payload))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, extraction.ErrMalformedPayload)).To(BeTrue())
			Expect(wal.ClassOf(err)).To(Equal(wal.Permanent))
		},
		Entry("not json", `{{`),
		Entry("empty content", `{"content":"  ","occurred_at":"2026-01-01T00:00:00Z"}`),
		Entry("missing time", `{"content":"hi"}`),
	)
})

var _ = Describe("passthrough.Extractor", func() {
	It("returns the interaction's own entities", func() {
		e := passthrough.NewExtractor()
		res, err := e.Extract(context.Background(), extraction.Request{
			Interaction: &extraction.Interaction{
				Entities:      []extraction.Entity{{Name: "Ada"}},
				Relationships: []extraction.Relationship{{From: "Ada", To: "Engine", Rel: "built"}},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Entities).To(HaveLen(1))
		Expect(res.Relationships).To(HaveLen(1))
		Expect(res.Confidence).To(Equal(passthrough.DefaultConfidence))
	})

	It("rejects a missing interaction permanently", func() {
		_, err := passthrough.NewExtractor().Extract(context.Background(), extraction.Request{})
		Expect(wal.ClassOf(err)).To(Equal(wal.Permanent))
	})
})

var _ = Describe("remote.Extractor", func() {
	var (
		server *httptest.Server
		status atomic.Int32
		calls  atomic.Int32
	)

	BeforeEach(func() {
		status.Store(http.StatusOK)
		calls.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/v1/extract"))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))

			var req extraction.Request
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())

			code := int(status.Load())
			if code != http.StatusOK {
				w.WriteHeader(code)
				_, _ = w.Write([]byte("nope"))
				return
			}
			_ = json.NewEncoder(w).Encode(extraction.Result{
				Entities:   []extraction.Entity{{Name: req.Interaction.Actor, Kind: "person"}},
				Confidence: 0.9,
			})
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	extract := func() (*extraction.Result, error) {
		e, err := remote.NewExtractor(remote.Config{BaseURL: server.URL, Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		defer e.Close()
		return e.Extract(context.Background(), extraction.Request{
			Tenant:      "t",
			EntryID:     "e1",
			Interaction: &extraction.Interaction{Actor: "ada", Content: "hi", OccurredAt: time.Now()},
		})
	}

	It("returns the service result", func() {
		res, err := extract()
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Entities).To(ConsistOf(extraction.Entity{Name: "ada", Kind: "person"}))
		Expect(res.Confidence).To(Equal(0.9))
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	DescribeTable("classifies status codes",
		func(code int, class wal.ErrorClass) {
			status.Store(int32(code))
			_, err := extract()
			Expect(err).To(HaveOccurred())
			Expect(wal.ClassOf(err)).To(Equal(class))
			Expect(remote.IsStatus(err, code)).To(BeTrue())
		},
		Entry("500 is transient", http.StatusInternalServerError, wal.Transient),
		Entry("503 is transient", http.StatusServiceUnavailable, wal.Transient),
		Entry("429 is transient", http.StatusTooManyRequests, wal.Transient),
		Entry("408 is transient", http.StatusRequestTimeout, wal.Transient),
		Entry("422 is permanent", http.StatusUnprocessableEntity, wal.Permanent),
		Entry("400 is permanent", http.StatusBadRequest, wal.Permanent),
	)

	It("treats an unreachable service as transient", func() {
		server.Close()
		_, err := extract()
		Expect(errors.Is(err, extraction.ErrUnavailable)).To(BeTrue())
		Expect(wal.ClassOf(err)).To(Equal(wal.Transient))
	})
})

var _ = Describe("NewExtractor", func() {
	It("builds the configured provider", func() {
		e, err := extractionutils.NewExtractor(&extractionutils.NewExtractorOpts{ProviderType: "passthrough"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&passthrough.Extractor{}))

		e, err = extractionutils.NewExtractor(&extractionutils.NewExtractorOpts{TargetURL: "http://example.invalid"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&remote.Extractor{}))
	})

	It("rejects unknown providers", func() {
		_, err := extractionutils.NewExtractor(&extractionutils.NewExtractorOpts{ProviderType: "magic"})
		Expect(err).To(HaveOccurred())
	})
})
