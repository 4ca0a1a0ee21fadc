package coldstore_test

import (
	"bytes"
	"context"
	"errors"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memwal/pkg/memory"
	"github.com/papercomputeco/memwal/pkg/memory/coldstore"
)

var _ = Describe("Memory", func() {
	var (
		ctx   context.Context
		store *coldstore.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = coldstore.NewMemory()
	})

	It("round-trips an original", func() {
		original := bytes.Repeat([]byte(`{"content":"hello"}`), 100)
		ref, err := store.Put(ctx, "tenant a", "ada/lovelace", original)
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal("mem://archive/tenant%20a/ada%2Flovelace.json.zst"))

		got, err := store.Get(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(original))
	})

	It("overwrites the same record's object", func() {
		_, err := store.Put(ctx, "t", "k", []byte("one"))
		Expect(err).NotTo(HaveOccurred())
		ref, err := store.Put(ctx, "t", "k", []byte("two"))
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Len()).To(Equal(1))
		got, err := store.Get(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("two"))
	})

	It("reports missing objects as not found", func() {
		_, err := store.Get(ctx, "mem://archive/t/missing.json.zst")
		Expect(errors.Is(err, memory.ErrNotFound)).To(BeTrue())
	})

	It("rejects foreign references", func() {
		_, err := store.Get(ctx, "s3://bucket/t/k.json.zst")
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})
})

var _ = Describe("S3", func() {
	It("round-trips against a live endpoint", func() {
		endpoint := os.Getenv("MEMWAL_TEST_S3_ENDPOINT")
		if endpoint == "" {
			Skip("MEMWAL_TEST_S3_ENDPOINT not set, skipping S3 cold store tests")
		}
		ctx := context.Background()
		store, err := coldstore.NewS3(ctx, coldstore.S3Config{
			Endpoint:  endpoint,
			Bucket:    "memwal-test",
			AccessKey: os.Getenv("MEMWAL_TEST_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("MEMWAL_TEST_S3_SECRET_KEY"),
		})
		Expect(err).NotTo(HaveOccurred())

		ref, err := store.Put(ctx, "t", "k", []byte(`{"a":1}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal("s3://memwal-test/t/k.json.zst"))

		got, err := store.Get(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(MatchJSON(`{"a":1}`))
	})
})

var _ = Describe("New", func() {
	It("builds the in-memory store by default", func() {
		cs, err := coldstore.New(context.Background(), &coldstore.NewOpts{})
		Expect(err).NotTo(HaveOccurred())
		Expect(cs).To(BeAssignableToTypeOf(&coldstore.Memory{}))
	})

	It("validates s3 settings before connecting", func() {
		_, err := coldstore.New(context.Background(), &coldstore.NewOpts{ProviderType: "s3"})
		Expect(err).To(MatchError(ContainSubstring("endpoint is required")))
	})

	It("rejects unknown providers", func() {
		_, err := coldstore.New(context.Background(), &coldstore.NewOpts{ProviderType: "tape"})
		Expect(err).To(HaveOccurred())
	})
})
