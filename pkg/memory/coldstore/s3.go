package coldstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/papercomputeco/memwal/pkg/memory"
)

const s3Scheme = "s3"

// S3Config holds connection settings for an S3-compatible object store.
type S3Config struct {
	// Endpoint is host[:port] without scheme, e.g. "s3.amazonaws.com" or "localhost:9000".
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool

	// Region is optional.
	Region string
}

// S3 writes compressed originals to an S3-compatible bucket.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 connects to the object store and creates the bucket if missing.
func NewS3(ctx context.Context, c S3Config) (*S3, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("s3 cold store: endpoint is required")
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("s3 cold store: bucket is required")
	}

	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.Secure,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", c.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{Region: c.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", c.Bucket, err)
		}
	}

	return &S3{client: client, bucket: c.Bucket}, nil
}

func (s *S3) Put(ctx context.Context, tenant, key string, original []byte) (string, error) {
	name := objectName(tenant, key)
	data := compress(original)

	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "zstd",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}

	return s3Scheme + "://" + s.bucket + "/" + name, nil
}

func (s *S3) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, name, err := splitRef(ref, s3Scheme)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("cold object %s: %w", ref, memory.ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	return decompress(data)
}

var _ memory.ColdStore = (*S3)(nil)
