package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

// objectAPI is the subset of the S3 client the document store uses
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Conn is a document tenant store. Each model is a key prefix in the bucket
// and each record one JSON object at <prefix>/<model>/<id>.json.
type Conn struct {
	client objectAPI
	bucket string
	prefix string
}

var _ storage.Conn = (*Conn)(nil)

// Opener returns a storage.Opener for document descriptors
func Opener(pingTimeout time.Duration) storage.Opener {
	return func(ctx context.Context, d storage.Descriptor) (storage.Conn, error) {
		return Open(ctx, d, pingTimeout)
	}
}

// Open builds an S3 client for the descriptor and checks the bucket is reachable
func Open(ctx context.Context, d storage.Descriptor, pingTimeout time.Duration) (*Conn, error) {
	opts := []func(*config.LoadOptions) error{}
	if d.Region != "" {
		opts = append(opts, config.WithRegion(d.Region))
	}
	if d.AccessKey != "" && d.SecretKey != "" {
		// Static credentials for MinIO or explicit keys; otherwise the default chain.
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.AccessKey, d.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if d.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.Endpoint)
			o.UsePathStyle = true
		}
	})

	conn := NewConn(client, d.Bucket, d.Prefix)

	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("tenant %d bucket %s: %w", d.ID, d.Bucket, err)
	}

	return conn, nil
}

// NewConn wraps an S3 client
func NewConn(client objectAPI, bucket, prefix string) *Conn {
	return &Conn{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (c *Conn) Kind() storage.Kind {
	return storage.KindDocument
}

// Model returns the collection stored under name
func (c *Conn) Model(name string) (storage.Model, error) {
	if !validName(name) {
		return nil, apperr.Errorf(apperr.KindInternal, "document.Model", "invalid model name %q", name)
	}
	return &model{conn: c, name: name}, nil
}

// Transaction is not supported by the document store
func (c *Conn) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return apperr.NotImplemented("document.Transaction")
}

// Ping checks the bucket is reachable
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no per-tenant resources
func (c *Conn) Close() error {
	return nil
}

func (c *Conn) collectionPrefix(name string) string {
	if c.prefix == "" {
		return name + "/"
	}
	return c.prefix + "/" + name + "/"
}

func (c *Conn) objectKey(name, id string) string {
	return c.collectionPrefix(name) + id + ".json"
}

func validName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r == '_', r == '-', r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != "." && s != ".."
}
