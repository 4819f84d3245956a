// Package cloudtest seeds a local S3-compatible endpoint (moto) with sales
// exports for integration tests of S3 inputs.
//
// Tests using this package are tagged //go:build cloudintegration and skip
// themselves when the endpoint is not running:
//
//	func TestImportFromS3(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    cloudtest.PutSalesCSV(t, ctx, bucket, "2024-01/sales.csv", rows)
//	    r := source.NewResolver(source.WithS3Config(cloudtest.Config()))
//	    ...
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/3leaps/inventoryctl/pkg/source"
)

const (
	// DefaultEndpoint is where `moto_server -p 5555` listens.
	DefaultEndpoint = "http://localhost:5555"

	DefaultRegion = "us-east-1"

	// moto accepts any credentials.
	accessKeyID     = "testing"
	secretAccessKey = "testing"

	// SalesHeader is the CSV header the import endpoint expects.
	SalesHeader = "date,sku,quantity"
)

var (
	// Endpoint can be overridden with MOTO_ENDPOINT.
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)

	// Region can be overridden with MOTO_REGION.
	Region = envOr("MOTO_REGION", DefaultRegion)

	clientOnce sync.Once
	client     *s3.Client
	clientErr  error
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Config is the s3.* configuration that points inventoryctl at the endpoint.
func Config() source.S3Config {
	return source.S3Config{
		Region:          Region,
		Endpoint:        Endpoint,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		ForcePathStyle:  true,
	}
}

// Setenv applies Config through INVENTORYCTL_S3_* variables for CLI tests.
func Setenv(t *testing.T) {
	t.Helper()
	t.Setenv("INVENTORYCTL_S3_REGION", Region)
	t.Setenv("INVENTORYCTL_S3_ENDPOINT", Endpoint)
	t.Setenv("INVENTORYCTL_S3_ACCESS_KEY_ID", accessKeyID)
	t.Setenv("INVENTORYCTL_S3_SECRET_ACCESS_KEY", secretAccessKey)
	t.Setenv("INVENTORYCTL_S3_FORCE_PATH_STYLE", "true")
}

// Available reports whether the moto server answers.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto server not available at %s (start with: moto_server -p 5555)", Endpoint)
	}
}

// Client returns a shared client built the same way the CLI builds its own.
func Client(ctx context.Context) (*s3.Client, error) {
	clientOnce.Do(func() {
		client, clientErr = source.NewS3Client(ctx, Config())
	})
	return client, clientErr
}

func clientT(t *testing.T, ctx context.Context) *s3.Client {
	t.Helper()
	c, err := Client(ctx)
	if err != nil {
		t.Fatalf("create S3 client: %v", err)
	}
	return c
}

// CreateBucket creates a uniquely named bucket, emptied and removed when the
// test ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	c := clientT(t, ctx)

	name := "inventoryctl-" + uuid.NewString()[:8]
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { deleteBucket(t, c, name) })
	return name
}

func deleteBucket(t *testing.T, c *s3.Client, bucket string) {
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("warning: list %s: %v", bucket, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				t.Logf("warning: delete %s/%s: %v", bucket, aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("warning: delete bucket %s: %v", bucket, err)
	}
}

// PutObject uploads raw bytes.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	c := clientT(t, ctx)
	_, err := c.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// PutSalesCSV uploads a sales export: SalesHeader followed by rows, each a
// "date,sku,quantity" line.
func PutSalesCSV(t *testing.T, ctx context.Context, bucket, key string, rows ...string) []byte {
	t.Helper()
	content := []byte(SalesHeader + "\n" + strings.Join(rows, "\n") + "\n")
	PutObject(t, ctx, bucket, key, content)
	return content
}

// URI formats s3://bucket/key.
func URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}
