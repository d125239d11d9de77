//go:build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrive/pkg/store/content"
	contenttest "github.com/marmos91/dittodrive/pkg/store/content/testing"
	"github.com/stretchr/testify/require"
)

// TestS3Store_Integration runs the content store suite against a real
// S3-compatible service.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./pkg/store/content/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Store_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	client, err := NewClient(ctx, ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      3,
	})
	require.NoError(t, err)

	bucket := fmt.Sprintf("dittodrive-test-%d", time.Now().UnixNano())
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	t.Cleanup(func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})

	prefixes := 0
	suite := &contenttest.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			// A fresh prefix per test keeps listings independent
			prefixes++
			s, err := New(ctx, Config{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: fmt.Sprintf("test-%d/", prefixes),
			}, nil)
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}
