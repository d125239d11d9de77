// Package s3 implements a content store on Amazon S3 or any S3-compatible
// object store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
)

const (
	backendName = "s3"

	// maxDeleteBatch is the S3 limit of objects per DeleteObjects call.
	maxDeleteBatch = 1000
)

// API is the subset of the S3 client the store uses. *s3.Client satisfies it.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config contains configuration for the S3 content store.
type Config struct {
	// Client is the S3 client (see NewClient)
	Client API

	// Bucket is the bucket name. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key
	// Example: "drive/content/" results in keys like "drive/content/abc123"
	KeyPrefix string

	// SpoolDir holds uploads while they are measured. Empty means the OS
	// temporary directory.
	SpoolDir string
}

// Store keeps each content item in one object.
//
// Key Design:
//   - Object key = KeyPrefix + ID
//   - IDs never contain "/", so every item sits directly under the prefix
//
// Uploads:
// PutObject needs a known length. WriteContent spools the reader to a
// temporary file first, then uploads the file with its exact size.
//
// Thread Safety:
// Safe for concurrent use; the S3 client is.
type Store struct {
	client    API
	bucket    string
	keyPrefix string
	spoolDir  string
	metrics   metrics.StorageMetrics
}

// New creates an S3 content store and verifies bucket access.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//   - m: Storage metrics, nil for none
//
// Returns:
//   - *Store: Initialized store
//   - error: If the bucket is not accessible
func New(ctx context.Context, cfg Config, m metrics.StorageMetrics) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("S3 content store initialized: bucket=%s, prefix=%s", cfg.Bucket, cfg.KeyPrefix)

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		spoolDir:  cfg.SpoolDir,
		metrics:   metrics.OrNoopStorage(m),
	}, nil
}

func (s *Store) key(id content.ID) string {
	return s.keyPrefix + string(id)
}

func (s *Store) idFromKey(key string) (content.ID, bool) {
	rest, ok := strings.CutPrefix(key, s.keyPrefix)
	if !ok || rest == "" {
		return "", false
	}
	id := content.ID(rest)
	return id, id.Validate() == nil
}

func (s *Store) record(op string, start time.Time, err error) {
	s.metrics.RecordStorageOperation(backendName, op, time.Since(start), err)
}

// isNotFound reports whether err is S3's answer for a missing object.
// GetObject returns NoSuchKey; HeadObject has no body and returns NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// WriteContent implements content.Store.
func (s *Store) WriteContent(ctx context.Context, id content.ID, r io.Reader) (n int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := id.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() { s.record("put", start, err) }()

	// Step 1: spool to learn the length
	spool, err := os.CreateTemp(s.spoolDir, "dittodrive-s3-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	n, err = io.Copy(spool, r)
	if err != nil {
		return 0, fmt.Errorf("failed to spool content %s: %w", id, err)
	}
	if _, err = spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind spool file: %w", err)
	}

	// Step 2: upload
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          spool,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put object %s: %w", id, err)
	}

	s.metrics.RecordBytes(backendName, "write", n)
	return n, nil
}

// ReadContent implements content.Store.
func (s *Store) ReadContent(ctx context.Context, id content.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	s.record("get", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return result.Body, nil
}

// GetContentSize implements content.Store.
func (s *Store) GetContentSize(ctx context.Context, id content.ID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := id.Validate(); err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to head object: %w", err)
	}
	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", id)
	}
	return *result.ContentLength, nil
}

// ContentExists implements content.Store.
func (s *Store) ContentExists(ctx context.Context, id content.ID) (bool, error) {
	_, err := s.GetContentSize(ctx, id)
	if errors.Is(err, content.ErrContentNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete implements content.Store. S3 deletes of missing keys succeed.
func (s *Store) Delete(ctx context.Context, id content.ID) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.record("delete", start, err) }()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", id, err)
	}
	return nil
}

// ListAllContent implements content.GarbageCollectableStore.
func (s *Store) ListAllContent(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []content.ID
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if id, ok := s.idFromKey(*obj.Key); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// DeleteBatch implements content.GarbageCollectableStore.
//
// Batches larger than 1000 IDs are split into several DeleteObjects calls.
func (s *Store) DeleteBatch(ctx context.Context, ids []content.ID) (map[content.ID]error, error) {
	failures := make(map[content.ID]error)

	for i := 0; i < len(ids); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			for _, id := range ids[i:] {
				failures[id] = err
			}
			return failures, err
		}

		batch := ids[i:min(i+maxDeleteBatch, len(ids))]

		objects := make([]types.ObjectIdentifier, 0, len(batch))
		for _, id := range batch {
			if err := id.Validate(); err != nil {
				failures[id] = err
				continue
			}
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.key(id))})
		}
		if len(objects) == 0 {
			continue
		}

		start := time.Now()
		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		s.record("delete_batch", start, err)
		if err != nil {
			for _, obj := range objects {
				id, _ := s.idFromKey(*obj.Key)
				failures[id] = err
			}
			continue
		}

		for _, deleteErr := range result.Errors {
			if deleteErr.Key == nil {
				continue
			}
			id, ok := s.idFromKey(*deleteErr.Key)
			if !ok {
				continue
			}
			failures[id] = fmt.Errorf("%s: %s", aws.ToString(deleteErr.Code), aws.ToString(deleteErr.Message))
		}
	}

	return failures, nil
}

// Healthcheck verifies the bucket is reachable.
func (s *Store) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Close implements content.Store. The S3 client holds no resources.
func (s *Store) Close() error {
	return nil
}
