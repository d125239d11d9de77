package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/pkg/store/content"
	contenttest "github.com/marmos91/dittodrive/pkg/store/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket speaking the subset of the S3 API the store
// uses. It pages listings so the paginator is exercised.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	pageSize int
	failKeys map[string]bool
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: map[string][]byte{}, pageSize: 3, failKeys: map[string]bool{}}
}

var errNoSuchBucket = errors.New("NoSuchBucket")

func (f *fakeS3) checkBucket(name *string) error {
	if aws.ToString(name) != f.bucket {
		return errNoSuchBucket
	}
	return nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, f.checkBucket(in.Bucket)
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if in.ContentLength == nil || *in.ContentLength != int64(len(data)) {
		return nil, errors.New("content length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(bytes.Clone(data)))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range in.Delete.Objects {
		key := aws.ToString(obj.Key)
		if f.failKeys[key] {
			out.Errors = append(out.Errors, types.Error{Key: obj.Key, Code: aws.String("AccessDenied"), Message: aws.String("denied")})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newStore(t *testing.T, fake *fakeS3, prefix string) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Client:    fake,
		Bucket:    fake.bucket,
		KeyPrefix: prefix,
		SpoolDir:  t.TempDir(),
	}, nil)
	require.NoError(t, err)
	return s
}

func TestS3Store(t *testing.T) {
	suite := &contenttest.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return newStore(t, newFakeS3("drive"), "content/")
		},
	}
	suite.Run(t)
}

func TestS3Store_KeysUsePrefix(t *testing.T) {
	fake := newFakeS3("drive")
	s := newStore(t, fake, "tenant-a/")

	id := content.NewID()
	contenttest.Write(t, s, id, []byte("x"))

	_, ok := fake.objects["tenant-a/"+string(id)]
	assert.True(t, ok)

	// Objects outside the prefix are not ours
	fake.objects["tenant-b/"+string(content.NewID())] = []byte("y")
	ids, err := s.ListAllContent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []content.ID{id}, ids)
}

func TestS3Store_DeleteBatchReportsFailures(t *testing.T) {
	fake := newFakeS3("drive")
	s := newStore(t, fake, "")

	ok, denied := content.NewID(), content.NewID()
	contenttest.Write(t, s, ok, []byte("1"))
	contenttest.Write(t, s, denied, []byte("2"))
	fake.failKeys[string(denied)] = true

	failures, err := s.DeleteBatch(context.Background(), []content.ID{ok, denied})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[denied].Error(), "AccessDenied")
}

func TestS3Store_SplitsLargeBatches(t *testing.T) {
	fake := newFakeS3("drive")
	s := newStore(t, fake, "")

	ids := make([]content.ID, maxDeleteBatch+5)
	for i := range ids {
		ids[i] = content.NewID()
		fake.objects[string(ids[i])] = nil
	}

	failures, err := s.DeleteBatch(context.Background(), ids)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Empty(t, fake.objects)
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{Bucket: "drive"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, Config{Client: newFakeS3("drive")}, nil)
	assert.Error(t, err)

	_, err = New(ctx, Config{Client: newFakeS3("drive"), Bucket: "other"}, nil)
	assert.ErrorIs(t, err, errNoSuchBucket)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	assert.Error(t, err, "region is required")

	client, err := NewClient(context.Background(), ClientConfig{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "http://localhost:4566", aws.ToString(opts.BaseEndpoint))
}
