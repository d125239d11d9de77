// Package testing provides a conformance suite for content.Store
// implementations.
package testing

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the content.Store contract against a backend.
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &contenttest.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store {
//	            return mystore.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
//
// Garbage collection tests run only when the store implements
// content.GarbageCollectableStore.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The suite closes
	// it when the test ends.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteRead", suite.testWriteRead)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("Empty", suite.testEmpty)
	t.Run("Large", suite.testLarge)
	t.Run("NotFound", suite.testNotFound)
	t.Run("DeleteIdempotent", suite.testDeleteIdempotent)
	t.Run("InvalidID", suite.testInvalidID)
	t.Run("FailedWriteLeavesNothing", suite.testFailedWrite)
	t.Run("ConcurrentWrites", suite.testConcurrentWrites)
	t.Run("Healthcheck", suite.testHealthcheck)
	t.Run("CancelledContext", suite.testCancelledContext)
	t.Run("ListAllContent", suite.testListAllContent)
	t.Run("DeleteBatch", suite.testDeleteBatch)
}

func (suite *StoreTestSuite) store(t *testing.T) content.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ReadAll reads id fully.
func ReadAll(t *testing.T, s content.Store, id content.ID) []byte {
	t.Helper()
	r, err := s.ReadContent(context.Background(), id)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// Write stores data under id.
func Write(t *testing.T, s content.Store, id content.ID, data []byte) {
	t.Helper()
	n, err := s.WriteContent(context.Background(), id, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
}

func (suite *StoreTestSuite) testWriteRead(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	id := content.NewID()
	Write(t, s, id, []byte("hello, drive"))

	assert.Equal(t, []byte("hello, drive"), ReadAll(t, s, id))

	size, err := s.GetContentSize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)

	exists, err := s.ContentExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	s := suite.store(t)

	id := content.NewID()
	Write(t, s, id, []byte("first version, longer"))
	Write(t, s, id, []byte("second"))

	assert.Equal(t, []byte("second"), ReadAll(t, s, id))
}

func (suite *StoreTestSuite) testEmpty(t *testing.T) {
	s := suite.store(t)

	id := content.NewID()
	Write(t, s, id, nil)

	assert.Empty(t, ReadAll(t, s, id))
	size, err := s.GetContentSize(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func (suite *StoreTestSuite) testLarge(t *testing.T) {
	s := suite.store(t)

	data := make([]byte, 3<<20+17)
	_, err := rand.Read(data)
	require.NoError(t, err)

	id := content.NewID()
	Write(t, s, id, data)
	assert.True(t, bytes.Equal(data, ReadAll(t, s, id)))
}

func (suite *StoreTestSuite) testNotFound(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)
	id := content.NewID()

	_, err := s.ReadContent(ctx, id)
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	_, err = s.GetContentSize(ctx, id)
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	exists, err := s.ContentExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	id := content.NewID()
	Write(t, s, id, []byte("bye"))

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id), "deleting twice succeeds")
	require.NoError(t, s.Delete(ctx, content.NewID()), "deleting a missing id succeeds")

	exists, err := s.ContentExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testInvalidID(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	for _, id := range []content.ID{"", "..", "a/b"} {
		_, err := s.WriteContent(ctx, id, strings.NewReader("x"))
		assert.ErrorIs(t, err, content.ErrInvalidContentID, id)
		_, err = s.ReadContent(ctx, id)
		assert.ErrorIs(t, err, content.ErrInvalidContentID, id)
	}
}

// failingReader returns some bytes, then an error.
type failingReader struct{ sent bool }

var errBrokenUpload = errors.New("broken upload")

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errBrokenUpload
	}
	r.sent = true
	return copy(p, "partial"), nil
}

func (suite *StoreTestSuite) testFailedWrite(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	fresh := content.NewID()
	_, err := s.WriteContent(ctx, fresh, &failingReader{})
	require.Error(t, err)
	exists, err := s.ContentExists(ctx, fresh)
	require.NoError(t, err)
	assert.False(t, exists, "a failed write creates nothing")

	kept := content.NewID()
	Write(t, s, kept, []byte("original"))
	_, err = s.WriteContent(ctx, kept, &failingReader{})
	require.Error(t, err)
	assert.Equal(t, []byte("original"), ReadAll(t, s, kept), "a failed overwrite keeps the old content")
}

func (suite *StoreTestSuite) testConcurrentWrites(t *testing.T) {
	s := suite.store(t)

	const n = 16
	ids := make([]content.ID, n)
	for i := range ids {
		ids[i] = content.NewID()
	}

	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.WriteContent(context.Background(), ids[i], strings.NewReader(string(ids[i])))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, []byte(id), ReadAll(t, s, id))
	}
}

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	s := suite.store(t)
	assert.NoError(t, s.Healthcheck(context.Background()))
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	s := suite.store(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.WriteContent(ctx, content.NewID(), strings.NewReader("x"))
	assert.Error(t, err)
	_, err = s.ReadContent(ctx, content.NewID())
	assert.Error(t, err)
}

func (suite *StoreTestSuite) gcStore(t *testing.T) content.GarbageCollectableStore {
	t.Helper()
	gc, ok := suite.store(t).(content.GarbageCollectableStore)
	if !ok {
		t.Skip("store does not support garbage collection")
	}
	return gc
}

func sorted(ids []content.ID) []content.ID {
	out := append([]content.ID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (suite *StoreTestSuite) testListAllContent(t *testing.T) {
	ctx := context.Background()
	s := suite.gcStore(t)

	ids, err := s.ListAllContent(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	var want []content.ID
	for i := 0; i < 5; i++ {
		id := content.NewID()
		Write(t, s, id, []byte{byte(i)})
		want = append(want, id)
	}

	ids, err = s.ListAllContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, sorted(want), sorted(ids))
}

func (suite *StoreTestSuite) testDeleteBatch(t *testing.T) {
	ctx := context.Background()
	s := suite.gcStore(t)

	var ids []content.ID
	for i := 0; i < 6; i++ {
		id := content.NewID()
		Write(t, s, id, []byte("x"))
		ids = append(ids, id)
	}

	failures, err := s.DeleteBatch(ctx, append(ids[:4:4], content.NewID()))
	require.NoError(t, err)
	assert.Empty(t, failures, "missing ids are not failures")

	left, err := s.ListAllContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, sorted(ids[4:]), sorted(left))
}
