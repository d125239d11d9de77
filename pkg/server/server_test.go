package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/facade"
	snapshotmemory "github.com/marmos91/dittodrive/pkg/store/snapshot/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until its context is done or fail is closed.
type fakeAdapter struct {
	protocol string
	port     int

	drive   *facade.Drive
	fail    chan error
	stopped atomic.Int32
	served  atomic.Bool
}

func newFake(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, fail: make(chan error, 1)}
}

func (a *fakeAdapter) Serve(ctx context.Context) error {
	a.served.Store(true)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-a.fail:
		return err
	}
}

func (a *fakeAdapter) SetDrive(d *facade.Drive) { a.drive = d }

func (a *fakeAdapter) Stop(context.Context) error {
	a.stopped.Add(1)
	return nil
}

func (a *fakeAdapter) Protocol() string { return a.protocol }
func (a *fakeAdapter) Port() int        { return a.port }

func openDrive(t *testing.T) *facade.Drive {
	t.Helper()
	d, err := facade.Open(context.Background(), facade.Options{Snapshots: snapshotmemory.New()})
	require.NoError(t, err)
	return d
}

func TestAddAdapter(t *testing.T) {
	d := openDrive(t)
	s := New(d)

	api := newFake("HTTP", 8080)
	require.NoError(t, s.AddAdapter(api))
	assert.Same(t, d, api.drive)

	assert.Error(t, s.AddAdapter(newFake("HTTP", 9000)), "duplicate protocol")
	assert.Error(t, s.AddAdapter(newFake("metrics", 8080)), "duplicate port")

	require.NoError(t, s.AddAdapter(newFake("a", 0)))
	require.NoError(t, s.AddAdapter(newFake("b", 0)), "port 0 never conflicts")

	assert.Len(t, s.Adapters(), 3)
}

func TestServe_NoAdapters(t *testing.T) {
	s := New(openDrive(t))
	assert.Error(t, s.Serve(context.Background()))
}

func TestServe_Cancellation(t *testing.T) {
	s := New(openDrive(t))
	a, b := newFake("HTTP", 1), newFake("metrics", 2)
	require.NoError(t, s.AddAdapter(a))
	require.NoError(t, s.AddAdapter(b))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.served.Load() && b.served.Load() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, int32(1), a.stopped.Load())
	assert.Equal(t, int32(1), b.stopped.Load())

	assert.ErrorIs(t, s.Serve(context.Background()), ErrAlreadyServed)
	assert.ErrorIs(t, s.AddAdapter(newFake("late", 3)), ErrAlreadyServed)
}

func TestServe_AdapterFailureStopsAll(t *testing.T) {
	s := New(openDrive(t))
	a, b := newFake("HTTP", 1), newFake("metrics", 2)
	require.NoError(t, s.AddAdapter(a))
	require.NoError(t, s.AddAdapter(b))

	b.fail <- errors.New("address already in use")

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics adapter error")
	assert.Equal(t, int32(1), a.stopped.Load())
}

func TestServe_EarlyReturnIsFailure(t *testing.T) {
	s := New(openDrive(t))
	a := newFake("HTTP", 1)
	require.NoError(t, s.AddAdapter(a))

	a.fail <- nil

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped unexpectedly")
}
