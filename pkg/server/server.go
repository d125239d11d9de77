package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/adapter"
	"github.com/marmos91/dittodrive/pkg/facade"
	"github.com/marmos91/dittodrive/pkg/gc"
)

// ErrAlreadyServed is returned by Serve on every call after the first.
var ErrAlreadyServed = errors.New("server: Serve already called")

// DefaultStopTimeout bounds the graceful shutdown of each adapter.
const DefaultStopTimeout = 30 * time.Second

// DriveServer manages the lifecycle of the protocol adapters that expose a
// single drive, plus its background garbage collector.
//
// Lifecycle:
//  1. Creation: New() with the drive
//  2. Registration: AddAdapter() for each protocol, SetCollector() for GC
//  3. Startup: Serve() starts the collector and all adapters concurrently
//  4. Shutdown: context cancellation or an adapter failure stops all
//     adapters in reverse order, stops the collector and flushes the drive
//
// The drive itself is not closed: the caller that opened it closes it.
//
// Thread safety:
// DriveServer is safe for concurrent use. Serve() runs at most once.
//
// Example usage:
//
//	srv := server.New(d)
//	srv.AddAdapter(api.New(apiConfig))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type DriveServer struct {
	drive     *facade.Drive
	collector *gc.Collector
	adapters  []adapter.Adapter

	// StopTimeout bounds each adapter's Stop call. Zero means
	// DefaultStopTimeout.
	StopTimeout time.Duration

	// mu protects adapters, collector and served
	mu     sync.RWMutex
	served bool
}

// New creates a server for d.
//
// Panics if d is nil (programmer error).
func New(d *facade.Drive) *DriveServer {
	if d == nil {
		panic("drive cannot be nil")
	}
	return &DriveServer{
		drive:    d,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a protocol adapter and injects the drive into it.
//
// Returns an error when another adapter already uses the same protocol or
// the same (non-zero) port, or when Serve was already called.
//
// Panics if a is nil.
func (s *DriveServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("cannot add %s adapter: %w", a.Protocol(), ErrAlreadyServed)
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetDrive(s.drive)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// SetCollector attaches a garbage collector that runs for as long as the
// server serves. A nil collector detaches it.
func (s *DriveServer) SetCollector(c *gc.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collector = c
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Shutdown behavior:
//   - Adapters receive Stop() in reverse registration order, each bounded
//     by StopTimeout
//   - Serve waits for every adapter goroutine to return
//   - The collector is stopped and the drive is flushed last
//
// Returns:
//   - the context error when shutdown was triggered by cancellation
//   - the adapter's error (wrapped) when an adapter failed
//   - ErrAlreadyServed on any call after the first
func (s *DriveServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	collector := s.collector
	s.mu.Unlock()

	return s.serve(ctx, adapters, collector)
}

func (s *DriveServer) serve(ctx context.Context, adapters []adapter.Adapter, collector *gc.Collector) error {
	logger.Info("Starting DriveServer with %d adapter(s)", len(adapters))

	if collector != nil {
		collector.Start()
	}

	// Buffered so failing adapters never block
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case ctx.Err() != nil:
				logger.Debug("%s adapter stopped gracefully", protocol)
			case err == nil:
				// Returning early without error still ends the service
				errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
			case !errors.Is(err, context.Canceled):
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAllAdapters(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	if collector != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
		if err := collector.Stop(stopCtx); err != nil {
			logger.Warn("Garbage collector did not stop cleanly: %v", err)
		}
		cancel()
	}

	if s.drive.Dirty() {
		flushCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
		if err := s.drive.Flush(flushCtx); err != nil {
			logger.Error("Final drive flush failed: %v", err)
		}
		cancel()
	}

	logger.Info("DriveServer stopped")
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

func (s *DriveServer) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

// stopAllAdapters signals every adapter to shut down, in reverse
// registration order. Errors are logged; the remaining adapters are still
// stopped.
func (s *DriveServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		} else {
			logger.Debug("%s adapter stop signal sent", adp.Protocol())
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *DriveServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
