// Package service provides the classical-inheritance-style start/stop
// lifecycle used by the downloader, adapted from the teacher pack's
// libs/service.BaseService.
package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jetcash/jetcash/internal/log"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when Stop is called on a stopped service.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("not started")
)

// Service can be started, stopped, and waited on.
type Service interface {
	Start(context.Context) error
	IsRunning() bool
	String() string
	Wait()
}

// Implementation is what a concrete service provides to BaseService.
type Implementation interface {
	Service

	OnStart(context.Context) error
	OnStop()
}

// BaseService implements Service. The caller must not call Start/Stop
// concurrently. It is safe to call Stop without calling Start.
type BaseService struct {
	logger  log.Logger
	name    string
	started uint32 // atomic
	stopped uint32 // atomic
	quit    chan struct{}

	impl Implementation
}

// NewBaseService creates a new BaseService wrapping impl.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start calls OnStart and, once it returns without error, spawns a
// goroutine that stops the service when ctx is canceled.
func (bs *BaseService) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		return ErrAlreadyStarted
	}
	if atomic.LoadUint32(&bs.stopped) == 1 {
		atomic.StoreUint32(&bs.started, 0)
		return ErrAlreadyStopped
	}

	bs.logger.Info("starting service", "service", bs.name)
	if err := bs.impl.OnStart(ctx); err != nil {
		atomic.StoreUint32(&bs.started, 0)
		return err
	}

	go func() {
		select {
		case <-bs.quit:
			return
		case <-ctx.Done():
			if !bs.impl.IsRunning() {
				return
			}
			if err := bs.Stop(); err != nil {
				bs.logger.Error("stopping service", "err", err, "service", bs.name)
			}
		}
	}()

	return nil
}

// Stop calls OnStop and closes the quit channel.
func (bs *BaseService) Stop() error {
	if !atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		return ErrAlreadyStopped
	}
	if atomic.LoadUint32(&bs.started) == 0 {
		atomic.StoreUint32(&bs.stopped, 0)
		return ErrNotStarted
	}

	bs.logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	close(bs.quit)
	return nil
}

// IsRunning reports whether the service has been started and not yet stopped.
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// String returns the service's name.
func (bs *BaseService) String() string { return bs.name }
