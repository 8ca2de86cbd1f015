package uci

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Worker is one engine leased from a Pool and driven as a raw command/line channel pair.
// It backs the live analysis of a single editing session.
type Worker struct {
	pool    *Pool
	session *Session
	lines   <-chan string
	cancel  context.CancelFunc
	logger  *zap.Logger

	mu     sync.Mutex
	failed error
	closed bool
}

// Lease acquires an engine and attaches its line stream.
func Lease(ctx context.Context, pool *Pool, opt Options, logger *zap.Logger) (*Worker, error) {
	if pool == nil {
		return nil, errors.New("engine pool not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := pool.Acquire(ctx, opt)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	lines, err := session.Stream(streamCtx)
	if err != nil {
		cancel()
		pool.Release(session, err)
		return nil, err
	}
	return &Worker{
		pool:    pool,
		session: session,
		lines:   lines,
		cancel:  cancel,
		logger:  logger,
	}, nil
}

func (w *Worker) Send(cmd string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSessionClosed
	}
	if err := w.session.Send(cmd); err != nil {
		w.failed = err
		return err
	}
	return nil
}

func (w *Worker) Lines() <-chan string { return w.lines }

// Close stops any running search and returns the engine to the pool. An engine that
// failed a write is discarded instead of reused.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	failed := w.failed
	w.mu.Unlock()

	if failed == nil {
		if err := w.session.Stop(); err != nil {
			failed = err
		}
	}
	w.cancel()
	// the stream goroutine must let go of stdout before the engine is reused
	for range w.lines {
	}
	if failed != nil {
		w.logger.Warn("discarding failed engine", zap.Error(failed))
	}
	w.pool.Release(w.session, failed)
	return nil
}
