// Package offload moves blocking persistence calls off request goroutines
// onto a small, fixed set of worker goroutines.
//
// Each worker owns one lane (a buffered channel). Tasks on the same lane run
// strictly in submission order. Callers that need their submissions ordered
// relative to each other pin them to a lane with WithLane; untagged tasks are
// spread round-robin.
package offload

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"go.uber.org/zap"
)

var (
	// ErrExecutorClosed is returned for work submitted after Shutdown.
	ErrExecutorClosed = errors.New("offload: executor is closed")
)

// PanicError carries a panic recovered inside offloaded work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("offload: task panicked: %v", e.Value)
}

// Config 执行器配置
type Config struct {
	Workers   int `mapstructure:"workers"`    // worker 数量，每个 worker 一条 lane
	QueueSize int `mapstructure:"queue_size"` // 每条 lane 的缓冲大小
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:   1,
		QueueSize: 1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("offload workers must be positive")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("offload queue_size must not be negative")
	}
	return nil
}

type task struct {
	ctx context.Context
	run func(ctx context.Context)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics records task outcomes.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Executor runs submitted work on dedicated worker goroutines.
type Executor struct {
	lanes []chan task
	next  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	logger  *zap.Logger
	metrics metrics.Metrics
}

// New 创建执行器并启动 worker
func New(cfg *Config, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		lanes:   make([]chan task, cfg.Workers),
		logger:  logger.Named("offload"),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}

	for i := range e.lanes {
		e.lanes[i] = make(chan task, cfg.QueueSize)
		e.wg.Add(1)
		go e.worker(i, e.lanes[i])
	}

	e.logger.Info("offload executor started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))
	return e, nil
}

func (e *Executor) worker(id int, lane <-chan task) {
	defer e.wg.Done()
	for t := range lane {
		t.run(t.ctx)
	}
	e.logger.Debug("offload worker stopped", zap.Int("worker", id))
}

type laneKey struct{}

// WithLane pins every task submitted with the returned context to the same
// lane, so they complete in submission order.
func WithLane(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, laneKey{}, key)
}

func (e *Executor) pick(ctx context.Context) chan task {
	if len(e.lanes) == 1 {
		return e.lanes[0]
	}
	if key, ok := ctx.Value(laneKey{}).(string); ok {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		return e.lanes[h.Sum32()%uint32(len(e.lanes))]
	}
	n := e.next.Add(1) - 1
	return e.lanes[n%uint64(len(e.lanes))]
}

// enqueue blocks while the lane is full unless ctx is done first.
func (e *Executor) enqueue(ctx context.Context, t task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrExecutorClosed
	}

	select {
	case e.pick(ctx) <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, lets queued and running tasks finish and
// waits for every worker to exit. It is safe to call more than once.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, lane := range e.lanes {
		close(lane)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("offload executor stopped")
}

// Future is the handle for a submitted computation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the work has finished. There is no timeout.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// GetContext is Get bounded by ctx. Giving up does not cancel the work.
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit schedules fn on the executor and returns its future. Errors and
// panics raised by fn, as well as rejection by a closed executor, are
// delivered through the future.
func Submit[T any](e *Executor, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()

	t := task{
		ctx: ctx,
		run: func(ctx context.Context) {
			value, err := call(e, ctx, fn)
			f.complete(value, err)
		},
	}

	if err := e.enqueue(ctx, t); err != nil {
		e.metrics.IncOffloadTasks(metrics.StatusRejected)
		var zero T
		f.complete(zero, err)
	}
	return f
}

// Run is Submit for work that produces no value.
func Run(e *Executor, ctx context.Context, fn func(ctx context.Context) error) *Future[struct{}] {
	return Submit(e, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

func call[T any](e *Executor, ctx context.Context, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = &PanicError{Value: r, Stack: stack}
			e.metrics.IncOffloadTasks(metrics.StatusPanic)
			e.logger.Error("offloaded task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", stack))
		}
	}()

	value, err = fn(ctx)
	if err != nil {
		e.metrics.IncOffloadTasks(metrics.StatusFailed)
	} else {
		e.metrics.IncOffloadTasks(metrics.StatusOK)
	}
	return value, err
}
