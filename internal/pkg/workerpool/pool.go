package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolBusy   = errors.New("worker pool is overloaded")
)

// ============= 配置 =============

// Config Worker Pool 配置
type Config struct {
	Workers          int           `mapstructure:"workers"`            // worker 数量
	MaxBlockingTasks int           `mapstructure:"max_blocking_tasks"` // 等待空闲 worker 的最大任务数，0 表示不限制
	ExpiryDuration   time.Duration `mapstructure:"expiry_duration"`    // 空闲 worker 回收时间
	ReleaseTimeout   time.Duration `mapstructure:"release_timeout"`    // 关闭时等待运行中任务的时间
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:          16,
		MaxBlockingTasks: 0,
		ExpiryDuration:   time.Second,
		ReleaseTimeout:   10 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxBlockingTasks < 0 {
		return fmt.Errorf("max_blocking_tasks must not be negative")
	}
	return nil
}

// ============= Worker Pool =============

// Pool 基于 ants 的 goroutine 池，用于并发处理上传等请求内扇出任务
type Pool struct {
	pool   *ants.Pool
	config *Config
	logger *zap.Logger
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		config: config,
		logger: logger.Named("workerpool"),
	}

	opts := []ants.Option{
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			p.logger.Error("worker panic", zap.Any("error", r))
		}),
	}
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool

	return p, nil
}

// Submit 提交任务，池满时阻塞直到有空闲 worker
func (p *Pool) Submit(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		return translate(err)
	}
	return nil
}

// ForEach 并发执行 fn(0..n-1) 并等待全部完成。
// 提交失败的下标在调用方 goroutine 中同步执行，保证每个下标恰好执行一次。
// fn 内的 panic 会被转换为对应下标的 error。
func (p *Pool) ForEach(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		run := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("task panic", zap.Int("index", i), zap.Any("error", r))
					errs[i] = fmt.Errorf("task %d panicked: %v", i, r)
				}
			}()
			errs[i] = fn(i)
		}
		if err := p.Submit(run); err != nil {
			p.logger.Warn("submit failed, running inline", zap.Int("index", i), zap.Error(err))
			run()
		}
	}

	wg.Wait()
	return errs
}

func translate(err error) error {
	switch {
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	case errors.Is(err, ants.ErrPoolOverload):
		return ErrPoolBusy
	default:
		return err
	}
}

// Shutdown 关闭，等待运行中的任务最多 ReleaseTimeout
func (p *Pool) Shutdown() {
	if p.config.ReleaseTimeout > 0 {
		if err := p.pool.ReleaseTimeout(p.config.ReleaseTimeout); err != nil {
			p.logger.Warn("worker pool release timed out", zap.Error(err))
		}
		return
	}
	p.pool.Release()
}
