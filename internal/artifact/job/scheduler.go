package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"github.com/lk2023060901/file-service/internal/pkg/redis"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	JobDrain  = "drain"
	JobReaper = "reaper"

	// reaperLockKey 多副本部署时保证同一时刻只有一个实例在清理
	reaperLockKey = "lock:reaper"
)

// Runner is the lifecycle work the scheduler drives.
// *biz.ArtifactUseCase implements it.
type Runner interface {
	DrainInvalid(ctx context.Context) int
	ReapExpired(ctx context.Context) int
}

// Locker runs fn while holding a cluster wide lock. *redis.Client implements it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Config 调度配置
type Config struct {
	DrainInterval  time.Duration `mapstructure:"drain_interval"`
	ReaperSchedule string        `mapstructure:"reaper_schedule"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

// DefaultConfig 每 5 分钟清理失效队列，每天凌晨 2 点清理过期文件
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:  5 * time.Minute,
		ReaperSchedule: "0 0 2 * * *",
		RunOnStart:     true,
		LockTTL:        30 * time.Minute,
	}
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate 校验配置
func (c *Config) Validate() error {
	if c.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive")
	}
	if _, err := parser.Parse(c.ReaperSchedule); err != nil {
		return fmt.Errorf("invalid reaper_schedule %q: %w", c.ReaperSchedule, err)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	return nil
}

type Option func(*Scheduler)

func WithMetrics(m metrics.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLocker 启用分布式锁；nil 表示单实例部署
func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

// Scheduler drives the invalid-queue drain on a fixed delay and the expiry
// reaper on a cron schedule.
type Scheduler struct {
	cfg     *Config
	runner  Runner
	locker  Locker
	metrics metrics.Metrics
	logger  *logger.Logger

	cron    *cron.Cron
	reaper  cron.EntryID // 当前 Start 注册的条目，Stop 时移除
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler 创建调度器
func NewScheduler(cfg *Config, runner Runner, log *logger.Logger, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Scheduler{
		cfg:     cfg,
		runner:  runner,
		metrics: metrics.Noop{},
		logger:  log.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	return s, nil
}

// Start 启动调度。ctx 取消或调用 Stop 后停止。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(s.cfg.ReaperSchedule, func() { s.Reap(ctx) })
	if err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	s.reaper = id

	s.stopCh = make(chan struct{})
	s.running = true
	s.logger.Info("starting scheduler",
		zap.Duration("drain_interval", s.cfg.DrainInterval),
		zap.String("reaper_schedule", s.cfg.ReaperSchedule),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
		zap.Bool("locked", s.locker != nil),
	)

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Reap(ctx)
		}()
	}

	s.wg.Add(1)
	go s.drainLoop(ctx)

	s.cron.Start()
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	<-s.cron.Stop().Done()
	s.cron.Remove(s.reaper)
	s.wg.Wait()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// drainLoop 固定延迟：上一次执行结束后再等待 DrainInterval
func (s *Scheduler) drainLoop(ctx context.Context) {
	defer s.wg.Done()

	delay := s.cfg.DrainInterval
	if s.cfg.RunOnStart {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Drain(ctx)
			timer.Reset(s.cfg.DrainInterval)
		}
	}
}

// Drain 执行一次失效队列清理，返回删除的元数据条数
func (s *Scheduler) Drain(ctx context.Context) int {
	ctx = offload.WithLane(logger.WithJob(ctx, JobDrain), JobDrain)

	var n int
	err := s.safely(func() { n = s.runner.DrainInvalid(ctx) })
	s.finish(ctx, JobDrain, n, err)
	return n
}

// Reap 执行一次过期清理。配置了 Locker 时，锁被其他实例持有则跳过。
func (s *Scheduler) Reap(ctx context.Context) int {
	ctx = offload.WithLane(logger.WithJob(ctx, JobReaper), JobReaper)

	var n int
	run := func(ctx context.Context) error {
		return s.safely(func() { n = s.runner.ReapExpired(ctx) })
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, reaperLockKey, s.cfg.LockTTL, run)
	} else {
		err = run(ctx)
	}

	if errors.Is(err, redis.ErrLockHeld) {
		s.metrics.IncJobRuns(JobReaper, metrics.StatusSkipped)
		s.logger.WithContext(ctx).Info("reaper skipped, lock held by another instance")
		return 0
	}
	s.finish(ctx, JobReaper, n, err)
	return n
}

func (s *Scheduler) finish(ctx context.Context, job string, n int, err error) {
	log := s.logger.WithContext(ctx)
	if err != nil {
		status := metrics.StatusFailed
		var pe *panicError
		if errors.As(err, &pe) {
			status = metrics.StatusPanic
		}
		s.metrics.IncJobRuns(job, status)
		log.Error("job failed", zap.Error(err))
		return
	}

	s.metrics.IncJobRuns(job, metrics.StatusOK)
	if n > 0 {
		log.Info("job finished", zap.Int("deleted", n))
	} else {
		log.Debug("job finished", zap.Int("deleted", n))
	}
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.value)
}

// safely 任务 panic 不能带崩调度器
func (s *Scheduler) safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	fn()
	return nil
}

// cronLogger adapts the zap sugared logger to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
