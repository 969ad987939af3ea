package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"github.com/lk2023060901/file-service/internal/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	drains  atomic.Int32
	reaps   atomic.Int32
	drained int
	reaped  int
	panicOn string
	block   chan struct{}
}

func (r *fakeRunner) DrainInvalid(ctx context.Context) int {
	r.drains.Add(1)
	if r.panicOn == JobDrain {
		panic("drain exploded")
	}
	return r.drained
}

func (r *fakeRunner) ReapExpired(ctx context.Context) int {
	r.reaps.Add(1)
	if r.block != nil {
		<-r.block
	}
	return r.reaped
}

type recordingMetrics struct {
	metrics.Noop
	mu   sync.Mutex
	runs map[string]int
}

func (m *recordingMetrics) IncJobRuns(job, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[job+"/"+status]++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[key]
}

func newObserved() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.NewFromZap(zap.New(core)), logs
}

func newRedisLocker(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := redis.DefaultConfig()
	cfg.Enabled = true
	cfg.Addrs = []string{mr.Addr()}
	c, err := redis.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(c *Config)
		wantErr bool
	}{
		{name: "default", mut: func(c *Config) {}},
		{name: "five fields", mut: func(c *Config) { c.ReaperSchedule = "0 2 * * *" }},
		{name: "descriptor", mut: func(c *Config) { c.ReaperSchedule = "@daily" }},
		{name: "bad schedule", mut: func(c *Config) { c.ReaperSchedule = "every day" }, wantErr: true},
		{name: "zero interval", mut: func(c *Config) { c.DrainInterval = 0 }, wantErr: true},
		{name: "zero lock ttl", mut: func(c *Config) { c.LockTTL = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_Drain(t *testing.T) {
	log, logs := newObserved()
	m := &recordingMetrics{}
	runner := &fakeRunner{drained: 3}

	s, err := NewScheduler(DefaultConfig(), runner, log, WithMetrics(m))
	require.NoError(t, err)

	assert.Equal(t, 3, s.Drain(context.Background()))
	assert.Equal(t, 1, m.count("drain/ok"))

	entries := logs.FilterMessage("job finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, JobDrain, entries[0].ContextMap()["job"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["deleted"])
}

func TestScheduler_PanicIsContained(t *testing.T) {
	log, logs := newObserved()
	m := &recordingMetrics{}

	s, err := NewScheduler(DefaultConfig(), &fakeRunner{panicOn: JobDrain}, log, WithMetrics(m))
	require.NoError(t, err)

	assert.Zero(t, s.Drain(context.Background()))
	assert.Equal(t, 1, m.count("drain/panic"))
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())
}

func TestScheduler_ReapWithoutLocker(t *testing.T) {
	m := &recordingMetrics{}
	runner := &fakeRunner{reaped: 2}

	s, err := NewScheduler(DefaultConfig(), runner, nil, WithMetrics(m))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Reap(context.Background()))
	assert.Equal(t, int32(1), runner.reaps.Load())
	assert.Equal(t, 1, m.count("reaper/ok"))
}

func TestScheduler_ReapUnderLock(t *testing.T) {
	locker, mr := newRedisLocker(t)
	m := &recordingMetrics{}
	runner := &fakeRunner{reaped: 5}

	s, err := NewScheduler(DefaultConfig(), runner, nil, WithMetrics(m), WithLocker(locker))
	require.NoError(t, err)

	assert.Equal(t, 5, s.Reap(context.Background()))
	assert.False(t, mr.Exists(locker.Key(reaperLockKey)), "lock released after the run")

	// 另一个实例持有锁
	require.NoError(t, mr.Set(locker.Key(reaperLockKey), "other-instance"))
	assert.Zero(t, s.Reap(context.Background()))
	assert.Equal(t, int32(1), runner.reaps.Load())
	assert.Equal(t, 1, m.count("reaper/skipped"))
	assert.True(t, mr.Exists(locker.Key(reaperLockKey)))
}

func TestScheduler_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DrainInterval = 10 * time.Millisecond
	runner := &fakeRunner{}

	s, err := NewScheduler(cfg, runner, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return runner.drains.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runner.reaps.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := runner.drains.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runner.drains.Load(), "no drains after stop")

	s.Stop()
}

func TestScheduler_RestartKeepsOneReaperEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunOnStart = false

	s, err := NewScheduler(cfg, &fakeRunner{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(ctx))
		assert.Len(t, s.cron.Entries(), 1, "start %d", i+1)
		s.Stop()
		assert.Empty(t, s.cron.Entries())
	}
}

func TestScheduler_StopWaitsForRunningJob(t *testing.T) {
	cfg := DefaultConfig()
	runner := &fakeRunner{block: make(chan struct{})}

	s, err := NewScheduler(cfg, runner, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.reaps.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the reaper was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(runner.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestScheduler_NoRunOnStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunOnStart = false
	cfg.DrainInterval = time.Hour
	runner := &fakeRunner{}

	s, err := NewScheduler(cfg, runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	time.Sleep(20 * time.Millisecond)
	cancel()
	s.Stop()

	assert.Zero(t, runner.drains.Load())
	assert.Zero(t, runner.reaps.Load())
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReaperSchedule = "61 * * * * *"
	_, err := NewScheduler(cfg, &fakeRunner{}, nil)
	assert.Error(t, err)
}
