package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/pkg/goplus"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Leadership 调度器依赖的选主接口
type Leadership interface {
	Verify(ctx context.Context) bool
	LeadershipContext() context.Context
}

// Job 周期任务，必须幂等
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler 仅在 leader 上执行的定时任务
// 每次执行前重新校验租约，任期结束时正在执行的任务被取消
type Scheduler struct {
	leader Leadership
	jobs   []Job

	mu      sync.Mutex
	running map[string]bool

	group *goplus.WaitGroup
	done  chan struct{}
	log   zerolog.Logger
}

func New(leader Leadership) *Scheduler {
	return &Scheduler{
		leader:  leader,
		running: make(map[string]bool),
		group:   goplus.NewWaitGroup(),
		done:    make(chan struct{}),
		log:     logger.Component("scheduler"),
	}
}

// Register 注册任务，需在 Start 之前调用
func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 {
		job.Interval = time.Minute
	}
	s.jobs = append(s.jobs, job)
}

// Jobs 已注册任务名
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Start 每个任务一个 ticker
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		job := job
		s.group.Go(func() {
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			s.log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")
			for {
				select {
				case <-ticker.C:
					_, _ = s.run(job)
				case <-s.done:
					return
				}
			}
		})
	}
}

// Stop 停止调度并等待执行中的任务返回
func (s *Scheduler) Stop() {
	close(s.done)
	s.group.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow 立即执行一次指定任务，非 leader 时不执行
func (s *Scheduler) RunNow(name string) (bool, error) {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.run(job)
		}
	}
	return false, errors.Errorf("unknown job %q", name)
}

func (s *Scheduler) run(job Job) (bool, error) {
	if !s.begin(job.Name) {
		monitor.IncJobRun(job.Name, "overlap")
		return false, nil
	}
	defer s.end(job.Name)

	if !s.leader.Verify(context.Background()) {
		monitor.IncJobRun(job.Name, "skipped")
		return false, nil
	}

	ctx := s.leader.LeadershipContext()
	start := time.Now()
	err := job.Run(ctx)
	switch {
	case err == nil:
		monitor.IncJobRun(job.Name, "ok")
		s.log.Debug().Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("job finished")
	case ctx.Err() != nil:
		monitor.IncJobRun(job.Name, "cancelled")
		s.log.Warn().Err(err).Str("job", job.Name).Msg("job cancelled, leadership lost")
	default:
		monitor.IncJobRun(job.Name, "error")
		s.log.Error().Err(err).Str("job", job.Name).Msg("job failed")
	}
	return true, err
}

func (s *Scheduler) begin(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) end(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}
