package goplus

import (
	"sync"
	"sync/atomic"
)

var (
	defaultGroup     *WaitGroup
	defaultGroupOnce sync.Once
)

func DefaultGroup() *WaitGroup {
	defaultGroupOnce.Do(func() {
		defaultGroup = NewWaitGroup()
	})
	return defaultGroup
}

// Go 在默认分组中启动带 panic 保护的 goroutine
func Go(fn func()) {
	DefaultGroup().Go(fn)
}

func Wait() {
	DefaultGroup().Wait()
}

type WaitGroup struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

func NewWaitGroup() *WaitGroup {
	return &WaitGroup{}
}

func (s *WaitGroup) Go(fn func()) {
	s.running.Add(1)
	s.wg.Add(1)

	go func() {
		defer Recover()
		defer func() {
			s.running.Add(-1)
			s.wg.Done()
		}()

		fn()
	}()
}

// Running 当前运行中的 goroutine 数量
func (s *WaitGroup) Running() int64 {
	return s.running.Load()
}

func (s *WaitGroup) Wait() {
	s.wg.Wait()
}
