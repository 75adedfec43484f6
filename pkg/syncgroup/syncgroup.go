package syncgroup

import (
	"sync"
	"time"
)

type syncGroupFunc func()

// SyncGroup 是 sync.WaitGroup 的包装器，自动管理 Add() 和 Done()
type SyncGroup struct {
	wg sync.WaitGroup

	sgFuncsMu    sync.Mutex
	sgFuncs      []syncGroupFunc
	runningCount int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数，Run() 时启动
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}
	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	w.sgFuncs = append(w.sgFuncs, fn)
}

// Run 启动所有已添加的 goroutine，并清空待启动列表
func (w *SyncGroup) Run() {
	w.sgFuncsMu.Lock()
	fns := w.sgFuncs
	w.sgFuncs = nil
	w.runningCount += len(fns)
	w.wg.Add(len(fns))
	w.sgFuncsMu.Unlock()

	for _, fn := range fns {
		go func(doFunc syncGroupFunc) {
			defer func() {
				w.sgFuncsMu.Lock()
				w.runningCount--
				w.sgFuncsMu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
}

// Running 返回当前运行中的 goroutine 数量
func (w *SyncGroup) Running() int {
	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	return w.runningCount
}

// Wait 等待所有 goroutine 完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

// WaitTimeout 等待所有 goroutine 完成，最多等待 d；超时返回 false
func (w *SyncGroup) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
