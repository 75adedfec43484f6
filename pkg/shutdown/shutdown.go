package shutdown

import (
	"context"
	"fmt"
	"sync"

	"github.com/betbot/storedemo/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type step struct {
	name    string
	handler Handler
}

// Manager 按注册顺序执行关闭回调。
// 每个回调独立执行：前一个失败（或 panic）不会阻止后续回调。
type Manager struct {
	mu    sync.Mutex
	steps []step
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, handler: handler})
}

// Shutdown 顺序执行所有关闭回调（阻塞调用），返回失败的回调数量。
// ctx 超时后剩余回调会被跳过。
func (m *Manager) Shutdown(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	steps := make([]step, len(m.steps))
	copy(steps, m.steps)
	m.mu.Unlock()

	if len(steps) == 0 {
		logger.Info("没有注册的关闭回调")
		return 0
	}

	logger.Infof("开始关闭，共 %d 个回调", len(steps))

	failed := 0
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			logger.Warnf("关闭超时: %v (跳过剩余 %d 个回调)", err, len(steps)-i)
			return failed + len(steps) - i
		}
		if err := runStep(ctx, s); err != nil {
			failed++
			logger.Warnf("关闭回调失败 %s: %v", s.name, err)
		}
	}
	if failed == 0 {
		logger.Info("所有关闭回调已完成")
	}
	return failed
}

func runStep(ctx context.Context, s step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx)
}
