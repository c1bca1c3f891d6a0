package realtime

import (
	"sync"
	"time"
)

// resettableTimer 单用途的可取消定时器
//
// 每个用途（宽限期、重连）持有一个实例，同一时刻至多一个
// 活动定时器。Arm会替换掉之前未触发的定时器；代数计数保证
// 已停止的定时器即使已经触发也不会执行回调。
type resettableTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Arm 启动（或重启）定时器
func (t *resettableTimer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen

	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		stale := gen != t.gen
		t.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}

// Stop 取消未触发的定时器
func (t *resettableTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}
