package state

import "github.com/kbeye/console/internal/model"

// Ring 有界日志环形缓冲
//
// 容量用尽后追加新条目会淘汰最旧的一条，
// 剩余条目的到达顺序保持不变。
type Ring struct {
	entries  []model.LogEntry
	capacity int
	head     int // 最旧条目的下标
	size     int
}

// NewRing 创建指定容量的环形缓冲
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		entries:  make([]model.LogEntry, capacity),
		capacity: capacity,
	}
}

// Append 追加一条日志，必要时淘汰最旧的
func (r *Ring) Append(entry model.LogEntry) {
	tail := (r.head + r.size) % r.capacity
	r.entries[tail] = entry
	if r.size < r.capacity {
		r.size++
	} else {
		// 缓冲已满，最旧的被覆盖
		r.head = (r.head + 1) % r.capacity
	}
}

// Replace 用一批条目重置缓冲内容
//
// 超出容量时只保留最新的capacity条。
func (r *Ring) Replace(entries []model.LogEntry) {
	r.head = 0
	r.size = 0
	start := 0
	if len(entries) > r.capacity {
		start = len(entries) - r.capacity
	}
	for _, e := range entries[start:] {
		r.Append(e)
	}
}

// Len 当前条目数
func (r *Ring) Len() int {
	return r.size
}

// Snapshot 按到达顺序返回所有条目的副本
func (r *Ring) Snapshot() []model.LogEntry {
	out := make([]model.LogEntry, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(r.head+i)%r.capacity])
	}
	return out
}
