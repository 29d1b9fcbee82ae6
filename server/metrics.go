package server

import (
	"sync/atomic"
)

// Metrics 记录运行期的关键指标（用于监控与调试）
type Metrics struct {
	ConnectionsOpened int64 // 认证成功的连接数
	ConnectionsClosed int64 // 已断开的连接数
	AuthFailures      int64 // 握手认证失败数
	EventsHandled     int64 // 处理的入站事件数
	EventErrors       int64 // 以 error:* 回送的事件数
	RateLimited       int64 // 因限流被拒绝的事件数
	Panics            int64 // 事件处理中恢复的 panic
	Delivered         int64 // 成功入队的出站帧
	Dropped           int64 // 因发送队列满或连接关闭被丢弃的出站帧
	ActivityFailures  int64 // 活动日志写入失败数
}

func (m *Metrics) IncOpened()           { atomic.AddInt64(&m.ConnectionsOpened, 1) }
func (m *Metrics) IncClosed()           { atomic.AddInt64(&m.ConnectionsClosed, 1) }
func (m *Metrics) IncAuthFailures()     { atomic.AddInt64(&m.AuthFailures, 1) }
func (m *Metrics) IncEvents()           { atomic.AddInt64(&m.EventsHandled, 1) }
func (m *Metrics) IncEventErrors()      { atomic.AddInt64(&m.EventErrors, 1) }
func (m *Metrics) IncRateLimited()      { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) IncPanics()           { atomic.AddInt64(&m.Panics, 1) }
func (m *Metrics) AddDelivered(n int)   { atomic.AddInt64(&m.Delivered, int64(n)) }
func (m *Metrics) AddDropped(n int)     { atomic.AddInt64(&m.Dropped, int64(n)) }
func (m *Metrics) IncActivityFailures() { atomic.AddInt64(&m.ActivityFailures, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	opened := atomic.LoadInt64(&m.ConnectionsOpened)
	closed := atomic.LoadInt64(&m.ConnectionsClosed)
	return map[string]any{
		"connections_opened": opened,
		"connections_closed": closed,
		"connections_live":   opened - closed,
		"auth_failures":      atomic.LoadInt64(&m.AuthFailures),
		"events_handled":     atomic.LoadInt64(&m.EventsHandled),
		"event_errors":       atomic.LoadInt64(&m.EventErrors),
		"rate_limited":       atomic.LoadInt64(&m.RateLimited),
		"panics":             atomic.LoadInt64(&m.Panics),
		"delivered":          atomic.LoadInt64(&m.Delivered),
		"dropped":            atomic.LoadInt64(&m.Dropped),
		"activity_failures":  atomic.LoadInt64(&m.ActivityFailures),
	}
}
