package server

import (
	"sync"

	"golang.org/x/time/rate"

	"tradezone/geo"
)

// ConnID 连接标识（握手时分配）
type ConnID string

// PlayerStatus 玩家在线状态
type PlayerStatus string

const (
	StatusOnline  PlayerStatus = "online"
	StatusAway    PlayerStatus = "away"
	StatusBusy    PlayerStatus = "busy"
	StatusTrading PlayerStatus = "trading"
)

func (s PlayerStatus) valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusTrading:
		return true
	}
	return false
}

// Session 单个连接的会话状态。
// 身份字段创建后只读；district 只在 Hub 写锁内修改，location/status 只由本连接的读协程修改。
type Session struct {
	ConnID     ConnID
	PlayerID   string
	PlayerName string
	Level      int
	IsAdmin    bool

	conn    *ClientConn
	limiter *rate.Limiter

	mu       sync.RWMutex
	district geo.District
	location *geo.Coordinate
	status   PlayerStatus
}

// District 当前街区，未定位时为空
func (s *Session) District() geo.District {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.district
}

// Location 最近一次上报的位置
func (s *Session) Location() (geo.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.location == nil {
		return geo.Coordinate{}, false
	}
	return *s.location, true
}

// Status 当前状态
func (s *Session) Status() PlayerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setLocation(c geo.Coordinate) {
	s.mu.Lock()
	s.location = &c
	s.mu.Unlock()
}

func (s *Session) setStatus(st PlayerStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Summary 广播给其他玩家的摘要
func (s *Session) Summary() PlayerSummary {
	return PlayerSummary{
		PlayerID: s.PlayerID,
		Name:     s.PlayerName,
		Level:    s.Level,
		District: s.District(),
	}
}

// allow 单连接事件限流；未配置限流器时放行
func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}
